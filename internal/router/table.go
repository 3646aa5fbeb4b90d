package router

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"gateway/pkg/types"
)

// Route is a RouteRule with its parsed upstream
type Route struct {
	types.RouteRule
	Target *url.URL
}

// Table is the ordered routing table consulted once per request.
// Routes are kept longest prefix first so the first match is the most specific.
type Table struct {
	routes []*Route
}

// NewTable validates rules and orders them for matching
func NewTable(rules []types.RouteRule) (*Table, error) {
	routes := make([]*Route, 0, len(rules))
	seen := make(map[string]bool, len(rules))

	for _, rule := range rules {
		if rule.PathPrefix == "" || !strings.HasPrefix(rule.PathPrefix, "/") {
			return nil, fmt.Errorf("%w: prefix %q must start with '/'", ErrInvalidRoute, rule.PathPrefix)
		}
		prefix := strings.TrimRight(rule.PathPrefix, "/")
		if prefix == "" || seen[prefix] {
			return nil, fmt.Errorf("%w: prefix %q is empty or duplicated", ErrInvalidRoute, rule.PathPrefix)
		}
		seen[prefix] = true

		target, err := url.Parse(rule.UpstreamBaseURL)
		if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
			return nil, fmt.Errorf("%w: upstream %q for %q", ErrInvalidRoute, rule.UpstreamBaseURL, rule.PathPrefix)
		}

		rule.PathPrefix = prefix
		routes = append(routes, &Route{RouteRule: rule, Target: target})
	}

	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].PathPrefix) > len(routes[j].PathPrefix)
	})

	return &Table{routes: routes}, nil
}

// Match returns the most specific route for path.
// Prefixes only match on a path segment boundary: /api/crm matches /api/crm
// and /api/crm/x but not /api/crmx.
func (t *Table) Match(path string) (*Route, bool) {
	for _, route := range t.routes {
		if path == route.PathPrefix || strings.HasPrefix(path, route.PathPrefix+"/") {
			return route, true
		}
	}
	return nil, false
}

// Rules returns the table in matching order
func (t *Table) Rules() []types.RouteRule {
	rules := make([]types.RouteRule, len(t.routes))
	for i, route := range t.routes {
		rules[i] = route.RouteRule
	}
	return rules
}

// stripPrefix removes the route prefix, always leaving an absolute path
func (r *Route) stripPrefix(path string) string {
	rest := strings.TrimPrefix(path, r.PathPrefix)
	if rest == "" {
		return "/"
	}
	return rest
}
