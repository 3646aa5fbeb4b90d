package api

import (
	"net/http"
	"strings"
)

// OriginPolicy decides which browser origins may call the gateway and open
// realtime connections. Listed origins, localhost and the gateway's own host
// are trusted with credentials. "*" admits every other origin without them.
type OriginPolicy struct {
	allowed  map[string]bool
	allowAny bool
}

// NewOriginPolicy builds a policy from configured origins
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]bool)}
	for _, origin := range origins {
		trimmed := strings.TrimRight(strings.TrimSpace(origin), "/")
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAny = true
			continue
		}
		p.allowed[trimmed] = true
	}
	return p
}

// Allowed reports whether the request's Origin header is acceptable.
// Requests without an Origin (non-browser clients) are always allowed.
func (p *OriginPolicy) Allowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || p.allowAny {
		return true
	}
	return p.trusted(origin, r.Host)
}

// Credentialed reports whether a browser at the request's Origin may send
// cookies and read the response. A wildcard match never qualifies.
func (p *OriginPolicy) Credentialed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	return origin != "" && p.trusted(origin, r.Host)
}

func (p *OriginPolicy) trusted(origin, host string) bool {
	if p.allowed[origin] {
		return true
	}

	// Any localhost origin for local development
	if strings.HasPrefix(origin, "http://localhost:") || origin == "http://localhost" {
		return true
	}

	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	return origin == "https://"+host || origin == "http://"+host
}
