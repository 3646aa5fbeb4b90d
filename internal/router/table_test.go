package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway/pkg/types"
)

func TestTable_LongestPrefixWins(t *testing.T) {
	table, err := NewTable([]types.RouteRule{
		{Service: "api", PathPrefix: "/api", UpstreamBaseURL: "http://api:1"},
		{Service: "crm", PathPrefix: "/api/crm", UpstreamBaseURL: "http://crm:1"},
		{Service: "reports", PathPrefix: "/api/crm/reports", UpstreamBaseURL: "http://reports:1"},
	})
	require.NoError(t, err)

	tests := []struct {
		path    string
		service string
	}{
		{"/api/crm/reports/q1", "reports"},
		{"/api/crm/reports", "reports"},
		{"/api/crm/customers", "crm"},
		{"/api/crm", "crm"},
		{"/api/crmx", "api"},
		{"/api/erp/orders", "api"},
	}
	for _, tt := range tests {
		route, ok := table.Match(tt.path)
		require.True(t, ok, tt.path)
		assert.Equal(t, tt.service, route.Service, tt.path)
	}

	_, ok := table.Match("/health")
	assert.False(t, ok)

	rules := table.Rules()
	require.Len(t, rules, 3)
	assert.Equal(t, "/api/crm/reports", rules[0].PathPrefix)
}

func TestTable_SegmentBoundary(t *testing.T) {
	table, err := NewTable([]types.RouteRule{
		{Service: "crm", PathPrefix: "/api/crm", UpstreamBaseURL: "http://crm:1"},
	})
	require.NoError(t, err)

	_, ok := table.Match("/api/crmx/customers")
	assert.False(t, ok)
	_, ok = table.Match("/api/cr")
	assert.False(t, ok)
}

func TestTable_Validation(t *testing.T) {
	bad := [][]types.RouteRule{
		{{Service: "x", PathPrefix: "api", UpstreamBaseURL: "http://x:1"}},
		{{Service: "x", PathPrefix: "/", UpstreamBaseURL: "http://x:1"}},
		{{Service: "x", PathPrefix: "/x", UpstreamBaseURL: "ftp://x"}},
		{{Service: "x", PathPrefix: "/x", UpstreamBaseURL: "http://"}},
		{
			{Service: "x", PathPrefix: "/x", UpstreamBaseURL: "http://x:1"},
			{Service: "y", PathPrefix: "/x/", UpstreamBaseURL: "http://y:1"},
		},
	}
	for _, rules := range bad {
		_, err := NewTable(rules)
		assert.ErrorIs(t, err, ErrInvalidRoute, "%+v", rules)
		assert.ErrorIs(t, err, types.ErrValidation)
	}
}

func TestRoute_StripPrefix(t *testing.T) {
	route := &Route{RouteRule: types.RouteRule{PathPrefix: "/api/crm"}}
	assert.Equal(t, "/customers/1", route.stripPrefix("/api/crm/customers/1"))
	assert.Equal(t, "/", route.stripPrefix("/api/crm"))
	assert.Equal(t, "/", route.stripPrefix("/api/crm/"))
}
