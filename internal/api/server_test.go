package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway/internal/auth"
	"gateway/internal/metrics"
	"gateway/internal/ratelimit"
	"gateway/pkg/types"
)

type mockAuditStore struct {
	mu        sync.Mutex
	events    []types.Event
	healthErr error
}

func (m *mockAuditStore) Record(event types.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockAuditStore) Recent(ctx context.Context, limit int) ([]*types.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Event, 0, len(m.events))
	for i := len(m.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		e := m.events[i]
		out = append(out, &e)
	}
	return out, nil
}

func (m *mockAuditStore) HealthCheck(ctx context.Context) error { return m.healthErr }
func (m *mockAuditStore) Close() error                          { return nil }

func (m *mockAuditStore) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]string, 0, len(m.events))
	for _, e := range m.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type stubStats map[types.Namespace]types.HubStats

func (s stubStats) Stats() map[types.Namespace]types.HubStats { return s }

type testServer struct {
	*Server
	clock   *clock.Mock
	audit   *mockAuditStore
	calls   *atomic.Int32
	metrics *metrics.Metrics
}

type serverOption func(*Options, *ratelimit.Limiter)

func newTestServer(t *testing.T, max int, options ...serverOption) *testServer {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	m := metrics.NewNop()
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Options{Clock: mock, Metrics: m})
	t.Cleanup(func() { _ = limiter.Close() })

	calls := &atomic.Int32{}
	store := &mockAuditStore{}
	opts := Options{
		Router: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
		}),
		APIPolicy: limiter.Policy("api", 15*time.Minute, max),
		Verifier: auth.VerifierFunc(func(token string) (*types.Identity, error) {
			switch token {
			case "good-token":
				return &types.Identity{SubjectID: "ops"}, nil
			case "user-token":
				return &types.Identity{SubjectID: "user-1"}, nil
			}
			return nil, auth.ErrSignatureMismatch
		}),
		AuditSubjects: []string{"ops"},
		Audit:         store,
		Hubs:          stubStats{types.NamespaceChat: {Rooms: 2, Members: 5}},
		Gatherer:      prometheus.NewRegistry(),
		Clock:         mock,
	}
	for _, o := range options {
		o(&opts, limiter)
	}

	return &testServer{Server: NewServer(opts), clock: mock, audit: store, calls: calls, metrics: m}
}

func (ts *testServer) do(method, target string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "192.0.2.1:40000"
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

func fromAddr(addr string) func(*http.Request) {
	return func(r *http.Request) { r.RemoteAddr = addr + ":5555" }
}

func withHeader(key, value string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, 100)

	rec := ts.do(http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body types.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.Audit)
	assert.Empty(t, body.RateLimitStore, "no remote store configured")
	assert.True(t, body.Timestamp.Equal(ts.clock.Now()))
	assert.Equal(t, types.HubStats{Rooms: 2, Members: 5}, body.Realtime[types.NamespaceChat])
}

func TestServer_HealthDegradedJournal(t *testing.T) {
	ts := newTestServer(t, 100)
	ts.audit.healthErr = errors.New("disk I/O error")

	rec := ts.do(http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body types.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "unavailable", body.Audit)
}

type stubHealth struct{ err error }

func (s stubHealth) HealthCheck(context.Context) error { return s.err }

func TestServer_HealthReportsRateLimitStore(t *testing.T) {
	for _, tt := range []struct {
		name   string
		err    error
		status string
		store  string
	}{
		{"reachable", nil, "ok", "ok"},
		{"unreachable", ratelimit.ErrStoreUnavailable, "degraded", "unavailable"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, 100, func(o *Options, _ *ratelimit.Limiter) {
				o.RateLimitStore = stubHealth{err: tt.err}
			})

			rec := ts.do(http.MethodGet, "/health")
			require.Equal(t, http.StatusOK, rec.Code)

			var body types.HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body.Status)
			assert.Equal(t, tt.store, body.RateLimitStore)
		})
	}
}

func TestServer_HealthIsNotThrottled(t *testing.T) {
	ts := newTestServer(t, 1)
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health").Code)
	}
}

func TestServer_APIThrottle(t *testing.T) {
	ts := newTestServer(t, 3)

	for i := 1; i <= 3; i++ {
		rec := ts.do(http.MethodGet, "/api/crm/customers")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, string(rune('0'+3-i)), rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec := ts.do(http.MethodGet, "/api/crm/customers")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, int32(3), ts.calls.Load(), "throttled request must not reach the router")
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	var body types.RateLimitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error)
	assert.Equal(t, 0, body.Remaining)
	assert.True(t, body.ResetTime.Equal(ts.clock.Now().Add(15*time.Minute)))

	assert.Equal(t, []string{types.EventRateLimited}, ts.audit.kinds())
	assert.Equal(t, "192.0.2.1", ts.audit.events[0].RemoteAddr)

	// Another caller has its own bucket
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/crm/customers", fromAddr("192.0.2.2")).Code)

	// A fresh window admits the first caller again
	ts.clock.Add(15 * time.Minute)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/crm/customers").Code)
}

func TestServer_RoutePolicy(t *testing.T) {
	ts := newTestServer(t, 100, func(o *Options, l *ratelimit.Limiter) {
		o.RoutePolicies = []RoutePolicy{{PathPrefix: "/api/auth/login", Policy: l.Policy("login", 15*time.Minute, 1)}}
	})

	assert.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/auth/login").Code)
	rec := ts.do(http.MethodPost, "/api/auth/login")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	// Other paths are only subject to the global policy
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/auth/refresh").Code)
	assert.Equal(t, int32(2), ts.calls.Load())
	assert.Equal(t, "login", ts.audit.events[0].Subject)
}

func TestServer_TrustProxyHeaders(t *testing.T) {
	forwarded := withHeader("X-Forwarded-For", "8.8.4.4")

	t.Run("untrusted", func(t *testing.T) {
		ts := newTestServer(t, 1)
		assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/crm/a").Code)
		// Same socket address, spoofed header: same bucket
		assert.Equal(t, http.StatusTooManyRequests, ts.do(http.MethodGet, "/api/crm/a", forwarded).Code)
	})

	t.Run("trusted", func(t *testing.T) {
		ts := newTestServer(t, 1, func(o *Options, _ *ratelimit.Limiter) { o.TrustProxyHeaders = true })
		assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/crm/a").Code)
		assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/crm/a", forwarded).Code)
		assert.Equal(t, http.StatusTooManyRequests, ts.do(http.MethodGet, "/api/crm/a", forwarded).Code)
	})
}

func TestServer_RequestID(t *testing.T) {
	ts := newTestServer(t, 100)

	rec := ts.do(http.MethodGet, "/health")
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)

	rec = ts.do(http.MethodGet, "/health", withHeader("X-Request-ID", "req-123"))
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestServer_CORS(t *testing.T) {
	ts := newTestServer(t, 100, func(o *Options, _ *ratelimit.Limiter) {
		o.Origins = NewOriginPolicy([]string{"https://app.example.com"})
	})

	rec := ts.do(http.MethodGet, "/health", withHeader("Origin", "https://app.example.com"))
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = ts.do(http.MethodGet, "/health", withHeader("Origin", "https://evil.example.net"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = ts.do(http.MethodOptions, "/api/crm/customers",
		withHeader("Origin", "https://app.example.com"),
		withHeader("Access-Control-Request-Method", "POST"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int32(0), ts.calls.Load(), "preflight must not be proxied")
}

func TestServer_CORSForeignOriginWithCookie(t *testing.T) {
	cookie := func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "token", Value: "legacy-token"})
	}

	// Default policy: a foreign site gets no CORS grant at all
	ts := newTestServer(t, 100)
	rec := ts.do(http.MethodGet, "/api/crm/customers", withHeader("Origin", "https://evil.example"), cookie)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))

	// Wildcard policy: the origin may read public responses but never with credentials
	ts = newTestServer(t, 100, func(o *Options, _ *ratelimit.Limiter) {
		o.Origins = NewOriginPolicy([]string{"*"})
	})
	rec = ts.do(http.MethodGet, "/api/crm/customers", withHeader("Origin", "https://evil.example"), cookie)
	assert.Equal(t, "https://evil.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestServer_RecoversPanics(t *testing.T) {
	ts := newTestServer(t, 100, func(o *Options, _ *ratelimit.Limiter) {
		o.Router = http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	})

	rec := ts.do(http.MethodGet, "/api/crm/customers")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestServer_NotFound(t *testing.T) {
	ts := newTestServer(t, 100)
	rec := ts.do(http.MethodGet, "/nowhere")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rec.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, 100)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/metrics").Code)
}

func TestServer_RecentEvents(t *testing.T) {
	ts := newTestServer(t, 100)
	for _, kind := range []string{types.EventRoomOpened, types.EventRoomClosed, types.EventAuthRejected} {
		ts.audit.Record(types.Event{Kind: kind})
	}

	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/internal/audit").Code)
	assert.Equal(t, http.StatusUnauthorized,
		ts.do(http.MethodGet, "/internal/audit", withHeader("Authorization", "Bearer bad")).Code)
	assert.Equal(t, http.StatusUnauthorized,
		ts.do(http.MethodGet, "/internal/audit", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: "token", Value: "good-token"})
		}).Code)

	assert.Equal(t, http.StatusForbidden,
		ts.do(http.MethodGet, "/internal/audit", withHeader("Authorization", "Bearer user-token")).Code,
		"a valid credential outside the audit subjects is refused")

	bearer := withHeader("Authorization", "Bearer good-token")
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/internal/audit?limit=abc", bearer).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(http.MethodPost, "/internal/audit", bearer).Code)

	rec := ts.do(http.MethodGet, "/internal/audit?limit=2", bearer)
	require.Equal(t, http.StatusOK, rec.Code)

	var body RecentEventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 2)
	assert.Equal(t, types.EventAuthRejected, body.Events[0].Kind)
	assert.Equal(t, types.EventRoomClosed, body.Events[1].Kind)
}

func TestServer_UpgradeThrottle(t *testing.T) {
	var upgrades atomic.Int32
	ts := newTestServer(t, 100, func(o *Options, _ *ratelimit.Limiter) {
		throttle, err := NewUpgradeThrottle(60, 2)
		require.NoError(t, err)
		o.Upgrades = throttle
		o.Realtime = map[string]http.Handler{
			"/ws/chat": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { upgrades.Add(1) }),
		}
	})

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/ws/chat?channelId=general").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/ws/chat?channelId=general").Code)
	assert.Equal(t, http.StatusTooManyRequests, ts.do(http.MethodGet, "/ws/chat?channelId=general").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/ws/chat?channelId=general", fromAddr("192.0.2.50")).Code)
	assert.Equal(t, int32(3), upgrades.Load())

	// Realtime paths are not subject to the API throttle
	assert.Equal(t, int32(0), ts.calls.Load())
}
