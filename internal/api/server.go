package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gateway/internal/audit"
	"gateway/internal/auth"
	"gateway/internal/ratelimit"
	"gateway/pkg/interfaces"
	"gateway/pkg/types"
)

// StatsProvider reports live room counts per namespace
type StatsProvider interface {
	Stats() map[types.Namespace]types.HubStats
}

// HealthChecker reports whether a backing dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RoutePolicy applies an extra limiter to a path prefix
type RoutePolicy struct {
	PathPrefix string
	Policy     *ratelimit.Policy
}

// Options wires the public HTTP surface
type Options struct {
	// Router serves /api/*
	Router http.Handler
	// Realtime maps an upgrade path (/ws/chat) to its handler
	Realtime map[string]http.Handler

	APIPolicy     *ratelimit.Policy
	RoutePolicies []RoutePolicy
	Upgrades      *UpgradeThrottle

	// Verifier and AuditSubjects guard /internal/audit
	Verifier      interfaces.Verifier
	AuditSubjects []string
	Audit         interfaces.AuditStore
	// RateLimitStore is checked by /health when set
	RateLimitStore HealthChecker
	Hubs           StatsProvider
	Gatherer       prometheus.Gatherer

	Origins           *OriginPolicy
	TrustProxyHeaders bool
	Clock             clock.Clock
	Logger            *zap.Logger
}

// Server is the single public listener's handler.
// It owns no business logic: throttling, then routing to the proxy router,
// the realtime handlers or the gateway's own endpoints.
type Server struct {
	router            http.Handler
	apiPolicy         *ratelimit.Policy
	routePolicies     []RoutePolicy
	upgrades          *UpgradeThrottle
	verifier          interfaces.Verifier
	auditSubjects     map[string]bool
	audit             interfaces.AuditStore
	recorder          interfaces.EventRecorder
	rateLimitStore    HealthChecker
	hubs              StatsProvider
	origins           *OriginPolicy
	trustProxyHeaders bool
	clock             clock.Clock
	logger            *zap.Logger
	mux               *http.ServeMux
	handler           http.Handler
}

// NewServer builds the handler chain and routes
func NewServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	if opts.Origins == nil {
		opts.Origins = NewOriginPolicy(nil)
	}
	if opts.Upgrades == nil {
		opts.Upgrades, _ = NewUpgradeThrottle(0, 0)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		router:            opts.Router,
		apiPolicy:         opts.APIPolicy,
		routePolicies:     opts.RoutePolicies,
		upgrades:          opts.Upgrades,
		verifier:          opts.Verifier,
		auditSubjects:     make(map[string]bool, len(opts.AuditSubjects)),
		audit:             opts.Audit,
		recorder:          opts.Audit,
		rateLimitStore:    opts.RateLimitStore,
		hubs:              opts.Hubs,
		origins:           opts.Origins,
		trustProxyHeaders: opts.TrustProxyHeaders,
		clock:             opts.Clock,
		logger:            opts.Logger.Named("api"),
		mux:               http.NewServeMux(),
	}

	for _, subject := range opts.AuditSubjects {
		s.auditSubjects[subject] = true
	}

	s.setupRoutes(opts)
	s.handler = s.recoverMiddleware(s.requestMiddleware(s.corsMiddleware(s.mux)))
	return s
}

func (s *Server) setupRoutes(opts Options) {
	s.mux.Handle("/health", s.jsonMiddleware(http.HandlerFunc(s.healthCheck)))
	s.mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	s.mux.Handle("/internal/audit", s.jsonMiddleware(http.HandlerFunc(s.recentEvents)))

	if s.router != nil {
		s.mux.Handle("/api/", s.throttleMiddleware(s.router))
	}
	for path, handler := range opts.Realtime {
		s.mux.Handle(path, s.upgradeMiddleware(handler))
	}

	s.mux.Handle("/", s.jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, http.StatusNotFound, "not found")
	})))
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) policiesFor(path string) []*ratelimit.Policy {
	policies := make([]*ratelimit.Policy, 0, 2)
	if s.apiPolicy != nil {
		policies = append(policies, s.apiPolicy)
	}
	for _, rp := range s.routePolicies {
		if path == rp.PathPrefix || strings.HasPrefix(path, rp.PathPrefix+"/") {
			policies = append(policies, rp.Policy)
		}
	}
	return policies
}

// GET /health - liveness plus component status. The journal and the shared
// rate limit store degrade the status but never fail the health check.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := types.HealthResponse{
		Status:    "ok",
		Timestamp: s.clock.Now().UTC(),
		Audit:     "ok",
	}
	if _, disabled := s.audit.(audit.Nop); disabled {
		response.Audit = "disabled"
	} else if err := s.audit.HealthCheck(ctx); err != nil {
		response.Status = "degraded"
		response.Audit = "unavailable"
		s.logger.Warn("audit journal health check failed", zap.Error(err))
	}
	if s.rateLimitStore != nil {
		response.RateLimitStore = "ok"
		if err := s.rateLimitStore.HealthCheck(ctx); err != nil {
			response.Status = "degraded"
			response.RateLimitStore = "unavailable"
			s.logger.Warn("rate limit store health check failed", zap.Error(err))
		}
	}
	if s.hubs != nil {
		response.Realtime = s.hubs.Stats()
	}

	s.sendJSON(w, http.StatusOK, response)
}

// RecentEventsResponse is the body of GET /internal/audit
type RecentEventsResponse struct {
	Events []*types.Event `json:"events"`
}

// GET /internal/audit?limit=N - newest journal entries. Requires a Bearer
// credential whose subject is listed in AuditSubjects.
func (s *Server) recentEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	token, fromCookie := auth.TokenFromRequest(r, "")
	if token == "" || fromCookie || s.verifier == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	identity, err := s.verifier.Verify(token)
	if err != nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !s.auditSubjects[identity.SubjectID] {
		s.logger.Warn("audit journal access denied", zap.String("subject", identity.SubjectID))
		s.sendError(w, http.StatusForbidden, "forbidden")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read audit journal", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to read audit journal")
		return
	}
	if events == nil {
		events = []*types.Event{}
	}
	s.sendJSON(w, http.StatusOK, RecentEventsResponse{Events: events})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

// Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, types.ErrorResponse{Error: message})
}
