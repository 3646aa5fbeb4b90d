package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"strconv"

	"go.uber.org/zap"

	"gateway/internal/auth"
	"gateway/internal/metrics"
	"gateway/pkg/interfaces"
	"gateway/pkg/types"
)

// Options wires a Router
type Options struct {
	Table      *Table
	Verifier   *auth.Verifier
	CookieName string
	Transport  http.RoundTripper
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Recorder   interfaces.EventRecorder
}

// Router dispatches public API requests to upstream services.
// Authentication is decided before any upstream round-trip, and every proxied
// request makes exactly one attempt.
type Router struct {
	table      *Table
	verifier   *auth.Verifier
	cookieName string
	proxies    map[string]*httputil.ReverseProxy
	logger     *zap.Logger
	metrics    *metrics.Metrics
	recorder   interfaces.EventRecorder
}

// New builds one reverse proxy per route sharing a single transport
func New(opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}

	r := &Router{
		table:      opts.Table,
		verifier:   opts.Verifier,
		cookieName: opts.CookieName,
		proxies:    make(map[string]*httputil.ReverseProxy, len(opts.Table.routes)),
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		recorder:   opts.Recorder,
	}
	for _, route := range opts.Table.routes {
		r.proxies[route.PathPrefix] = r.newProxy(route, opts.Transport)
	}
	return r
}

func (r *Router) newProxy(route *Route, transport http.RoundTripper) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		// Rewrite starts from a copy without hop-by-hop or forwarding headers;
		// SetURL points the request at the upstream and drops the inbound Host.
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = route.stripPrefix(pr.In.URL.Path)
			if pr.In.URL.RawPath != "" {
				pr.Out.URL.RawPath = route.stripPrefix(pr.In.URL.RawPath)
			}
			pr.SetURL(route.Target)
			copyForwardingHeaders(pr.Out.Header, pr.In.Header)
		},
		Transport: transport,
		ErrorLog:  zap.NewStdLog(r.logger.With(zap.String("service", route.Service))),
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			r.upstreamFailed(w, req, route, err)
		},
	}
}

// ServeHTTP matches, authenticates and proxies one request
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	route, ok := r.table.Match(req.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, ErrNoRoute.Error())
		return
	}

	if route.RequiresAuth {
		identity, err := r.authenticate(req)
		if err != nil {
			r.logger.Debug("rejected unauthenticated request",
				zap.String("service", route.Service),
				zap.String("path", req.URL.Path),
				zap.String("request_id", types.RequestIDFrom(req.Context())),
				zap.Error(err))
			r.record(types.Event{
				Kind:       types.EventAuthRejected,
				Subject:    route.Service,
				Detail:     auth.Reason(err),
				RemoteAddr: types.ClientAddrFrom(req.Context()),
			})
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		req = req.WithContext(types.WithIdentity(req.Context(), identity))
	}

	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	r.proxies[route.PathPrefix].ServeHTTP(recorder, req)
	r.metrics.ProxyRequests.WithLabelValues(route.Service, strconv.Itoa(recorder.status)).Inc()
}

// authenticate verifies the request credential. Bearer tokens may use either
// scheme; the cookie only ever carries the legacy token.
func (r *Router) authenticate(req *http.Request) (*types.Identity, error) {
	token, fromCookie := auth.TokenFromRequest(req, r.cookieName)
	if token == "" {
		return nil, auth.ErrMissingToken
	}
	if fromCookie {
		return r.verifier.VerifyLegacy(token)
	}
	return r.verifier.Verify(token)
}

// Forwarding headers reach the upstream exactly as the client sent them
var forwardingHeaders = []string{"X-Forwarded-For", "X-Forwarded-Host", "X-Forwarded-Proto", "Forwarded"}

func copyForwardingHeaders(dst, src http.Header) {
	for _, key := range forwardingHeaders {
		if values, ok := src[key]; ok {
			dst[key] = append([]string(nil), values...)
		}
	}
}

func (r *Router) upstreamFailed(w http.ResponseWriter, req *http.Request, route *Route, err error) {
	if errors.Is(err, context.Canceled) && req.Context().Err() != nil {
		// Client went away; the upstream call was cancelled with it
		r.logger.Debug("client disconnected during proxy",
			zap.String("service", route.Service), zap.String("path", req.URL.Path))
		w.WriteHeader(499)
		return
	}

	reason := failureReason(err)
	fields := []zap.Field{
		zap.String("service", route.Service),
		zap.String("upstream", route.Target.Host),
		zap.String("path", req.URL.Path),
		zap.String("reason", reason),
		zap.String("request_id", types.RequestIDFrom(req.Context())),
	}
	if identity := types.IdentityFrom(req.Context()); identity != nil {
		fields = append(fields, zap.String("subject", identity.SubjectID))
	}

	r.metrics.UpstreamErrors.WithLabelValues(route.Service).Inc()
	// The cause names upstream addresses, so it goes to the log only
	r.logger.Warn("upstream unavailable",
		append(fields, zap.Error(fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)))...)
	r.record(types.Event{
		Kind:       types.EventUpstreamUnavailable,
		Subject:    route.Service,
		Detail:     reason,
		RemoteAddr: types.ClientAddrFrom(req.Context()),
	})

	writeError(w, http.StatusServiceUnavailable, route.Service+" service unavailable")
}

func (r *Router) record(event types.Event) {
	if r.recorder != nil {
		r.recorder.Record(event)
	}
}

// Table returns the routing table
func (r *Router) Table() *Table {
	return r.table
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: message})
}

// statusRecorder captures the status code written by the proxy
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach Flush on the underlying writer
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
