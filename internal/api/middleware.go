package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tomasen/realip"
	"go.uber.org/zap"

	"gateway/pkg/types"
)

const maxRequestIDLength = 128

// corsMiddleware answers preflights and echoes allowed origins.
// Credentials are only allowed for trusted origins, never for a wildcard match.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.origins.Allowed(r) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			if s.origins.Credentialed(r) {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			h.Set("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After")
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// jsonMiddleware sets the JSON content type for gateway-owned endpoints
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestMiddleware attaches the request id and caller address to the context
// and logs the outcome of every request.
func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		addr := s.clientAddress(r)
		ctx := types.WithRequestID(r.Context(), requestID)
		ctx = types.WithClientAddr(ctx, addr)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		s.logger.Debug("request completed",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.String("remote_addr", addr),
			zap.Duration("duration", s.clock.Since(start)),
		)
	})
}

// recoverMiddleware turns a handler panic into a 500
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			s.logger.Error("panic in handler",
				zap.Any("panic", rec),
				zap.String("path", r.URL.Path),
				zap.ByteString("stack", debug.Stack()),
			)
			s.sendError(w, http.StatusInternalServerError, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// throttleMiddleware applies the global API policy and then any edge policy
// whose prefix matches. Every answer carries the X-RateLimit headers of the
// last policy checked.
func (s *Server) throttleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := types.ClientAddrFrom(r.Context())

		for _, policy := range s.policiesFor(r.URL.Path) {
			result := policy.Allow(r.Context(), addr)
			setRateLimitHeaders(w, result)
			if !result.Allowed {
				s.rateLimited(w, r, policy.Name(), addr, result)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request, policy, addr string, result types.RateLimitResult) {
	retryAfter := int(result.ResetTime.Sub(s.clock.Now()).Round(time.Second) / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

	s.recorder.Record(types.Event{
		Kind:       types.EventRateLimited,
		Subject:    policy,
		Detail:     r.URL.Path,
		RemoteAddr: addr,
	})

	s.sendJSON(w, http.StatusTooManyRequests, types.RateLimitResponse{
		Error:     "Too many requests, please try again later.",
		Remaining: result.Remaining,
		ResetTime: result.ResetTime.UTC(),
	})
}

func setRateLimitHeaders(w http.ResponseWriter, result types.RateLimitResult) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
}

// upgradeMiddleware throttles WebSocket upgrade attempts per address
func (s *Server) upgradeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := types.ClientAddrFrom(r.Context())
		if !s.upgrades.Allow(addr) {
			s.logger.Debug("upgrade throttled", zap.String("remote_addr", addr))
			s.sendError(w, http.StatusTooManyRequests, "too many connection attempts")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientAddress identifies the caller for rate limiting and audit.
// Forwarding headers are only honoured behind a trusted proxy.
func (s *Server) clientAddress(r *http.Request) string {
	if s.trustProxyHeaders {
		if addr := realip.FromRequest(r); addr != "" {
			return addr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// statusWriter records the response status for request logs
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack exposes the underlying connection to the WebSocket upgrader
func (s *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer
func (s *statusWriter) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
