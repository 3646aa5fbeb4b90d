package types

import (
	"time"
)

// Namespace identifies one of the isolated realtime room spaces.
// A room id is only meaningful inside its namespace.
type Namespace string

const (
	NamespaceCanvas Namespace = "canvas"
	NamespaceChat   Namespace = "chat"
)

// Credential schemes accepted by the verifier
const (
	SchemeJWT    = "jwt"
	SchemeLegacy = "legacy"
)

// Identity is the result of a successful credential verification.
// It is never persisted by the gateway.
type Identity struct {
	SubjectID string    `json:"subject_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Scheme    string    `json:"scheme"`
}

// Expired reports whether the identity is past its expiry at the given instant.
// A zero ExpiresAt never expires.
func (i *Identity) Expired(now time.Time) bool {
	if i == nil {
		return true
	}
	if i.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(i.ExpiresAt)
}

// RouteRule maps a public path prefix onto an upstream service.
// Rules are static and loaded at startup; the longest matching prefix wins.
type RouteRule struct {
	Service         string `json:"service"`
	PathPrefix      string `json:"prefix"`
	UpstreamBaseURL string `json:"upstream"`
	RequiresAuth    bool   `json:"requires_auth"`
}

// RateLimitResult is the outcome of a single limiter check
type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"resetTime"`
}

// ErrorResponse is the body of every rejected HTTP request
type ErrorResponse struct {
	Error string `json:"error"`
}

// RateLimitResponse is the body of a 429 answer
type RateLimitResponse struct {
	Error     string    `json:"error"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"resetTime"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status         string                 `json:"status"`
	Timestamp      time.Time              `json:"timestamp"`
	Audit          string                 `json:"audit,omitempty"`
	RateLimitStore string                 `json:"rate_limit_store,omitempty"`
	Realtime       map[Namespace]HubStats `json:"realtime,omitempty"`
}

// HubStats summarises one namespace of the room registry
type HubStats struct {
	Rooms   int `json:"rooms"`
	Members int `json:"members"`
}

// Event kinds written to the audit journal
const (
	EventAuthRejected        = "auth_rejected"
	EventRateLimited         = "rate_limited"
	EventUpstreamUnavailable = "upstream_unavailable"
	EventRoomOpened          = "room_opened"
	EventRoomClosed          = "room_closed"
	EventUpgradeRefused      = "upgrade_refused"
)

// Event is one entry of the gateway audit journal.
// It records gateway decisions only, never relayed frame content.
type Event struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Subject    string    `json:"subject"`
	Detail     string    `json:"detail"`
	RemoteAddr string    `json:"remote_addr"`
	CreatedAt  time.Time `json:"created_at"`
}

// Frame is one WebSocket message relayed verbatim between room members.
// MessageType carries the gorilla/websocket frame type (text or binary).
type Frame struct {
	MessageType int
	Data        []byte
}
