package auth

import (
	"net/http"
	"strings"

	"gateway/internal/metrics"
	"gateway/pkg/interfaces"
	"gateway/pkg/types"
)

// VerifierFunc adapts a function to interfaces.Verifier
type VerifierFunc func(token string) (*types.Identity, error)

// Verify calls f(token)
func (f VerifierFunc) Verify(token string) (*types.Identity, error) {
	return f(token)
}

// Shape reports which scheme a token is shaped for.
// Legacy signatures are padded standard base64 of a 32-byte HMAC and therefore
// end in '='; compact JWT segments are unpadded.
func Shape(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) == 3 && strings.HasSuffix(parts[2], "=") {
		return types.SchemeLegacy
	}
	return types.SchemeJWT
}

// Verifier is the single credential contract used by the gateway.
// It dispatches on token shape to the JWT or legacy strategy and counts failures.
type Verifier struct {
	jwt     interfaces.Verifier
	legacy  interfaces.Verifier
	metrics *metrics.Metrics
}

// NewVerifier combines both strategies. Either may be nil, in which case
// tokens of that shape are rejected with ErrUnsupportedScheme.
func NewVerifier(jwtVerifier, legacyVerifier interfaces.Verifier, m *metrics.Metrics) *Verifier {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Verifier{jwt: jwtVerifier, legacy: legacyVerifier, metrics: m}
}

// Verify validates token with the strategy its shape selects
func (v *Verifier) Verify(token string) (*types.Identity, error) {
	if token == "" {
		return nil, v.fail(types.SchemeJWT, ErrMissingToken)
	}
	if Shape(token) == types.SchemeLegacy {
		return v.VerifyLegacy(token)
	}
	return v.run(types.SchemeJWT, v.jwt, token)
}

// VerifyLegacy validates token with the legacy strategy only
func (v *Verifier) VerifyLegacy(token string) (*types.Identity, error) {
	return v.run(types.SchemeLegacy, v.legacy, token)
}

// Legacy exposes the legacy-only path as an interfaces.Verifier
func (v *Verifier) Legacy() interfaces.Verifier {
	return VerifierFunc(v.VerifyLegacy)
}

func (v *Verifier) run(scheme string, strategy interfaces.Verifier, token string) (*types.Identity, error) {
	if strategy == nil {
		return nil, v.fail(scheme, ErrUnsupportedScheme)
	}
	identity, err := strategy.Verify(token)
	if err != nil {
		return nil, v.fail(scheme, err)
	}
	return identity, nil
}

func (v *Verifier) fail(scheme string, err error) error {
	v.metrics.AuthFailures.WithLabelValues(scheme, Reason(err)).Inc()
	return err
}

// TokenFromRequest extracts the credential of an HTTP request.
// A Bearer Authorization header wins over the legacy cookie; fromCookie
// reports which source was used.
func TokenFromRequest(r *http.Request, cookieName string) (token string, fromCookie bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		const prefix = "bearer "
		if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
			return strings.TrimSpace(header[len(prefix):]), false
		}
		return "", false
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}
