package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"gateway/pkg/types"
)

// LegacyVerifier checks the hand-rolled triplet token
//
//	base64(header).base64(payload).base64(hmac_sha256(secret, header+"."+payload))
//
// The HMAC is computed over the encoded segments exactly as received and the
// signature segment is compared as text.
type LegacyVerifier struct {
	secret []byte
	clock  clock.Clock
}

// NewLegacyVerifier creates a verifier for tokens signed with secret.
// A nil clock selects the wall clock.
func NewLegacyVerifier(secret string, clk clock.Clock) *LegacyVerifier {
	if clk == nil {
		clk = clock.New()
	}
	return &LegacyVerifier{secret: []byte(secret), clock: clk}
}

// Verify validates the signature and expiry of a triplet token
func (v *LegacyVerifier) Verify(token string) (*types.Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, ErrMalformedToken
	}

	expected := legacySignature(v.secret, parts[0], parts[1])
	if subtle.ConstantTimeCompare([]byte(expected), []byte(parts[2])) != 1 {
		return nil, ErrSignatureMismatch
	}

	if _, err := decodeSegment(parts[0]); err != nil {
		return nil, ErrMalformedToken
	}
	raw, err := decodeSegment(parts[1])
	if err != nil {
		return nil, ErrMalformedToken
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrMalformedToken
	}

	exp, ok := payload["exp"].(float64)
	if !ok {
		return nil, fmt.Errorf("%w: exp claim missing", ErrMalformedToken)
	}
	identity := &types.Identity{
		ExpiresAt: time.Unix(int64(exp), 0),
		Scheme:    types.SchemeLegacy,
	}
	if identity.Expired(v.clock.Now()) {
		return nil, ErrTokenExpired
	}

	identity.SubjectID = legacySubject(payload)
	if identity.SubjectID == "" {
		return nil, ErrMissingSubject
	}
	return identity, nil
}

func legacySignature(secret []byte, header, payload string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(header + "." + payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// decodeSegment accepts standard base64 with or without padding
func decodeSegment(seg string) ([]byte, error) {
	if data, err := base64.StdEncoding.DecodeString(seg); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(seg)
}

func legacySubject(payload map[string]any) string {
	for _, claim := range []string{"sub", "userId", "id"} {
		switch v := payload[claim].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// SignLegacy produces a triplet token over claims.
// Issuance belongs to the identity service; this exists for tests and local tooling.
func SignLegacy(secret string, claims map[string]any) (string, error) {
	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to encode claims: %w", err)
	}
	h := base64.StdEncoding.EncodeToString(header)
	p := base64.StdEncoding.EncodeToString(payload)
	return h + "." + p + "." + legacySignature([]byte(secret), h, p), nil
}
