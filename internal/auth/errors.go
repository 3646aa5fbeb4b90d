package auth

import (
	"errors"
	"fmt"

	"gateway/pkg/types"
)

// Verification errors wrap types.ErrAuthentication
var (
	ErrMissingToken      = fmt.Errorf("%w: missing credential", types.ErrAuthentication)
	ErrMalformedToken    = fmt.Errorf("%w: malformed credential", types.ErrAuthentication)
	ErrSignatureMismatch = fmt.Errorf("%w: signature mismatch", types.ErrAuthentication)
	ErrTokenExpired      = fmt.Errorf("%w: credential expired", types.ErrAuthentication)
	ErrMissingSubject    = fmt.Errorf("%w: credential has no subject", types.ErrAuthentication)
	ErrUnsupportedScheme = fmt.Errorf("%w: credential scheme not configured", types.ErrAuthentication)
	ErrInvalidToken      = fmt.Errorf("%w: invalid credential", types.ErrAuthentication)
	ErrJWKSUnavailable   = errors.New("jwks endpoint unavailable")
)

// Reason maps a verification error onto a short metric label
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "missing"
	case errors.Is(err, ErrMalformedToken):
		return "malformed"
	case errors.Is(err, ErrSignatureMismatch):
		return "signature"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrMissingSubject):
		return "subject"
	case errors.Is(err, ErrUnsupportedScheme):
		return "scheme"
	default:
		return "invalid"
	}
}
