package auth

import (
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"

	"gateway/pkg/types"
)

// gatewayClaims accepts the subject either as "sub" or the identity
// service's "userId" claim
type gatewayClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId,omitempty"`
}

// JWTOptions configures a JWTVerifier
type JWTOptions struct {
	// Secret verifies HS256/384/512 signatures; ignored when Keyfunc is set
	Secret string
	// Keyfunc resolves verification keys, e.g. from a JWKS endpoint
	Keyfunc  jwt.Keyfunc
	Issuer   string
	Audience string
	Clock    clock.Clock
}

// JWTVerifier validates standard signed-claims tokens.
// Expiry is mandatory.
type JWTVerifier struct {
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
}

// NewJWTVerifier builds a verifier from opts
func NewJWTVerifier(opts JWTOptions) (*JWTVerifier, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(opts.Clock.Now),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}

	keyfunc := opts.Keyfunc
	if keyfunc == nil {
		if opts.Secret == "" {
			return nil, fmt.Errorf("jwt verifier needs a secret or a keyfunc")
		}
		secret := []byte(opts.Secret)
		keyfunc = func(*jwt.Token) (interface{}, error) {
			return secret, nil
		}
		parserOpts = append(parserOpts, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	}

	return &JWTVerifier{
		keyfunc: keyfunc,
		parser:  jwt.NewParser(parserOpts...),
	}, nil
}

// Verify parses token and returns the identity it carries
func (v *JWTVerifier) Verify(token string) (*types.Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := &gatewayClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, v.keyfunc)
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	subject := claims.Subject
	if subject == "" {
		subject = claims.UserID
	}
	if subject == "" {
		return nil, ErrMissingSubject
	}

	return &types.Identity{
		SubjectID: subject,
		ExpiresAt: claims.ExpiresAt.Time,
		Scheme:    types.SchemeJWT,
	}, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureMismatch
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}
