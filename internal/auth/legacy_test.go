package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway/pkg/types"
)

const testSecret = "shared-secret"

func mockClockAt(t time.Time) *clock.Mock {
	m := clock.NewMock()
	m.Set(t)
	return m
}

func TestLegacyVerifier_Valid(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	verifier := NewLegacyVerifier(testSecret, mockClockAt(now))

	token, err := SignLegacy(testSecret, map[string]any{"userId": "u-42", "exp": now.Add(time.Hour).Unix()})
	require.NoError(t, err)
	assert.Equal(t, types.SchemeLegacy, Shape(token))

	identity, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u-42", identity.SubjectID)
	assert.Equal(t, types.SchemeLegacy, identity.Scheme)
	assert.Equal(t, now.Add(time.Hour).Unix(), identity.ExpiresAt.Unix())
}

func TestLegacyVerifier_SubjectClaims(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	verifier := NewLegacyVerifier(testSecret, mockClockAt(now))
	exp := now.Add(time.Minute).Unix()

	tests := []struct {
		name   string
		claims map[string]any
		want   string
	}{
		{"sub", map[string]any{"sub": "a", "userId": "b", "exp": exp}, "a"},
		{"userId", map[string]any{"userId": "b", "id": "c", "exp": exp}, "b"},
		{"numeric id", map[string]any{"id": 17, "exp": exp}, "17"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := SignLegacy(testSecret, tt.claims)
			require.NoError(t, err)
			identity, err := verifier.Verify(token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, identity.SubjectID)
		})
	}

	token, err := SignLegacy(testSecret, map[string]any{"exp": exp})
	require.NoError(t, err)
	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestLegacyVerifier_Expiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	verifier := NewLegacyVerifier(testSecret, mockClockAt(now))

	expired, err := SignLegacy(testSecret, map[string]any{"sub": "u", "exp": now.Add(-time.Second).Unix()})
	require.NoError(t, err)
	_, err = verifier.Verify(expired)
	assert.ErrorIs(t, err, ErrTokenExpired)

	atBoundary, err := SignLegacy(testSecret, map[string]any{"sub": "u", "exp": now.Unix()})
	require.NoError(t, err)
	_, err = verifier.Verify(atBoundary)
	assert.ErrorIs(t, err, ErrTokenExpired, "valid only while now < exp")

	noExp, err := SignLegacy(testSecret, map[string]any{"sub": "u"})
	require.NoError(t, err)
	_, err = verifier.Verify(noExp)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestLegacyVerifier_WrongSecret(t *testing.T) {
	verifier := NewLegacyVerifier(testSecret, nil)
	token, err := SignLegacy("other-secret", map[string]any{"sub": "u", "exp": time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
	assert.True(t, errors.Is(err, types.ErrAuthentication))
}

func TestLegacyVerifier_Malformed(t *testing.T) {
	verifier := NewLegacyVerifier(testSecret, nil)

	for _, token := range []string{"", "abc", "a.b", "a..c", "a.b.c.d"} {
		_, err := verifier.Verify(token)
		assert.Error(t, err, "token %q", token)
		assert.True(t, errors.Is(err, types.ErrAuthentication))
	}

	// Correctly signed segments that do not decode
	h, p := "!!!", "@@@"
	_, err := verifier.Verify(h + "." + p + "." + legacySignature([]byte(testSecret), h, p))
	assert.ErrorIs(t, err, ErrMalformedToken)

	// Correctly signed payload that is not JSON
	p = base64.StdEncoding.EncodeToString([]byte("not json"))
	h = base64.StdEncoding.EncodeToString([]byte(`{"alg":"HS256"}`))
	_, err = verifier.Verify(h + "." + p + "." + legacySignature([]byte(testSecret), h, p))
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestLegacyVerifier_SingleBitFlipAlwaysFails(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	verifier := NewLegacyVerifier(testSecret, mockClockAt(now))

	token, err := SignLegacy(testSecret, map[string]any{"sub": "user-1", "exp": now.Add(time.Hour).Unix()})
	require.NoError(t, err)
	_, err = verifier.Verify(token)
	require.NoError(t, err)

	original := []byte(token)
	for i := range original {
		for bit := 0; bit < 8; bit++ {
			mutated := make([]byte, len(original))
			copy(mutated, original)
			mutated[i] ^= 1 << bit

			_, err := verifier.Verify(string(mutated))
			if !assert.Error(t, err, "flip of bit %d at offset %d accepted", bit, i) {
				return
			}
		}
	}
}

func TestSignLegacy_UsesPaddedStandardBase64(t *testing.T) {
	token, err := SignLegacy(testSecret, map[string]any{"sub": "u", "exp": 1})
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	assert.Len(t, parts[2], 44)
	assert.True(t, strings.HasSuffix(parts[2], "="))
}
