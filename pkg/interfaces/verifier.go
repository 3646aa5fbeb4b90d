package interfaces

import "gateway/pkg/types"

// Verifier validates a bearer credential.
// Any structural defect, signature mismatch or expiry yields an error wrapping
// types.ErrAuthentication; there is no partial trust. Verify performs no I/O.
type Verifier interface {
	Verify(token string) (*types.Identity, error)
}
