package types

import (
	"fmt"
	"unicode"
)

// MaxRoomIDLength bounds caller-supplied room ids
const MaxRoomIDLength = 256

// ErrInvalidRoomID is returned for missing or unusable room ids
var ErrInvalidRoomID = fmt.Errorf("%w: room id must be 1-%d printable characters", ErrValidation, MaxRoomIDLength)

// ValidateRoomID checks a caller-supplied room id.
// Ids are opaque; only emptiness, length and control characters are rejected.
func ValidateRoomID(id string) error {
	if id == "" || len(id) > MaxRoomIDLength {
		return ErrInvalidRoomID
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return ErrInvalidRoomID
		}
	}
	return nil
}

// IsValidNamespace reports whether ns is one of the known realtime namespaces
func IsValidNamespace(ns Namespace) bool {
	return ns == NamespaceCanvas || ns == NamespaceChat
}
