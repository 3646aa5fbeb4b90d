package hub

import "errors"

// Hub-related errors
var (
	ErrHubClosed     = errors.New("hub closed")
	ErrRoomClosed    = errors.New("room closed")
	ErrNilConnection = errors.New("connection cannot be nil")
	ErrNotMember     = errors.New("connection is not a member of the room")

	ErrUnknownNamespace = errors.New("unknown realtime namespace")
)
