package websocket

import (
	"errors"

	"gateway/pkg/interfaces"
)

// Connection-related errors
var (
	ErrConnectionClosed = interfaces.ErrConnectionClosed
	ErrSendQueueFull    = errors.New("send queue full")
)

// Handler-related errors
var (
	ErrMissingRoomID = errors.New("missing room id")
	ErrMissingToken  = errors.New("credential required to join")
)
