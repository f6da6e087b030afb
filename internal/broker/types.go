package broker

import (
	"context"
	"errors"

	"pusher/internal/frame"
)

var (
	ErrNotConnected         = errors.New("broker client is not connected")
	ErrMaxReconnectAttempts = errors.New("max reconnect attempts reached")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// HandlerFunc receives every frame delivered on the subscribed topic. Calls
// are sequential for one connection.
type HandlerFunc func(ctx context.Context, raw frame.Raw)
