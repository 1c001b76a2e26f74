package transport

import (
	"context"
	"errors"

	"github.com/dkeye/StudyRoom/internal/protocol"
)

var (
	ErrClosed       = errors.New("transport closed")
	ErrBackpressure = errors.New("send queue full")
)

type State int

const (
	StateConnected State = iota
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Handler receives one envelope on the event loop.
type Handler func(protocol.Envelope)

// Conn is the part of the Transport a room subsystem depends on. All
// handlers and posted functions run on one goroutine, one at a time.
type Conn interface {
	Self() protocol.Peer
	Send(env protocol.Envelope) error
	Subscribe(kind protocol.Kind, h Handler) (cancel func())
	OnStateChange(fn func(State)) (cancel func())
	Post(fn func()) bool
	Do(ctx context.Context, fn func()) error
}
