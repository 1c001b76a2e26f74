package core

import "errors"

// ErrConnClosed is returned by TrySend after Close.
var ErrConnClosed = errors.New("connection closed")

// Frame is one encoded text message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks: a full queue is reported as an error.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
