package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is one encoded outbound event.
type Frame []byte

// ConnID is the opaque handle of one transport connection.
type ConnID string

// SignalConnection abstracts the messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues without blocking. It returns ErrBackpressure when the
	// outbound queue is full and ErrConnClosed after Close.
	TrySend(Frame) error
	Close()
}
