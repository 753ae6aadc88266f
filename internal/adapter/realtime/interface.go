// Package realtime provides the transport to the speech-to-speech model.
package realtime

import "errors"

// ErrClosed is returned by Send and Receive once the transport is closed.
var ErrClosed = errors.New("realtime transport closed")

// Transport is a bidirectional connection to the model carrying JSON events.
type Transport interface {
	// Receive blocks until the next event arrives or the transport closes.
	Receive() ([]byte, error)

	// Send writes one event.
	Send(data []byte) error

	// IsOpen reports whether the transport can still carry events.
	IsOpen() bool

	// Close closes the transport. It is safe to call more than once.
	Close() error
}

// Ensure Client implements Transport interface.
var _ Transport = (*Client)(nil)
