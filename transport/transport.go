// Package transport implements the three physical carriers DAP messages can
// travel over: a child process's stdio, a plain TCP socket, and a child
// process that itself opens a TCP listener.
package transport

import (
	"context"
	"fmt"

	"github.com/google/go-dap"
)

// ConnectionError signals a transport-level failure: a process failed to
// spawn, a dial failed, or the socket was closed mid-frame. It is fatal to
// whichever session owns this transport; the session cannot continue and
// recovery is a caller concern.
type ConnectionError struct {
	Msg string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dap connection error: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("dap connection error: %s", e.Msg)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func newConnectionError(msg string, err error) *ConnectionError {
	return &ConnectionError{Msg: msg, Err: err}
}

// Transport is the capability a DAP client needs to move framed messages to
// and from an adapter, independent of the physical carrier.
type Transport interface {
	// Connect acquires the underlying byte streams (spawning a process
	// and/or dialing a socket, as the concrete variant requires).
	Connect(ctx context.Context) error

	// Disconnect releases the underlying byte streams and any child
	// process the transport owns. It must be safe to call more than
	// once.
	Disconnect() error

	// Send frames and writes one message.
	Send(msg dap.Message) error

	// Receive blocks until one complete framed message has arrived and
	// returns it decoded.
	Receive() (dap.Message, error)

	// IsConnected reports whether Connect has succeeded and Disconnect
	// has not yet been called.
	IsConnected() bool
}
