package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed rejects pending Connect calls when Disconnect is called.
	ErrClosed = errors.New("transport closed")
	// ErrClosedByPeer rejects pending Connect calls after a clean close from
	// the server.
	ErrClosedByPeer = errors.New("connection closed by peer")
	// ErrReconnectExhausted is wrapped by the TransportError produced when
	// the attempt cap is reached.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrNotConnected is returned by Send outside the Connected state.
	ErrNotConnected = errors.New("not connected")
	// ErrSendBufferFull is returned by Send when the outgoing buffer is full.
	ErrSendBufferFull = errors.New("send buffer full")
)

// TransportError reports a socket failure or reconnect exhaustion. The
// transport stays usable: a manual Connect starts over.
type TransportError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("transport %s after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
