package transport

import (
	"context"
	"fmt"
)

// Dialer opens event-stream connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one open event-stream connection. ReadMessage is called from a
// single goroutine and WriteMessage from another; Close may be called
// concurrently with both.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(b []byte) error
	// Close closes the connection. A clean close tells the peer the client
	// is going away on purpose.
	Close(clean bool) error
}

// CloseError is returned by ReadMessage when the connection ends.
type CloseError struct {
	Clean bool
	Code  int
	Err   error
}

func (e *CloseError) Error() string {
	if e.Clean {
		return fmt.Sprintf("connection closed cleanly (code %d)", e.Code)
	}
	return fmt.Sprintf("connection lost (code %d): %v", e.Code, e.Err)
}

func (e *CloseError) Unwrap() error { return e.Err }

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }
