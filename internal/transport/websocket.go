package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const defaultWriteWait = 10 * time.Second

// WSDialer dials the event stream over a gorilla websocket.
type WSDialer struct {
	URL    string
	Header http.Header
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// WriteWait bounds every write; zero means ten seconds.
	WriteWait time.Duration
}

func (d WSDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, &TransportError{Op: "dial", Err: fmt.Errorf("%s: %s: %w", d.URL, resp.Status, err)}
		}
		return nil, &TransportError{Op: "dial", Err: fmt.Errorf("%s: %w", d.URL, err)}
	}
	wait := d.WriteWait
	if wait <= 0 {
		wait = defaultWriteWait
	}
	return &wsConn{c: c, writeWait: wait}, nil
}

type wsConn struct {
	c         *websocket.Conn
	writeWait time.Duration
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	for {
		mt, b, err := w.c.ReadMessage()
		if err != nil {
			return nil, closeErrorFrom(err)
		}
		if mt == websocket.TextMessage {
			return b, nil
		}
	}
}

func (w *wsConn) WriteMessage(b []byte) error {
	if err := w.c.SetWriteDeadline(time.Now().Add(w.writeWait)); err != nil {
		return err
	}
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) Close(clean bool) error {
	if clean {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.writeWait))
	}
	return w.c.Close()
}

// closeErrorFrom classifies a read error. Only a normal closure counts as
// clean; going-away and abnormal closures trigger reconnects.
func closeErrorFrom(err error) *CloseError {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Clean: ce.Code == websocket.CloseNormalClosure, Code: ce.Code, Err: err}
	}
	return &CloseError{Code: websocket.CloseAbnormalClosure, Err: err}
}
