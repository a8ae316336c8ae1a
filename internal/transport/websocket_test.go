package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/vidscribe/internal/events"
)

func TestCloseErrorFrom(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		clean bool
		code  int
	}{
		{"normal closure", &websocket.CloseError{Code: websocket.CloseNormalClosure}, true, 1000},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, false, 1001},
		{"abnormal", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, false, 1006},
		{"plain io error", errors.New("read: connection reset"), false, 1006},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := closeErrorFrom(tt.err)
			assert.Equal(t, tt.clean, ce.Clean)
			assert.Equal(t, tt.code, ce.Code)
			assert.ErrorIs(t, ce, tt.err)
		})
	}
}

// TestWebsocketEndToEnd drives a Transport against a real gorilla server:
// one frame is delivered, the server drops the first connection, the client
// reconnects, and a manual disconnect sends a normal closure.
func TestWebsocketEndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- c
	}))
	defer srv.Close()

	rec := &recorder{}
	tr := New(Options{
		Dialer: WSDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"},
		Policy: ReconnectPolicy{Base: 10 * time.Millisecond, Multiplier: 2, Cap: 50 * time.Millisecond, MaxAttempts: 5},
	}, rec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	require.NoError(t, tr.Connect(ctx))
	server := <-conns

	frame, err := events.Encode(events.ProcessingUpdate{ID: "abc", Progress: 30})
	require.NoError(t, err)
	require.NoError(t, server.WriteMessage(websocket.TextMessage, frame))
	require.Eventually(t, func() bool {
		for _, k := range rec.kinds() {
			if k == events.KindProcessingUpdate {
				return true
			}
		}
		return false
	}, waitFor, tick)

	// An abrupt close is unclean and triggers a reconnect.
	server.Close()
	var second *websocket.Conn
	select {
	case second = <-conns:
	case <-time.After(waitFor):
		t.Fatal("client did not reconnect")
	}
	require.Eventually(t, func() bool { return tr.State() == Connected }, waitFor, tick)

	require.NoError(t, tr.Send(events.SystemAlert{Level: "info", Message: "ping"}))
	_ = second.SetReadDeadline(time.Now().Add(waitFor))
	mt, b, err := second.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Contains(t, string(b), `"system_alert"`)

	tr.Disconnect()
	_, _, err = second.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Equal(t, Disconnected, tr.State())
}

func TestWSDialerFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := WSDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}.Dial(context.Background())
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "dial", terr.Op)
	assert.Contains(t, err.Error(), "404")
}
