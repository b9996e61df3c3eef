package api

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestReadPumpExitsAfterHubStop(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	hub.Stop() // run loop is gone; unregister has no receiver

	serverConns := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	defer ts.Close()

	dial, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	conn := <-serverConns
	c := &wsClient{hub: hub, conn: conn, send: make(chan []byte, 1)}

	exited := make(chan struct{})
	go func() {
		c.readPump()
		close(exited)
	}()

	// Closing the peer makes the pump's read fail; it must still return
	// even though nothing will ever drain unregister.
	dial.Close()

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("readPump did not return after hub stop")
	}
}
