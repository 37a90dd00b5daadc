package link

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketTransport(t *testing.T) {
	pinged := make(chan struct{}, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetPingHandler(func(string) error {
			select {
			case pinged <- struct{}{}:
			default:
			}
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	tr := NewWebSocketTransport("ws" + strings.TrimPrefix(srv.URL, "http"))
	assert.ErrorIs(t, tr.Ping(context.Background()), errNotConnected)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tr.Dial(ctx))
	require.NoError(t, tr.Ping(ctx))

	select {
	case <-pinged:
	case <-time.After(time.Second):
		t.Fatal("server never saw the ping")
	}

	require.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
}

func TestWebSocketTransportDialFailure(t *testing.T) {
	tr := NewWebSocketTransport("ws://127.0.0.1:1/uplink")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, tr.Dial(ctx))
}
