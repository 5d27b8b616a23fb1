package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwrk-planet/chat-relay/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// socketPair returns the server side of a live websocket.
func socketPair(t *testing.T) *websocket.Conn {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- c
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case c := <-accepted:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("upgrade did not complete")
		return nil
	}
}

func sampleMessage() domain.Message {
	return domain.Message{
		ID: "m1", RoomID: "r1", UserID: "u1", Username: "A", Body: "hello",
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWsConn_DeliverQueuesFrame(t *testing.T) {
	c := newWsConn("c1", socketPair(t), 1)
	require.NoError(t, c.Deliver(sampleMessage()))

	var env struct {
		Event string             `json:"event"`
		Data  domain.WireMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(<-c.out, &env))
	assert.Equal(t, EventReceiveMessage, env.Event)
	assert.Equal(t, "m1", env.Data.ID)
	assert.Equal(t, "hello", env.Data.Message)
}

func TestWsConn_DeliverFullBufferIsSlowConsumer(t *testing.T) {
	c := newWsConn("c1", socketPair(t), 1)

	require.NoError(t, c.Deliver(sampleMessage()))
	assert.ErrorIs(t, c.Deliver(sampleMessage()), ErrSlowConsumer)
	assert.Len(t, c.out, 1)
}

func TestWsConn_DeliverAfterClose(t *testing.T) {
	c := newWsConn("c1", socketPair(t), 4)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Deliver(sampleMessage()), ErrConnClosed)
	assert.Empty(t, c.out)

	// second Close is a no-op
	assert.NoError(t, c.Close())
}
