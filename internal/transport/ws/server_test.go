package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwrk-planet/chat-relay/internal/domain"
	"github.com/cwrk-planet/chat-relay/internal/relay"
	"github.com/cwrk-planet/chat-relay/internal/sqlite"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	url      string
	registry *relay.Registry
	relay    *relay.Dispatcher
	store    *sqlite.MessageRepository
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)

	reg := relay.NewRegistry()
	d := relay.NewDispatcher(reg, store)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()

	srv := httptest.NewServer(http.HandlerFunc(NewServer(d, Config{PingEvery: time.Second, SendBuffer: 8}).HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		_ = store.Close()
	})

	return &harness{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		registry: reg,
		relay:    d,
		store:    store,
	}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.relay.Drain(ctx))
}

func (h *harness) waitMembers(t *testing.T, roomID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.registry.Members(roomID) == n },
		2*time.Second, 5*time.Millisecond)
}

func emit(t *testing.T, c *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, c.WriteJSON(map[string]any{"event": event, "data": data}))
}

type received struct {
	Event string             `json:"event"`
	Data  domain.WireMessage `json:"data"`
}

func receive(t *testing.T, c *websocket.Conn) received {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	var got received
	require.NoError(t, c.ReadJSON(&got))
	return got
}

func TestWS_SendAndReply(t *testing.T) {
	h := newHarness(t)
	a, b := h.dial(t), h.dial(t)

	emit(t, a, EventJoinRoom, "r1")
	emit(t, b, EventJoinRoom, "r1")
	h.waitMembers(t, "r1", 2)

	emit(t, a, EventSendMessage, map[string]string{
		"roomId": "r1", "userId": "u-a", "username": "A", "message": "hello",
	})
	first := receive(t, a)
	assert.Equal(t, EventReceiveMessage, first.Event)
	assert.Equal(t, "hello", first.Data.Message)
	assert.NotEmpty(t, first.Data.ID)
	assert.False(t, first.Data.Timestamp.IsZero())
	assert.Nil(t, first.Data.ReplyToMessageID)
	assert.Equal(t, first, receive(t, b))

	emit(t, b, EventSendMessage, map[string]string{
		"roomId": "r1", "userId": "u-b", "username": "B", "message": "hi A",
		"replyToMessageId": first.Data.ID, "replyToMessageContent": "hello", "replyToUsername": "A",
	})
	reply := receive(t, a)
	require.NotNil(t, reply.Data.ReplyToMessageID)
	assert.Equal(t, first.Data.ID, *reply.Data.ReplyToMessageID)
	assert.Equal(t, "hello", *reply.Data.ReplyToMessageContent)
	assert.Equal(t, "A", *reply.Data.ReplyToUsername)
	assert.Equal(t, reply, receive(t, b))

	h.drain(t)
	rows, err := h.store.Query(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, first.Data.ID, rows[0].ID)
}

func TestWS_RoomsAreIsolated(t *testing.T) {
	h := newHarness(t)
	a, c := h.dial(t), h.dial(t)

	emit(t, a, EventJoinRoom, "r1")
	emit(t, c, EventJoinRoom, "r2")
	h.waitMembers(t, "r1", 1)
	h.waitMembers(t, "r2", 1)

	emit(t, a, EventSendMessage, map[string]string{
		"roomId": "r1", "userId": "u-a", "username": "A", "message": "for r1",
	})
	assert.Equal(t, "for r1", receive(t, a).Data.Message)
	h.drain(t)

	emit(t, c, EventSendMessage, map[string]string{
		"roomId": "r2", "userId": "u-c", "username": "C", "message": "for r2",
	})
	// the first frame c sees is its own
	assert.Equal(t, "for r2", receive(t, c).Data.Message)
}

func TestWS_MalformedFrameKeepsConnection(t *testing.T) {
	h := newHarness(t)
	a := h.dial(t)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("{not json")))
	emit(t, a, "typing", "r1")
	emit(t, a, EventJoinRoom, "r1")
	h.waitMembers(t, "r1", 1)

	emit(t, a, EventSendMessage, map[string]string{
		"roomId": "r1", "userId": "u-a", "username": "A", "message": "still here",
	})
	assert.Equal(t, "still here", receive(t, a).Data.Message)
}

func TestWS_InvalidSendIsDropped(t *testing.T) {
	h := newHarness(t)
	a := h.dial(t)

	emit(t, a, EventJoinRoom, "r1")
	h.waitMembers(t, "r1", 1)
	emit(t, a, EventSendMessage, map[string]string{
		"roomId": "r1", "userId": "u-a", "username": "", "message": "nameless",
	})
	emit(t, a, EventSendMessage, map[string]string{
		"roomId": "r1", "userId": "u-a", "username": "A", "message": "named",
	})
	assert.Equal(t, "named", receive(t, a).Data.Message)

	h.drain(t)
	rows, err := h.store.Query(context.Background(), "r1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestWS_CloseLeavesEveryRoom(t *testing.T) {
	h := newHarness(t)
	a, b := h.dial(t), h.dial(t)

	emit(t, a, EventJoinRoom, "r1")
	emit(t, a, EventJoinRoom, "r2")
	emit(t, b, EventJoinRoom, "r1")
	h.waitMembers(t, "r1", 2)
	h.waitMembers(t, "r2", 1)

	require.NoError(t, a.Close())
	h.waitMembers(t, "r1", 1)
	h.waitMembers(t, "r2", 0)

	emit(t, b, EventSendMessage, map[string]string{
		"roomId": "r1", "userId": "u-b", "username": "B", "message": "anyone?",
	})
	assert.Equal(t, "anyone?", receive(t, b).Data.Message)
}

func TestWS_LeaveRoom(t *testing.T) {
	h := newHarness(t)
	a := h.dial(t)

	emit(t, a, EventJoinRoom, "r1")
	h.waitMembers(t, "r1", 1)
	emit(t, a, EventLeaveRoom, "r1")
	h.waitMembers(t, "r1", 0)
}

func TestReceiveMessageNullReplyFields(t *testing.T) {
	b, err := json.Marshal(Envelope{Event: EventReceiveMessage, Data: domain.NewWireMessage(domain.Message{
		ID: "m1", RoomID: "r1", UserID: "u1", Username: "A", Body: "hello",
	})})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"replyToMessageId":null`)
	assert.Contains(t, string(b), `"replyToUsername":null`)
}

func TestCheckOrigin(t *testing.T) {
	open := checkOrigin(nil)
	allowList := checkOrigin([]string{"http://localhost:3000"})

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://evil.example")
	assert.True(t, open(r))
	assert.False(t, allowList(r))

	r.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, allowList(r))
}
