package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cwrk-planet/chat-relay/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHistory struct {
	items []domain.WireMessage
	err   error
	room  string
}

func (s *stubHistory) Load(_ context.Context, roomID string) ([]domain.WireMessage, error) {
	s.room = roomID
	return s.items, s.err
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func newTestRouter(h *stubHistory, p stubPinger) http.Handler {
	return NewRouter(Deps{
		Handler:     NewHandler(h, p),
		Metrics:     http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		CORSOrigins: []string{"http://localhost:3000"},
	})
}

func do(t *testing.T, h http.Handler, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetMessages(t *testing.T) {
	replyID, replyContent, replyUser := "m1", "hello", "A"
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	hist := &stubHistory{items: []domain.WireMessage{
		{ID: "m1", RoomID: "r1", UserID: "u1", Username: "A", Message: "hello", Timestamp: ts},
		{
			ID: "m2", RoomID: "r1", UserID: "u2", Username: "B", Message: "hi A", Timestamp: ts.Add(time.Second),
			ReplyToMessageID: &replyID, ReplyToMessageContent: &replyContent, ReplyToUsername: &replyUser,
		},
	}}

	rec := do(t, newTestRouter(hist, stubPinger{}), http.MethodGet, "/api/messages/r1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "r1", hist.room)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0]["message"])
	assert.Nil(t, got[0]["replyToMessageId"])
	assert.Contains(t, got[0], "replyToMessageId")
	assert.Equal(t, "m1", got[1]["replyToMessageId"])
	assert.Equal(t, "2024-05-01T12:00:00Z", got[0]["timestamp"])
}

func TestGetMessages_EmptyRoomIsEmptyArray(t *testing.T) {
	rec := do(t, newTestRouter(&stubHistory{items: []domain.WireMessage{}}, stubPinger{}),
		http.MethodGet, "/api/messages/empty", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetMessages_StoreFailure(t *testing.T) {
	hist := &stubHistory{err: fmt.Errorf("store.Query: %w: dial tcp: refused", domain.ErrPersistence)}
	rec := do(t, newTestRouter(hist, stubPinger{}), http.MethodGet, "/api/messages/r1", nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"failed to load messages"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "refused")
}

func TestReadyz(t *testing.T) {
	rec := do(t, newTestRouter(&stubHistory{}, stubPinger{}), http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, newTestRouter(&stubHistory{}, stubPinger{err: errors.New("down")}), http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIndexHealthzMetrics(t *testing.T) {
	r := newTestRouter(&stubHistory{}, stubPinger{})

	rec := do(t, r, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chat-relay")

	rec = do(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(t, r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestCORS(t *testing.T) {
	r := newTestRouter(&stubHistory{items: []domain.WireMessage{}}, stubPinger{})

	rec := do(t, r, http.MethodGet, "/api/messages/r1", map[string]string{"Origin": "http://localhost:3000"})
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, r, http.MethodGet, "/api/messages/r1", map[string]string{"Origin": "http://evil.example"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("x: %w", domain.ErrValidation)))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(domain.ErrConnectivity))
	assert.Equal(t, http.StatusInternalServerError, statusFor(domain.ErrPersistence))
}
