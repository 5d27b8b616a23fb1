package http

import (
	"context"
	"net/http"
	"time"

	"github.com/cwrk-planet/chat-relay/internal/domain"
	"github.com/cwrk-planet/chat-relay/pkg/logger"

	"github.com/go-chi/chi/v5"
)

const banner = "chat-relay: anonymous room chat. Connect to /ws, read history at /api/messages/{roomId}.\n"

type HistoryLoader interface {
	Load(ctx context.Context, roomID string) ([]domain.WireMessage, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	history HistoryLoader
	store   Pinger
}

func NewHandler(history HistoryLoader, store Pinger) *Handler {
	return &Handler{history: history, store: store}
}

// GET /
func (h *Handler) Index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(banner))
}

// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// GET /readyz
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		logger.FromContext(ctx).Warn("handler.Readyz: store ping failed", "err", err)
		writeJSON(ctx, w, http.StatusServiceUnavailable, ErrorResponse{Error: "store unavailable"})
		return
	}
	writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "ready"})
}

// GET /api/messages/{roomId}
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID := chi.URLParam(r, "roomId")

	items, err := h.history.Load(ctx, roomID)
	if err != nil {
		logger.FromContext(ctx).Error("handler.GetMessages", "room", roomID, "err", err)
		status := statusFor(err)
		if status == http.StatusBadRequest {
			writeJSON(ctx, w, status, ErrorResponse{Error: "invalid room id"})
			return
		}
		// store details stay in the log
		writeJSON(ctx, w, http.StatusInternalServerError, ErrorResponse{Error: "failed to load messages"})
		return
	}
	writeJSON(ctx, w, http.StatusOK, items)
}
