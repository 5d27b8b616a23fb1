package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cwrk-planet/chat-relay/internal/domain"
	"github.com/cwrk-planet/chat-relay/internal/metrics"
	"github.com/cwrk-planet/chat-relay/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MessageQuerier reads the persisted messages of a room.
type MessageQuerier interface {
	Query(ctx context.Context, roomID string) ([]domain.Message, error)
}

type HistoryService struct {
	store  MessageQuerier
	tracer trace.Tracer
}

const tracerName = "github.com/cwrk-planet/chat-relay/internal/service"

type Option func(*HistoryService)

// WithTracerProvider replaces the global provider for history spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *HistoryService) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

func NewHistoryService(store MessageQuerier, opts ...Option) *HistoryService {
	s := &HistoryService{
		store:  store,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the messages of a room oldest first, in the receive_message
// shape. A room nobody wrote to yields an empty, non-nil slice.
func (s *HistoryService) Load(ctx context.Context, roomID string) ([]domain.WireMessage, error) {
	ctx, span := s.tracer.Start(ctx, "history.Load",
		trace.WithAttributes(attribute.String("room_id", roomID)))
	defer span.End()

	if strings.TrimSpace(roomID) == "" {
		metrics.HistoryLoads.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: empty room id", domain.ErrValidation)
	}

	rows, err := s.store.Query(ctx, roomID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		metrics.HistoryLoads.WithLabelValues("error").Inc()
		logger.FromContext(ctx).Error("history.Load: query failed",
			slog.String("room_id", roomID), slog.Any("err", err))
		return nil, fmt.Errorf("store.Query: %w", err)
	}

	out := make([]domain.WireMessage, 0, len(rows))
	for _, m := range rows {
		out = append(out, domain.NewWireMessage(m))
	}
	span.SetAttributes(attribute.Int("messages", len(out)))
	metrics.HistoryLoads.WithLabelValues("ok").Inc()
	return out, nil
}
