package grpcx

import (
	"context"
	"errors"
	"time"

	"github.com/cwrk-planet/chat-relay/internal/domain"
	"github.com/cwrk-planet/chat-relay/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type HistoryLoader interface {
	Load(ctx context.Context, roomID string) ([]domain.WireMessage, error)
}

type Server struct {
	history HistoryLoader
}

func NewServer(history HistoryLoader) *Server {
	return &Server{history: history}
}

// New builds a grpc.Server with the history and health services registered.
func New(history HistoryLoader) (*grpc.Server, *health.Server) {
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(defaultCallTimeout)),
		grpc.ChainStreamInterceptor(StreamServerInterceptor()),
	)
	RegisterHistoryServer(gs, NewServer(history))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(HistoryServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return gs, hs
}

func (s *Server) Load(ctx context.Context, in *wrapperspb.StringValue) (*structpb.ListValue, error) {
	items, err := s.history.Load(ctx, in.GetValue())
	if err != nil {
		logger.FromContext(ctx).Error("grpc.Load", "room", in.GetValue(), "err", err)
		return nil, mapErr(err)
	}

	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(items))}
	for _, m := range items {
		st, err := toStruct(m)
		if err != nil {
			logger.FromContext(ctx).Error("grpc.Load: encode", "msg_id", m.ID, "err", err)
			return nil, status.Error(codes.Internal, "failed to load messages")
		}
		out.Values = append(out.Values, structpb.NewStructValue(st))
	}
	return out, nil
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, "invalid room id")
	default:
		return status.Error(codes.Internal, "failed to load messages")
	}
}

// toStruct mirrors the receive_message JSON shape; absent reply fields are null.
func toStruct(m domain.WireMessage) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":                    m.ID,
		"roomId":                m.RoomID,
		"userId":                m.UserID,
		"username":              m.Username,
		"message":               m.Message,
		"timestamp":             m.Timestamp.UTC().Format(time.RFC3339Nano),
		"replyToMessageId":      optional(m.ReplyToMessageID),
		"replyToMessageContent": optional(m.ReplyToMessageContent),
		"replyToUsername":       optional(m.ReplyToUsername),
	})
}

func optional(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
