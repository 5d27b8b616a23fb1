package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cwrk-planet/chat-relay/pkg/logger"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// RequestLogger puts a request-scoped logger (req_id, method, path) into the
// context and logs one line per request once the handler returns.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		l := logger.L().With(
			slog.String("req_id", chimw.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		ctx := logger.WithLogger(r.Context(), l)

		// the wrapper keeps http.Hijacker for websocket upgrades
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		l.LogAttrs(ctx, level, "http_request",
			slog.Int("status", status),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote_ip", r.RemoteAddr),
			slog.String("user_agent", r.UserAgent()),
		)
	})
}
