package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/cwrk-planet/chat-relay/internal/relay"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Config struct {
	PingEvery      time.Duration
	SendBuffer     int
	ReadLimit      int64
	AllowedOrigins []string // empty or "*" allows any origin
}

type Server struct {
	upgrader websocket.Upgrader
	relay    *relay.Dispatcher

	pingEvery  time.Duration
	sendBuffer int
	readLimit  int64
}

func NewServer(d *relay.Dispatcher, cfg Config) *Server {
	if cfg.PingEvery <= 0 {
		cfg.PingEvery = 15 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}

	return &Server{
		relay: d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
		pingEvery:  cfg.PingEvery,
		sendBuffer: cfg.SendBuffer,
		readLimit:  cfg.ReadLimit,
	}
}

// HandleWS serves GET /ws. The connection stays anonymous: rooms are joined
// with join_room frames.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		slog.Warn("ws upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := newWsConn(uuid.NewString(), conn, s.sendBuffer)
	session := s.relay.Connect(c)
	slog.Info("ws connected", "conn", c.id, "remote", r.RemoteAddr)

	go s.writeLoop(c)
	s.readLoop(session, c)

	// disconnect must reach the relay even if the request is gone
	if err := session.Disconnect(context.Background()); err != nil {
		slog.Warn("ws disconnect not delivered", "conn", c.id, "err", err)
	}
	if err := c.Close(); err != nil {
		slog.Debug("ws close failed", "conn", c.id, "err", err)
	}
	slog.Info("ws disconnected", "conn", c.id)
}

func (s *Server) readLoop(session *relay.Session, c *wsConn) {
	c.conn.SetReadLimit(s.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("ws read failed", "conn", c.id, "err", err)
			}
			return
		}

		f, err := parseFrame(data)
		if err != nil {
			slog.Warn("ws frame skipped", "conn", c.id, "err", err)
			continue
		}

		// enqueue blocks while the relay queue is full
		ctx := context.Background()
		switch f.event {
		case EventJoinRoom:
			err = session.Join(ctx, f.roomID)
		case EventLeaveRoom:
			err = session.LeaveRoom(ctx, f.roomID)
		case EventSendMessage:
			err = session.Send(ctx, f.send)
		}
		if errors.Is(err, relay.ErrStopped) {
			slog.Info("ws relay stopped, closing", "conn", c.id)
			return
		}
	}
}

func (s *Server) writeLoop(c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case b := <-c.out:
			if err := c.write(b); err != nil {
				slog.Warn("ws write failed", "conn", c.id, "err", err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				slog.Debug("ws ping failed", "conn", c.id, "err", err)
				_ = c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
