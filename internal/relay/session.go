package relay

import (
	"context"
	"sync/atomic"
)

type State int32

const (
	StateConnected State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SendRequest is the raw send_message payload. Reply fields are optional.
type SendRequest struct {
	RoomID                string
	UserID                string
	Username              string
	Message               string
	ReplyToMessageID      string
	ReplyToMessageContent string
	ReplyToUsername       string
}

// Session is the relay state machine of one connection. Its methods only
// enqueue events; the dispatcher goroutine applies them in order. A session
// is never reused after Disconnect: a reconnect gets a fresh one.
type Session struct {
	d     *Dispatcher
	conn  Conn
	state atomic.Int32
}

func (s *Session) Conn() Conn { return s.conn }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Join subscribes the connection to roomID. Fire-and-forget.
func (s *Session) Join(ctx context.Context, roomID string) error {
	return s.d.enqueue(ctx, event{kind: evJoin, session: s, roomID: roomID})
}

// LeaveRoom drops one membership without closing the session.
func (s *Session) LeaveRoom(ctx context.Context, roomID string) error {
	return s.d.enqueue(ctx, event{kind: evLeaveRoom, session: s, roomID: roomID})
}

// Send persists and broadcasts a message. The caller gets no signal about
// the outcome: failures are logged by the dispatcher only.
func (s *Session) Send(ctx context.Context, req SendRequest) error {
	return s.d.enqueue(ctx, event{kind: evSend, session: s, send: req})
}

// Disconnect removes the connection from every room. In-flight inserts of
// this session still complete.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.d.enqueue(ctx, event{kind: evDisconnect, session: s})
}
