package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/cwrk-planet/chat-relay/internal/domain"
	"github.com/cwrk-planet/chat-relay/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrStopped = errors.New("relay dispatcher stopped")

const (
	defaultQueueSize = 1024
	tracerName       = "github.com/cwrk-planet/chat-relay/internal/relay"
)

// Store is the part of the message store the relay writes to.
type Store interface {
	Insert(ctx context.Context, m domain.Message) (*domain.Message, error)
}

type eventKind int

const (
	evJoin eventKind = iota
	evLeaveRoom
	evSend
	evDisconnect
	evPersisted
	evBarrier
)

var eventNames = [...]string{
	evJoin:       "join_room",
	evLeaveRoom:  "leave_room",
	evSend:       "send_message",
	evDisconnect: "disconnect",
	evPersisted:  "persisted",
	evBarrier:    "barrier",
}

type event struct {
	kind    eventKind
	session *Session
	roomID  string
	send    SendRequest

	// evPersisted
	connID string
	record *domain.Message
	err    error
	span   trace.SpanContext

	// evBarrier
	done chan struct{}
}

type Option func(*Dispatcher)

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithTracerProvider replaces the global provider for insert spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) {
		if tp != nil {
			d.tracer = tp.Tracer(tracerName)
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// Dispatcher is the single reactor of the relay. One goroutine (Run) owns
// every registry change and every broadcast; inserts run on their own
// goroutines and report back through the same queue. Events of one
// connection are handled in the order they were enqueued. Broadcasts across
// connections follow the order in which inserts complete.
type Dispatcher struct {
	registry *Registry
	store    Store
	log      *slog.Logger
	tracer   trace.Tracer

	queueSize int
	events    chan event
	stopped   chan struct{}

	// owned by the Run goroutine
	baseCtx  context.Context
	inflight int
	waiters  []chan struct{}
}

func NewDispatcher(registry *Registry, store Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		store:     store,
		log:       slog.Default(),
		tracer:    otel.Tracer(tracerName),
		queueSize: defaultQueueSize,
		stopped:   make(chan struct{}),
		baseCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.events = make(chan event, d.queueSize)
	return d
}

// Connect starts the relay session of a new connection.
func (d *Dispatcher) Connect(c Conn) *Session {
	metrics.ConnectionsActive.Inc()
	s := &Session{d: d, conn: c}
	s.setState(StateConnected)
	return s
}

// Run consumes events until ctx is cancelled. Inserts started before that
// keep a context that is not cancelled with ctx.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.stopped)
	d.baseCtx = context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			if d.inflight > 0 {
				d.log.Warn("relay dispatcher stopping with inserts in flight", "inflight", d.inflight)
			}
			return nil
		case ev := <-d.events:
			d.handle(ev)
		}
	}
}

// Drain blocks until every event queued before the call has been handled and
// no insert is in flight.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	if err := d.enqueue(ctx, event{kind: evBarrier, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-d.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, ev event) error {
	select {
	case <-d.stopped:
		return ErrStopped
	default:
	}

	select {
	case d.events <- ev:
		return nil
	case <-d.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) handle(ev event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("relay handler panic",
				"event", eventNames[ev.kind],
				"panic", r,
				"stack", string(debug.Stack()))
		}
		d.releaseWaiters()
	}()

	if ev.kind != evPersisted && ev.kind != evBarrier {
		metrics.Events.WithLabelValues(eventNames[ev.kind]).Inc()
	}

	switch ev.kind {
	case evJoin:
		d.handleJoin(ev.session, ev.roomID)
	case evLeaveRoom:
		d.handleLeaveRoom(ev.session, ev.roomID)
	case evSend:
		d.handleSend(ev.session, ev.send)
	case evDisconnect:
		d.handleDisconnect(ev.session)
	case evPersisted:
		d.handlePersisted(ev)
	case evBarrier:
		d.waiters = append(d.waiters, ev.done)
	}
}

func (d *Dispatcher) releaseWaiters() {
	if d.inflight > 0 || len(d.waiters) == 0 {
		return
	}
	for _, w := range d.waiters {
		close(w)
	}
	d.waiters = nil
}

func (d *Dispatcher) handleJoin(s *Session, roomID string) {
	if s.State() == StateClosed {
		return
	}
	if domain.IsBlank(roomID) {
		d.log.Warn("relay.Join: rejected", "conn", s.conn.ID(),
			"err", fmt.Errorf("%w: empty room id", domain.ErrValidation))
		return
	}

	d.registry.Join(s.conn, roomID)
	s.setState(StateJoined)
	d.log.Info("relay.Join", "conn", s.conn.ID(), "room", roomID)
}

func (d *Dispatcher) handleLeaveRoom(s *Session, roomID string) {
	if s.State() == StateClosed {
		return
	}
	d.registry.LeaveRoom(s.conn, roomID)
	d.log.Info("relay.LeaveRoom", "conn", s.conn.ID(), "room", roomID)
}

func (d *Dispatcher) handleDisconnect(s *Session) {
	if s.State() == StateClosed {
		return
	}
	d.registry.Leave(s.conn)
	s.setState(StateClosed)
	metrics.ConnectionsActive.Dec()
	d.log.Info("relay.Disconnect", "conn", s.conn.ID())
}

func (d *Dispatcher) handleSend(s *Session, req SendRequest) {
	connID := s.conn.ID()

	if st := s.State(); st != StateJoined {
		metrics.Sends.WithLabelValues("not_joined").Inc()
		d.log.Warn("relay.Send: dropped", "conn", connID, "state", st.String(), "err", domain.ErrNotJoined)
		return
	}

	candidate, err := newCandidate(req)
	if err != nil {
		metrics.Sends.WithLabelValues("invalid").Inc()
		d.log.Warn("relay.Send: rejected", "conn", connID, "room", req.RoomID, "err", err)
		return
	}

	d.inflight++
	go d.persist(connID, candidate)
}

// persist runs outside the dispatcher goroutine and reports back with an
// evPersisted event.
func (d *Dispatcher) persist(connID string, m domain.Message) {
	ctx, span := d.tracer.Start(d.baseCtx, "relay.persist",
		trace.WithAttributes(attribute.String("room_id", m.RoomID)))
	rec, err := d.insert(ctx, m)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	// ended before the result is posted so Drain implies the span is done
	span.End()

	ev := event{
		kind:   evPersisted,
		connID: connID,
		roomID: m.RoomID,
		record: rec,
		err:    err,
		span:   span.SpanContext(),
	}
	if err := d.enqueue(context.Background(), ev); err != nil {
		d.log.ErrorContext(ctx, "relay.persist: result dropped", "conn", connID, "room", m.RoomID, "err", err)
	}
}

func (d *Dispatcher) insert(ctx context.Context, m domain.Message) (rec *domain.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: store panic: %v", domain.ErrPersistence, r)
		}
	}()
	return d.store.Insert(ctx, m)
}

func (d *Dispatcher) handlePersisted(ev event) {
	d.inflight--
	// log lines of this send carry the trace of its insert span
	ctx := trace.ContextWithSpanContext(context.Background(), ev.span)

	switch {
	case ev.err != nil:
		metrics.Sends.WithLabelValues("persist_error").Inc()
		d.log.ErrorContext(ctx, "relay.Send: persist failed, not broadcast",
			"conn", ev.connID, "room", ev.roomID, "err", ev.err)
	case ev.record == nil:
		metrics.Sends.WithLabelValues("empty_result").Inc()
		d.log.WarnContext(ctx, "relay.Send: not broadcast",
			"conn", ev.connID, "room", ev.roomID, "err", domain.ErrEmptyResult)
	default:
		n := d.registry.Broadcast(ev.record.RoomID, *ev.record)
		metrics.Sends.WithLabelValues("broadcast").Inc()
		d.log.DebugContext(ctx, "relay.Send: broadcast",
			"conn", ev.connID, "room", ev.record.RoomID, "msg_id", ev.record.ID, "delivered", n)
	}
}

// newCandidate validates the required fields and resolves the reply triple.
// Values are stored as sent; blank means missing.
func newCandidate(req SendRequest) (domain.Message, error) {
	var missing []string
	if domain.IsBlank(req.RoomID) {
		missing = append(missing, "roomId")
	}
	if domain.IsBlank(req.UserID) {
		missing = append(missing, "userId")
	}
	if domain.IsBlank(req.Username) {
		missing = append(missing, "username")
	}
	if domain.IsBlank(req.Message) {
		missing = append(missing, "message")
	}
	if len(missing) > 0 {
		return domain.Message{}, fmt.Errorf("%w: missing %s", domain.ErrValidation, strings.Join(missing, ", "))
	}

	return domain.Message{
		RoomID:   req.RoomID,
		UserID:   req.UserID,
		Username: req.Username,
		Body:     req.Message,
		Reply:    domain.NormalizeReply(req.ReplyToMessageID, req.ReplyToMessageContent, req.ReplyToUsername),
	}, nil
}
