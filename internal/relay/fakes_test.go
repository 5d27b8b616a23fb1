package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/chat-relay/internal/domain"

	"github.com/stretchr/testify/require"
)

var errBrokenPipe = errors.New("broken pipe")

type fakeConn struct {
	id string

	mu   sync.Mutex
	got  []domain.Message
	fail bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Deliver(m domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errBrokenPipe
	}
	c.got = append(c.got, m)
	return nil
}

func (c *fakeConn) messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Message(nil), c.got...)
}

type fakeStore struct {
	mu    sync.Mutex
	rows  []domain.Message
	seq   int
	err   error
	empty bool
	panic bool
	gates map[string]chan struct{} // body -> released when closed
}

func (s *fakeStore) Insert(ctx context.Context, m domain.Message) (*domain.Message, error) {
	s.mu.Lock()
	gate := s.gates[m.Body]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panic {
		panic("store exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.empty {
		return nil, nil
	}
	s.seq++
	m.ID = fmt.Sprintf("msg-%d", s.seq)
	m.CreatedAt = time.Unix(int64(s.seq), 0).UTC()
	s.rows = append(s.rows, m)
	out := m
	return &out, nil
}

func (s *fakeStore) gate(body string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gates == nil {
		s.gates = make(map[string]chan struct{})
	}
	ch := make(chan struct{})
	s.gates[body] = ch
	return ch
}

func (s *fakeStore) persisted() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.rows...)
}

// startDispatcher runs a dispatcher until the test ends.
func startDispatcher(t *testing.T, store Store, opts ...Option) (*Dispatcher, *Registry) {
	t.Helper()
	reg := NewRegistry()
	d := NewDispatcher(reg, store, append([]Option{WithQueueSize(16)}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return d, reg
}

func drain(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Drain(ctx))
}

func hello(room, user, name, body string) SendRequest {
	return SendRequest{RoomID: room, UserID: user, Username: name, Message: body}
}
