package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cwrk-planet/chat-relay/internal/domain"

	"github.com/gorilla/websocket"
)

var (
	ErrSlowConsumer = errors.New("ws: send buffer full")
	ErrConnClosed   = errors.New("ws: connection closed")
)

const writeWait = 5 * time.Second

// wsConn is the relay.Conn of one websocket. Deliver only queues the frame;
// writeLoop is the single writer of the socket.
type wsConn struct {
	id   string
	conn *websocket.Conn

	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newWsConn(id string, c *websocket.Conn, buffer int) *wsConn {
	return &wsConn{
		id:     id,
		conn:   c,
		out:    make(chan []byte, buffer),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Deliver(m domain.Message) error {
	b, err := json.Marshal(Envelope{Event: EventReceiveMessage, Data: domain.NewWireMessage(m)})
	if err != nil {
		return fmt.Errorf("encode receive_message: %w", err)
	}

	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	select {
	case c.out <- b:
		return nil
	case <-c.closed:
		return ErrConnClosed
	default:
		return ErrSlowConsumer
	}
}

func (c *wsConn) write(b []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
