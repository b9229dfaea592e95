package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AregGevorgyan/tomatocode/pkg/types"
)

const (
	writeBuffer  = 100
	writeTimeout = 5 * time.Second
)

// Connection wraps a gorilla websocket with a single-writer pump so
// concurrent emitters never race on the socket.
type Connection struct {
	id        string
	conn      *websocket.Conn
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps conn and starts its write pump.
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.New().String(),
		conn:    conn,
		writeCh: make(chan []byte, writeBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.writeLoop()
	return c
}

// ID returns the endpoint's process-unique identifier.
func (c *Connection) ID() string {
	return c.id
}

// Send frames the event as an envelope and enqueues it. Events enqueued
// by one goroutine are delivered in order.
func (c *Connection) Send(event string, data any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(types.Envelope{Event: event, Data: payload})
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- frame:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case frame := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Close shuts the socket down exactly once and stops the write pump.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Done exposes the connection's lifetime for the handler's ping loop.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}
