package session

import (
	"sync"
	"time"

	"github.com/DoyleJ11/geoguess-server/pkg/types"
)

const DefaultOutboxSize = 32

// Conn is the send side of one physical connection. The transport drains
// Outbox; every other component only ever calls Send.
type Conn struct {
	ID        string
	Remote    string
	CreatedAt time.Time

	out      chan types.Outbound
	mu       sync.Mutex
	closed   bool
	replaced bool
}

func NewConn(id, remote string, createdAt time.Time, buffer int) *Conn {
	if buffer <= 0 {
		buffer = DefaultOutboxSize
	}
	return &Conn{
		ID:        id,
		Remote:    remote,
		CreatedAt: createdAt,
		out:       make(chan types.Outbound, buffer),
	}
}

// Send queues m without blocking. A connection whose buffer is full is too
// slow to keep up and gets closed; Send then reports false.
func (c *Conn) Send(m types.Outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- m:
		return true
	default:
		c.closed = true
		close(c.out)
		return false
	}
}

func (c *Conn) Outbox() <-chan types.Outbound { return c.out }

// Close stops delivery. Messages already queued are still drained by the writer.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

// Replace closes the connection because another one took its session over.
func (c *Conn) Replace() {
	c.mu.Lock()
	c.replaced = true
	c.mu.Unlock()
	c.Close()
}

// Replaced reports whether the connection was closed by a takeover, as
// opposed to a drop or a full buffer.
func (c *Conn) Replaced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replaced
}

func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}
