package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Conn is one authenticated websocket session. The user id is bound at
// construction and never changes.
type Conn struct {
	id        string
	userID    string
	createdAt time.Time

	send      chan []byte // 每连接独立发送队列，writer 独占消费
	done      chan struct{}
	closeOnce sync.Once

	heartbeat atomic.Int64 // unix nano of the last pong / inbound frame
	dropped   atomic.Int64
}

func newConn(id, userID string, buffer int, now time.Time) *Conn {
	if buffer <= 0 {
		buffer = 64
	}
	c := &Conn{
		id:        id,
		userID:    userID,
		createdAt: now,
		send:      make(chan []byte, buffer),
		done:      make(chan struct{}),
	}
	c.heartbeat.Store(now.UnixNano())
	return c
}

func (c *Conn) ID() string { return c.id }
func (c *Conn) UserID() string { return c.userID }
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// Dropped reports how many frames were discarded because the buffer was full.
func (c *Conn) Dropped() int64 { return c.dropped.Load() }

func (c *Conn) touch(now time.Time) { c.heartbeat.Store(now.UnixNano()) }

// LastSeen is the time of the last inbound frame or pong.
func (c *Conn) LastSeen() time.Time { return time.Unix(0, c.heartbeat.Load()) }

// Done is closed once the connection is torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// offer queues frame without blocking; a full buffer drops it.
func (c *Conn) offer(frame []byte) bool {
	if c.closed() {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// push queues frame and waits for room. Used for the offline flush, which must
// not lose events to a small buffer.
func (c *Conn) push(ctx context.Context, frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Outbox is the connection's outbound frame queue. Exactly one writer may
// drain it.
func (c *Conn) Outbox() <-chan []byte { return c.send }
