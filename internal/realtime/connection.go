package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/taskboardhq/taskboard/internal/logger"
)

const (
	// Outbound events buffered per connection before delivery is
	// considered failed
	sendQueueSize = 64
)

var (
	// ErrConnClosed is returned when enqueueing to a closed connection
	ErrConnClosed = errors.New("connection closed")

	// ErrSendBufferFull is returned when a connection cannot keep up
	// with its outbound event stream
	ErrSendBufferFull = errors.New("send buffer full")
)

// Transport is the delivery capability a connection wraps. The WebSocket
// layer provides the production implementation; tests use in-memory fakes.
// Close must be safe to call concurrently with Send.
type Transport interface {
	Send(Event) error
	Close() error
}

// Metadata is the client-supplied profile attached to a connection
type Metadata struct {
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Conn is one live connection for one principal. Outbound events are
// queued and written by a single goroutine so that per-recipient delivery
// order matches enqueue order.
type Conn struct {
	principal   string
	workspaceID string
	meta        Metadata
	connectedAt time.Time
	transport   Transport

	// subs is owned by the Registry and guarded by its lock
	subs map[RoomKey]struct{}

	mu         sync.Mutex
	lastActive time.Time
	closed     bool

	queue  chan Event
	quit   chan struct{}
	onFail func(*Conn)
}

func newConn(principal, workspaceID string, meta Metadata, transport Transport, onFail func(*Conn)) *Conn {
	now := time.Now().UTC()
	c := &Conn{
		principal:   principal,
		workspaceID: workspaceID,
		meta:        meta,
		connectedAt: now,
		transport:   transport,
		subs:        make(map[RoomKey]struct{}),
		lastActive:  now,
		queue:       make(chan Event, sendQueueSize),
		quit:        make(chan struct{}),
		onFail:      onFail,
	}
	go c.writeLoop()
	return c
}

// Principal returns the authenticated principal behind the connection
func (c *Conn) Principal() string { return c.principal }

// WorkspaceID returns the workspace the connection was established for
func (c *Conn) WorkspaceID() string { return c.workspaceID }

// Meta returns the client-supplied profile metadata
func (c *Conn) Meta() Metadata { return c.meta }

// ConnectedAt returns when the connection was established
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// LastActive returns the last time inbound activity was observed
func (c *Conn) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Touch records inbound activity on the connection
func (c *Conn) Touch() {
	c.mu.Lock()
	c.lastActive = time.Now().UTC()
	c.mu.Unlock()
}

// Done is closed when the connection has been shut down
func (c *Conn) Done() <-chan struct{} { return c.quit }

// Enqueue hands an event to the connection's writer. It never blocks: a
// closed connection or a full buffer is reported as an error so the caller
// can tear the connection down.
func (c *Conn) Enqueue(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.queue <- ev:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// writeLoop drains the queue onto the transport sequentially. A transport
// error reports the connection as failed and stops delivery.
func (c *Conn) writeLoop() {
	for {
		select {
		case ev := <-c.queue:
			if err := c.transport.Send(ev); err != nil {
				logger.Debug("send to %s failed: %v", c.principal, err)
				if c.onFail != nil {
					c.onFail(c)
				}
				return
			}
		case <-c.quit:
			return
		}
	}
}

// close shuts the connection down. Idempotent and safe to call while a
// broadcast is in flight; queued events that were not yet written are
// dropped (delivery is best effort).
func (c *Conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.quit)
	c.mu.Unlock()

	if err := c.transport.Close(); err != nil {
		logger.Debug("closing transport for %s: %v", c.principal, err)
	}
}
