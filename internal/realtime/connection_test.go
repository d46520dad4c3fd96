package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAfterCloseFails(t *testing.T) {
	ft := newFakeTransport()
	c := newConn("u1", "w1", Metadata{}, ft, nil)
	c.close()

	err := c.Enqueue(NewEvent(EventNotification, nil))
	assert.ErrorIs(t, err, ErrConnClosed)
	assert.True(t, ft.Closed())
}

func TestCloseIsIdempotent(t *testing.T) {
	ft := newFakeTransport()
	c := newConn("u1", "w1", Metadata{}, ft, nil)
	c.close()
	c.close()

	select {
	case <-c.Done():
	default:
		t.Fatal("Done channel not closed")
	}
}

func TestEnqueueFullBuffer(t *testing.T) {
	// A transport that blocks forever forces the queue to fill up
	blocked := make(chan struct{})
	c := newConn("u1", "w1", Metadata{}, blockingTransport{blocked}, nil)
	defer func() {
		close(blocked)
		c.close()
	}()

	var err error
	for i := 0; i < sendQueueSize+2; i++ {
		if err = c.Enqueue(NewEvent(EventNotification, nil)); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, ErrSendBufferFull)
}

func TestTouchUpdatesLastActive(t *testing.T) {
	ft := newFakeTransport()
	c := newConn("u1", "w1", Metadata{}, ft, nil)
	defer c.close()

	before := c.LastActive()
	time.Sleep(5 * time.Millisecond)
	c.Touch()
	assert.True(t, c.LastActive().After(before))
}

func TestFailureCallbackFires(t *testing.T) {
	failed := make(chan *Conn, 1)
	ft := newFakeTransport()
	ft.failSend = true

	c := newConn("u1", "w1", Metadata{}, ft, func(c *Conn) { failed <- c })
	require.NoError(t, c.Enqueue(NewEvent(EventNotification, nil)))

	select {
	case got := <-failed:
		assert.Same(t, c, got)
	case <-time.After(2 * time.Second):
		t.Fatal("failure callback never fired")
	}
	c.close()
}

type blockingTransport struct {
	unblock chan struct{}
}

func (b blockingTransport) Send(Event) error {
	<-b.unblock
	return nil
}

func (b blockingTransport) Close() error { return nil }
