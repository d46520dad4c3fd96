// Package bridge republishes dispatched events onto NATS so that other
// backend services can react to realtime activity without holding a
// WebSocket connection.
package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/taskboardhq/taskboard/internal/logger"
	"github.com/taskboardhq/taskboard/internal/realtime"
)

// SubjectPrefix is prepended to the event type to form the NATS subject,
// e.g. "taskboard.events.task_updated".
const SubjectPrefix = "taskboard.events."

// Bridge publishes observed events to NATS. Implements realtime.Observer.
type Bridge struct {
	conn *nats.Conn
}

// Connect establishes the NATS connection. Reconnects are left to the
// client library; publishes during an outage are buffered by it.
func Connect(url string) (*Bridge, error) {
	conn, err := nats.Connect(url,
		nats.Name("taskboard-realtime"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return &Bridge{conn: conn}, nil
}

// ObserveEvent publishes one dispatched event. A failed publish is logged
// and swallowed so delivery to connected clients is never affected.
func (b *Bridge) ObserveEvent(ev realtime.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("bridge: failed to encode event %s: %v", ev.ID, err)
		return
	}
	if err := b.conn.Publish(SubjectPrefix+ev.Type, payload); err != nil {
		logger.Warn("bridge: failed to publish event %s: %v", ev.ID, err)
	}
}

// Close flushes pending publishes and closes the connection
func (b *Bridge) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}
