package realtime

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taskboardhq/taskboard/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Global().SetLevel(logger.LevelNone)
	os.Exit(m.Run())
}

var errTransportBroken = errors.New("transport broken")

// fakeTransport records delivered events in order
type fakeTransport struct {
	mu       sync.Mutex
	events   []Event
	failSend bool
	closed   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Send(ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend || f.closed {
		return errTransportBroken
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

func (f *fakeTransport) eventsOfType(eventType string) []Event {
	var matched []Event
	for _, ev := range f.Events() {
		if ev.Type == eventType {
			matched = append(matched, ev)
		}
	}
	return matched
}

func (f *fakeTransport) countOfType(eventType string) int {
	return len(f.eventsOfType(eventType))
}

// connect establishes a connection for principal backed by a fresh fake
// transport
func connect(reg *Registry, principal, workspaceID string) *fakeTransport {
	ft := newFakeTransport()
	reg.Connect(principal, workspaceID, Metadata{Name: principal}, ft)
	return ft
}

// waitForType waits until the transport has received at least n events of
// the given type
func waitForType(t *testing.T, ft *fakeTransport, eventType string, n int) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return ft.countOfType(eventType) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected %d %s events, got %d", n, eventType, ft.countOfType(eventType))
}

// settle gives the per-connection writers a moment to drain. Used before
// asserting that something was NOT delivered.
func settle() {
	time.Sleep(50 * time.Millisecond)
}
