package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTrackerFixture(t *testing.T, cfg TrackerConfig) (*Registry, *Tracker) {
	t.Helper()
	reg := NewRegistry()
	d := NewDispatcher(reg)
	tracker := NewTracker(d, cfg)
	tracker.Start()
	t.Cleanup(tracker.Stop)
	return reg, tracker
}

func TestTypingIndicatorBroadcast(t *testing.T) {
	reg, tracker := newTrackerFixture(t, TrackerConfig{})
	room := TaskRoom("t1")

	actor := connect(reg, "u1", "w1")
	watcher := connect(reg, "u2", "w1")
	reg.JoinRoom("u1", room)
	reg.JoinRoom("u2", room)

	tracker.SetTyping(room, "u1", true)

	waitForType(t, watcher, EventUserTyping, 1)
	ev := watcher.eventsOfType(EventUserTyping)[0]
	assert.Equal(t, "u1", ev.Data["user_id"])
	assert.Equal(t, true, ev.Data["is_typing"])
	assert.Equal(t, []string{"u1"}, ev.Data["typing_users"])

	// The acting principal does not receive its own indicator
	settle()
	assert.Zero(t, actor.countOfType(EventUserTyping))

	assert.Equal(t, []string{"u1"}, tracker.TypingUsers(room))
}

func TestTypingExplicitStop(t *testing.T) {
	reg, tracker := newTrackerFixture(t, TrackerConfig{})
	room := TaskRoom("t1")

	connect(reg, "u1", "w1")
	watcher := connect(reg, "u2", "w1")
	reg.JoinRoom("u1", room)
	reg.JoinRoom("u2", room)

	tracker.SetTyping(room, "u1", true)
	tracker.SetTyping(room, "u1", false)

	waitForType(t, watcher, EventUserTyping, 2)
	stop := watcher.eventsOfType(EventUserTyping)[1]
	assert.Equal(t, false, stop.Data["is_typing"])
	assert.Equal(t, []string{}, stop.Data["typing_users"])
	assert.Empty(t, tracker.TypingUsers(room))
}

func TestTypingExpiresWithoutStopSignal(t *testing.T) {
	reg, tracker := newTrackerFixture(t, TrackerConfig{
		TypingTimeout: 50 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	})
	room := TaskRoom("t1")

	connect(reg, "u1", "w1")
	watcher := connect(reg, "u2", "w1")
	reg.JoinRoom("u1", room)
	reg.JoinRoom("u2", room)

	tracker.SetTyping(room, "u1", true)
	waitForType(t, watcher, EventUserTyping, 1)

	// The sweep broadcasts the emptied set once the timeout passes
	waitForType(t, watcher, EventUserTyping, 2)
	events := watcher.eventsOfType(EventUserTyping)
	last := events[len(events)-1]
	assert.Equal(t, []string{}, last.Data["typing_users"])
	assert.Empty(t, tracker.TypingUsers(room))
}

func TestEditingIndependentFromTyping(t *testing.T) {
	reg, tracker := newTrackerFixture(t, TrackerConfig{})
	room := TaskRoom("t1")

	connect(reg, "u1", "w1")
	watcher := connect(reg, "u2", "w1")
	reg.JoinRoom("u1", room)
	reg.JoinRoom("u2", room)

	tracker.SetEditing(room, "u1", true)
	tracker.SetTyping(room, "u1", true)
	tracker.SetTyping(room, "u1", false)

	waitForType(t, watcher, EventUserEditing, 1)
	assert.Equal(t, []string{"u1"}, tracker.EditingUsers(room))
	assert.Empty(t, tracker.TypingUsers(room))
}

func TestEditingOutlivesTypingTimeout(t *testing.T) {
	_, tracker := newTrackerFixture(t, TrackerConfig{
		TypingTimeout:  20 * time.Millisecond,
		EditingTimeout: 10 * time.Second,
		SweepInterval:  5 * time.Millisecond,
	})
	room := TaskRoom("t1")

	tracker.SetTyping(room, "u1", true)
	tracker.SetEditing(room, "u1", true)

	require.Eventually(t, func() bool {
		return len(tracker.TypingUsers(room)) == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"u1"}, tracker.EditingUsers(room))
}

func TestPresenceUpdateBroadcastsToWorkspace(t *testing.T) {
	reg, tracker := newTrackerFixture(t, TrackerConfig{})

	connect(reg, "u1", "w1")
	watcher := connect(reg, "u2", "w1")

	tracker.UpdatePresence("w1", "u1", "online", map[string]interface{}{"view": "board"})

	waitForType(t, watcher, EventUserPresenceUpdated, 1)
	ev := watcher.eventsOfType(EventUserPresenceUpdated)[0]
	assert.Equal(t, "u1", ev.Data["user_id"])

	infos := tracker.WorkspacePresence("w1")
	require.Len(t, infos, 1)
	assert.Equal(t, "u1", infos[0].UserID)
	assert.Equal(t, "online", infos[0].Status)

	assert.Empty(t, tracker.WorkspacePresence("w2"))
}

func TestPresenceExpires(t *testing.T) {
	_, tracker := newTrackerFixture(t, TrackerConfig{
		PresenceTimeout: 30 * time.Millisecond,
		SweepInterval:   10 * time.Millisecond,
	})

	tracker.UpdatePresence("w1", "u1", "online", nil)
	require.Len(t, tracker.WorkspacePresence("w1"), 1)

	assert.Eventually(t, func() bool {
		return len(tracker.WorkspacePresence("w1")) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTrackerStops(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg)
	tracker := NewTracker(d, TrackerConfig{SweepInterval: 5 * time.Millisecond})
	tracker.Start()

	done := make(chan struct{})
	go func() {
		tracker.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not stop")
	}
}
