package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/taskboardhq/taskboard/internal/logger"
)

// TrackerConfig parameterizes the ephemeral indicator timeouts and the
// sweep that enforces them
type TrackerConfig struct {
	TypingTimeout   time.Duration
	EditingTimeout  time.Duration
	PresenceTimeout time.Duration
	SweepInterval   time.Duration
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = 10 * time.Second
	}
	if c.EditingTimeout <= 0 {
		c.EditingTimeout = 30 * time.Second
	}
	if c.PresenceTimeout <= 0 {
		c.PresenceTimeout = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Second
	}
	return c
}

// PresenceInfo is a principal's last reported presence
type PresenceInfo struct {
	UserID      string                 `json:"user_id"`
	WorkspaceID string                 `json:"workspace_id"`
	Status      string                 `json:"status"`
	Detail      map[string]interface{} `json:"detail,omitempty"`
	LastSeen    time.Time              `json:"last_seen"`
}

// Tracker keeps the time-bounded per-room indicator state: who is typing,
// who is editing, and per-principal presence. Entries expire without an
// explicit stop signal; a periodic sweep enforces the timeouts so there
// are no per-entry timers to cancel.
type Tracker struct {
	cfg TrackerConfig
	d   *Dispatcher

	mu       sync.Mutex
	typing   map[RoomKey]map[string]time.Time
	editing  map[RoomKey]map[string]time.Time
	presence map[string]PresenceInfo

	quit chan struct{}
	done chan struct{}
}

// NewTracker creates a tracker dispatching through d. Call Start to begin
// expiry sweeps and Stop on shutdown.
func NewTracker(d *Dispatcher, cfg TrackerConfig) *Tracker {
	return &Tracker{
		cfg:      cfg.withDefaults(),
		d:        d,
		typing:   make(map[RoomKey]map[string]time.Time),
		editing:  make(map[RoomKey]map[string]time.Time),
		presence: make(map[string]PresenceInfo),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep worker
func (t *Tracker) Start() {
	go t.sweepLoop()
}

// Stop halts the sweep worker and waits for it to exit
func (t *Tracker) Stop() {
	close(t.quit)
	<-t.done
}

// SetTyping marks or clears the typing indicator for a principal in a
// room and broadcasts the room's active typer set to everyone else
func (t *Tracker) SetTyping(room RoomKey, principal string, typing bool) {
	t.mu.Lock()
	setIndicator(t.typing, room, principal, typing)
	active := activeSet(t.typing[room])
	t.mu.Unlock()

	t.broadcastTyping(room, principal, typing, active)
}

// SetEditing marks or clears the editing indicator for a principal in a
// room and broadcasts the room's active editor set to everyone else
func (t *Tracker) SetEditing(room RoomKey, principal string, editing bool) {
	t.mu.Lock()
	setIndicator(t.editing, room, principal, editing)
	active := activeSet(t.editing[room])
	t.mu.Unlock()

	t.broadcastEditing(room, principal, editing, active)
}

// TypingUsers returns the principals currently typing in a room, sorted
func (t *Tracker) TypingUsers(room RoomKey) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return activeWithin(t.typing[room], t.cfg.TypingTimeout)
}

// EditingUsers returns the principals currently editing in a room, sorted
func (t *Tracker) EditingUsers(room RoomKey) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return activeWithin(t.editing[room], t.cfg.EditingTimeout)
}

// UpdatePresence records a principal's presence and broadcasts it to the
// workspace room
func (t *Tracker) UpdatePresence(workspaceID, principal, status string, detail map[string]interface{}) {
	info := PresenceInfo{
		UserID:      principal,
		WorkspaceID: workspaceID,
		Status:      status,
		Detail:      detail,
		LastSeen:    time.Now().UTC(),
	}

	t.mu.Lock()
	t.presence[principal] = info
	t.mu.Unlock()

	room := WorkspaceRoom(workspaceID)
	ev := NewRoomEvent(EventUserPresenceUpdated, room, principal, map[string]interface{}{
		"user_id":  principal,
		"presence": info,
	})
	t.d.BroadcastToRoom(room, ev, principal)
}

// WorkspacePresence returns the non-stale presence entries for a
// workspace, sorted by principal
func (t *Tracker) WorkspacePresence(workspaceID string) []PresenceInfo {
	cutoff := time.Now().Add(-t.cfg.PresenceTimeout)

	t.mu.Lock()
	defer t.mu.Unlock()
	var infos []PresenceInfo
	for _, info := range t.presence {
		if info.WorkspaceID == workspaceID && info.LastSeen.After(cutoff) {
			infos = append(infos, info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].UserID < infos[j].UserID })
	return infos
}

func (t *Tracker) sweepLoop() {
	defer close(t.done)

	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	logger.Debug("indicator sweep started (every %s)", t.cfg.SweepInterval)
	for {
		select {
		case <-ticker.C:
			t.sweep(time.Now())
		case <-t.quit:
			return
		}
	}
}

// sweep expires stale indicators and broadcasts the shrunken sets. Stale
// presence entries are dropped without a broadcast; clients treat silence
// as offline.
func (t *Tracker) sweep(now time.Time) {
	type update struct {
		room   RoomKey
		active []string
	}
	var typingUpdates, editingUpdates []update

	t.mu.Lock()
	for room, entries := range t.typing {
		if expire(entries, now.Add(-t.cfg.TypingTimeout)) {
			typingUpdates = append(typingUpdates, update{room, activeSet(entries)})
			if len(entries) == 0 {
				delete(t.typing, room)
			}
		}
	}
	for room, entries := range t.editing {
		if expire(entries, now.Add(-t.cfg.EditingTimeout)) {
			editingUpdates = append(editingUpdates, update{room, activeSet(entries)})
			if len(entries) == 0 {
				delete(t.editing, room)
			}
		}
	}
	presenceCutoff := now.Add(-t.cfg.PresenceTimeout)
	for principal, info := range t.presence {
		if info.LastSeen.Before(presenceCutoff) {
			delete(t.presence, principal)
		}
	}
	t.mu.Unlock()

	for _, u := range typingUpdates {
		t.broadcastTyping(u.room, SystemPrincipal, false, u.active)
	}
	for _, u := range editingUpdates {
		t.broadcastEditing(u.room, SystemPrincipal, false, u.active)
	}
}

func (t *Tracker) broadcastTyping(room RoomKey, actor string, typing bool, active []string) {
	ev := NewRoomEvent(EventUserTyping, room, actor, map[string]interface{}{
		"room_id":      room.String(),
		"user_id":      actor,
		"is_typing":    typing,
		"typing_users": active,
	})
	t.d.BroadcastToRoom(room, ev, actor)
}

func (t *Tracker) broadcastEditing(room RoomKey, actor string, editing bool, active []string) {
	ev := NewRoomEvent(EventUserEditing, room, actor, map[string]interface{}{
		"room_id":       room.String(),
		"user_id":       actor,
		"is_editing":    editing,
		"editing_users": active,
	})
	t.d.BroadcastToRoom(room, ev, actor)
}

// setIndicator mutates one indicator map. Caller holds the tracker lock.
func setIndicator(m map[RoomKey]map[string]time.Time, room RoomKey, principal string, active bool) {
	entries := m[room]
	if active {
		if entries == nil {
			entries = make(map[string]time.Time)
			m[room] = entries
		}
		entries[principal] = time.Now()
		return
	}
	if entries != nil {
		delete(entries, principal)
		if len(entries) == 0 {
			delete(m, room)
		}
	}
}

// expire removes entries older than cutoff, reporting whether any were
// removed. Caller holds the tracker lock.
func expire(entries map[string]time.Time, cutoff time.Time) bool {
	removed := false
	for principal, at := range entries {
		if at.Before(cutoff) {
			delete(entries, principal)
			removed = true
		}
	}
	return removed
}

func activeSet(entries map[string]time.Time) []string {
	active := make([]string, 0, len(entries))
	for principal := range entries {
		active = append(active, principal)
	}
	sort.Strings(active)
	return active
}

func activeWithin(entries map[string]time.Time, ttl time.Duration) []string {
	cutoff := time.Now().Add(-ttl)
	active := make([]string, 0, len(entries))
	for principal, at := range entries {
		if at.After(cutoff) {
			active = append(active, principal)
		}
	}
	sort.Strings(active)
	return active
}
