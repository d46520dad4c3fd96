package realtime

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/taskboardhq/taskboard/internal/logger"
)

// Registry is the authority over connection and room membership state.
// One instance is constructed at startup and passed to everything that
// needs it. All maps are mutated together under one lock so that a
// principal is listed in a room exactly when the room is in that
// principal's subscription set.
//
// A principal holds at most one live connection globally; reconnecting
// from any workspace supersedes the previous connection.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*Conn            // principal -> connection
	workspaces map[string]map[string]*Conn // workspace -> principal -> connection
	rooms      map[RoomKey]map[string]struct{}

	established      atomic.Int64
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64

	// announce is wired by the Dispatcher so connect/disconnect can
	// emit presence events without holding the lock
	announce func(room RoomKey, ev Event, exclude string)
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		conns:      make(map[string]*Conn),
		workspaces: make(map[string]map[string]*Conn),
		rooms:      make(map[RoomKey]map[string]struct{}),
	}
}

// Connect establishes a connection for the principal, superseding any
// existing one, auto-subscribes it to the workspace room and announces
// the arrival to the rest of the workspace.
func (r *Registry) Connect(principal, workspaceID string, meta Metadata, transport Transport) *Conn {
	c := newConn(principal, workspaceID, meta, transport, r.DisconnectConn)

	r.mu.Lock()
	old := r.conns[principal]
	if old != nil {
		r.removeLocked(old)
	}
	r.conns[principal] = c
	ws := r.workspaces[workspaceID]
	if ws == nil {
		ws = make(map[string]*Conn)
		r.workspaces[workspaceID] = ws
	}
	ws[principal] = c
	r.subscribeLocked(c, WorkspaceRoom(workspaceID))
	r.established.Add(1)
	announce := r.announce
	r.mu.Unlock()

	if old != nil {
		logger.Info("superseding existing connection for %s", principal)
		old.close()
	}
	logger.Info("%s connected to workspace %s", principal, workspaceID)

	if announce != nil {
		room := WorkspaceRoom(workspaceID)
		announce(room, NewRoomEvent(EventUserJoined, room, SystemPrincipal, map[string]interface{}{
			"user_id":      principal,
			"workspace_id": workspaceID,
			"user_info":    meta,
		}), principal)
	}
	return c
}

// Disconnect tears down the principal's connection if it belongs to the
// given workspace. Disconnecting an absent pair is a no-op.
func (r *Registry) Disconnect(principal, workspaceID string) {
	r.mu.Lock()
	c := r.conns[principal]
	if c == nil || c.workspaceID != workspaceID {
		r.mu.Unlock()
		return
	}
	r.removeLocked(c)
	announce := r.announce
	r.mu.Unlock()

	c.close()
	logger.Info("%s disconnected from workspace %s", principal, workspaceID)
	r.announceLeft(announce, principal, workspaceID)
}

// DisconnectConn tears down a specific connection. Used by the transport
// layer and by failure handling so that a stale connection can never tear
// down its successor. Safe to call concurrently with in-flight broadcasts.
func (r *Registry) DisconnectConn(c *Conn) {
	r.mu.Lock()
	current := r.conns[c.principal] == c
	if current {
		r.removeLocked(c)
	}
	announce := r.announce
	r.mu.Unlock()

	c.close()
	if current {
		logger.Info("%s disconnected from workspace %s", c.principal, c.workspaceID)
		r.announceLeft(announce, c.principal, c.workspaceID)
	}
}

func (r *Registry) announceLeft(announce func(RoomKey, Event, string), principal, workspaceID string) {
	if announce == nil {
		return
	}
	room := WorkspaceRoom(workspaceID)
	announce(room, NewRoomEvent(EventUserLeft, room, SystemPrincipal, map[string]interface{}{
		"user_id":      principal,
		"workspace_id": workspaceID,
	}), principal)
}

// JoinRoom subscribes the principal's connection to a room. No-op when the
// principal has no live connection or the key is invalid.
func (r *Registry) JoinRoom(principal string, room RoomKey) {
	if !room.Kind.Valid() || room.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conns[principal]
	if c == nil {
		return
	}
	r.subscribeLocked(c, room)
}

// LeaveRoom removes the principal from a room. No-op when not a member.
func (r *Registry) LeaveRoom(principal string, room RoomKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conns[principal]
	if c == nil {
		return
	}
	if _, ok := c.subs[room]; !ok {
		return
	}
	delete(c.subs, room)
	r.unlistLocked(room, principal)
}

// Connection returns the principal's live connection, or nil
func (r *Registry) Connection(principal string) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[principal]
}

// RoomMembers returns the principals subscribed to a room, sorted.
// Unknown rooms yield an empty slice.
func (r *Registry) RoomMembers(room RoomKey) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make([]string, 0, len(r.rooms[room]))
	for principal := range r.rooms[room] {
		members = append(members, principal)
	}
	sort.Strings(members)
	return members
}

// Subscriptions returns the rooms the principal is subscribed to, sorted
func (r *Registry) Subscriptions(principal string) []RoomKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.conns[principal]
	if c == nil {
		return nil
	}
	rooms := make([]RoomKey, 0, len(c.subs))
	for room := range c.subs {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].String() < rooms[j].String() })
	return rooms
}

// ActiveRooms returns every room with at least one member, sorted
func (r *Registry) ActiveRooms() []RoomKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]RoomKey, 0, len(r.rooms))
	for room := range r.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].String() < rooms[j].String() })
	return rooms
}

// subscribeLocked records membership on both sides. Caller holds mu.
func (r *Registry) subscribeLocked(c *Conn, room RoomKey) {
	c.subs[room] = struct{}{}
	members := r.rooms[room]
	if members == nil {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[c.principal] = struct{}{}
}

// unlistLocked removes a principal from the room index, pruning the room
// when it empties. Caller holds mu.
func (r *Registry) unlistLocked(room RoomKey, principal string) {
	members := r.rooms[room]
	if members == nil {
		return
	}
	delete(members, principal)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// removeLocked drops a connection from every map. Caller holds mu.
func (r *Registry) removeLocked(c *Conn) {
	for room := range c.subs {
		delete(c.subs, room)
		r.unlistLocked(room, c.principal)
	}
	if r.conns[c.principal] == c {
		delete(r.conns, c.principal)
	}
	if ws := r.workspaces[c.workspaceID]; ws != nil && ws[c.principal] == c {
		delete(ws, c.principal)
		if len(ws) == 0 {
			delete(r.workspaces, c.workspaceID)
		}
	}
}

// roomConns snapshots the connections behind a room's members so the
// caller can deliver without holding the lock
func (r *Registry) roomConns(room RoomKey, exclude string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.rooms[room]))
	for principal := range r.rooms[room] {
		if principal == exclude {
			continue
		}
		if c := r.conns[principal]; c != nil {
			conns = append(conns, c)
		}
	}
	return conns
}

func (r *Registry) workspaceConns(workspaceID, exclude string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.workspaces[workspaceID]))
	for principal, c := range r.workspaces[workspaceID] {
		if principal == exclude {
			continue
		}
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) allConns(exclude string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.conns))
	for principal, c := range r.conns {
		if principal == exclude {
			continue
		}
		conns = append(conns, c)
	}
	return conns
}

// MarkMessageReceived counts an inbound client message
func (r *Registry) MarkMessageReceived() {
	r.messagesReceived.Add(1)
}

func (r *Registry) markMessageSent() {
	r.messagesSent.Add(1)
}
