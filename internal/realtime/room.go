package realtime

import (
	"fmt"
	"strings"
)

// RoomKind distinguishes the broadcast scopes a room can represent
type RoomKind string

const (
	RoomWorkspace RoomKind = "workspace"
	RoomProject   RoomKind = "project"
	RoomTask      RoomKind = "task"
)

// Valid reports whether the kind is one of the known room kinds
func (k RoomKind) Valid() bool {
	switch k {
	case RoomWorkspace, RoomProject, RoomTask:
		return true
	}
	return false
}

// RoomKey identifies a broadcast scope. Using a typed key instead of bare
// strings keeps workspace/project/task rooms from ever colliding.
type RoomKey struct {
	Kind RoomKind
	ID   string
}

// WorkspaceRoom returns the room key for a workspace
func WorkspaceRoom(id string) RoomKey {
	return RoomKey{Kind: RoomWorkspace, ID: id}
}

// ProjectRoom returns the room key for a project
func ProjectRoom(id string) RoomKey {
	return RoomKey{Kind: RoomProject, ID: id}
}

// TaskRoom returns the room key for a task
func TaskRoom(id string) RoomKey {
	return RoomKey{Kind: RoomTask, ID: id}
}

// IsZero reports whether the key is unset
func (r RoomKey) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

// String renders the key in its wire form, e.g. "project:p1"
func (r RoomKey) String() string {
	return string(r.Kind) + ":" + r.ID
}

// ParseRoomKey parses a wire-form room identifier like "task:t42"
func ParseRoomKey(s string) (RoomKey, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return RoomKey{}, fmt.Errorf("malformed room id %q", s)
	}
	k := RoomKind(kind)
	if !k.Valid() {
		return RoomKey{}, fmt.Errorf("unknown room kind %q", kind)
	}
	return RoomKey{Kind: k, ID: id}, nil
}

// MakeRoomKey builds a key from separate kind and id strings, as received
// in join_room messages
func MakeRoomKey(kind, id string) (RoomKey, error) {
	k := RoomKind(kind)
	if !k.Valid() {
		return RoomKey{}, fmt.Errorf("unknown room kind %q", kind)
	}
	if id == "" {
		return RoomKey{}, fmt.Errorf("empty room id")
	}
	return RoomKey{Kind: k, ID: id}, nil
}
