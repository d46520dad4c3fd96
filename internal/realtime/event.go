package realtime

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Task updates
	EventTaskUpdated       = "task_updated"
	EventTaskCreated       = "task_created"
	EventTaskDeleted       = "task_deleted"
	EventTaskAssigned      = "task_assigned"
	EventTaskStatusChanged = "task_status_changed"

	// Project updates
	EventProjectUpdated = "project_updated"
	EventProjectCreated = "project_created"
	EventSprintUpdated  = "sprint_updated"

	// User presence
	EventUserJoined          = "user_joined"
	EventUserLeft            = "user_left"
	EventUserTyping          = "user_typing"
	EventUserEditing         = "user_editing"
	EventUserPresenceUpdated = "user_presence_updated"

	// Real-time collaboration
	EventCommentAdded = "comment_added"
	EventMention      = "mention"
	EventChatMessage  = "chat_message"

	// System notifications
	EventNotification = "notification"
	EventError        = "error"
)

// SystemPrincipal is the origin recorded on events the server emits itself
const SystemPrincipal = "system"

// Event is the envelope delivered to clients. Events are immutable once
// constructed; the Data map must not be mutated after dispatch.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	RoomID    string                 `json:"room_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
}

// NewEvent creates an event without a room or origin principal
func NewEvent(eventType string, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// NewRoomEvent creates an event scoped to a room. origin is the principal
// that caused the event, or SystemPrincipal for server-generated events.
func NewRoomEvent(eventType string, room RoomKey, origin string, data map[string]interface{}) Event {
	ev := NewEvent(eventType, data)
	ev.RoomID = room.String()
	ev.UserID = origin
	return ev
}

// NewUserEvent creates an event attributed to a principal without a room
func NewUserEvent(eventType string, origin string, data map[string]interface{}) Event {
	ev := NewEvent(eventType, data)
	ev.UserID = origin
	return ev
}
