package ws

import "github.com/taskboardhq/taskboard/internal/realtime"

// Inbound client message types
const (
	msgJoinRoom    = "join_room"
	msgLeaveRoom   = "leave_room"
	msgTyping      = "typing"
	msgEditing     = "editing"
	msgPresence    = "presence"
	msgChatMessage = "chat_message"
)

// connectRequest is the first frame a client sends after the upgrade
type connectRequest struct {
	WorkspaceID string            `json:"workspace_id"`
	UserInfo    realtime.Metadata `json:"user_info"`
}

// clientMessage is the envelope for everything a client sends after
// connecting. Room ids are in their wire form, e.g. "project:p1"; the
// join_room message may alternatively carry a bare id plus room_type.
type clientMessage struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id,omitempty"`
	RoomType string `json:"room_type,omitempty"`

	// typing / editing
	IsTyping  *bool `json:"is_typing,omitempty"`
	IsEditing *bool `json:"is_editing,omitempty"`

	// presence
	Status string                 `json:"status,omitempty"`
	Detail map[string]interface{} `json:"detail,omitempty"`

	// chat_message
	Content string `json:"content,omitempty"`
}

// roomKey resolves the room a message refers to
func (m *clientMessage) roomKey() (realtime.RoomKey, error) {
	if m.RoomType != "" {
		return realtime.MakeRoomKey(m.RoomType, m.RoomID)
	}
	return realtime.ParseRoomKey(m.RoomID)
}
