package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskboardhq/taskboard/internal/auth"
	"github.com/taskboardhq/taskboard/internal/logger"
	"github.com/taskboardhq/taskboard/internal/realtime"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the initial connect frame after the upgrade.
	connectWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

// wsTransport adapts a gorilla connection to the realtime.Transport
// interface. The mutex serializes event writes against pings and the
// close frame.
type wsTransport struct {
	mu   sync.Mutex
	sock *websocket.Conn
}

func (t *wsTransport) Send(ev realtime.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.sock.SetWriteDeadline(time.Now().Add(writeWait))
	return t.sock.WriteJSON(ev)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.sock.SetWriteDeadline(time.Now().Add(writeWait))
	_ = t.sock.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return t.sock.Close()
}

func (t *wsTransport) ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// session couples one upgraded socket with its registry connection and
// routes inbound client messages
type session struct {
	srv      *Server
	identity *auth.Identity
	conn     *realtime.Conn
	sock     *websocket.Conn
}

// readPump consumes inbound frames until the peer goes away, then tears
// the connection down. Runs on the handler goroutine.
func (s *session) readPump() {
	defer s.srv.registry.DisconnectConn(s.conn)

	s.sock.SetReadLimit(maxMessageSize)
	_ = s.sock.SetReadDeadline(time.Now().Add(pongWait))
	s.sock.SetPongHandler(func(string) error {
		s.conn.Touch()
		return s.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("read from %s: %v", s.identity.Principal, err)
			}
			return
		}
		s.srv.registry.MarkMessageReceived()
		s.conn.Touch()
		s.handleMessage(raw)
	}
}

// pingLoop keeps the peer's read deadline refreshed until the connection
// is torn down
func (s *session) pingLoop(transport *wsTransport) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := transport.ping(); err != nil {
				return
			}
		case <-s.conn.Done():
			return
		}
	}
}

// handleMessage routes one inbound frame. Malformed or unknown messages
// never close the connection.
func (s *session) handleMessage(raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warn("malformed message from %s: %v", s.identity.Principal, err)
		s.sendError("invalid JSON message")
		return
	}

	switch msg.Type {
	case msgJoinRoom:
		s.handleJoinRoom(&msg)
	case msgLeaveRoom:
		s.handleLeaveRoom(&msg)
	case msgTyping:
		s.handleTyping(&msg)
	case msgEditing:
		s.handleEditing(&msg)
	case msgPresence:
		s.handlePresence(&msg)
	case msgChatMessage:
		s.handleChat(&msg)
	default:
		logger.Warn("unknown message type %q from %s", msg.Type, s.identity.Principal)
	}
}

func (s *session) handleJoinRoom(msg *clientMessage) {
	room, err := msg.roomKey()
	if err != nil {
		s.sendError("invalid room: " + err.Error())
		return
	}
	s.srv.registry.JoinRoom(s.identity.Principal, room)

	// Confirmation back to the joining client only
	ack := realtime.NewRoomEvent(realtime.EventUserJoined, room, s.identity.Principal, map[string]interface{}{
		"room_id":   room.String(),
		"room_type": string(room.Kind),
		"user_id":   s.identity.Principal,
	})
	if err := s.conn.Enqueue(ack); err != nil {
		logger.Debug("join ack for %s dropped: %v", s.identity.Principal, err)
	}
}

func (s *session) handleLeaveRoom(msg *clientMessage) {
	room, err := msg.roomKey()
	if err != nil {
		s.sendError("invalid room: " + err.Error())
		return
	}
	s.srv.registry.LeaveRoom(s.identity.Principal, room)

	ack := realtime.NewRoomEvent(realtime.EventUserLeft, room, s.identity.Principal, map[string]interface{}{
		"room_id": room.String(),
		"user_id": s.identity.Principal,
	})
	if err := s.conn.Enqueue(ack); err != nil {
		logger.Debug("leave ack for %s dropped: %v", s.identity.Principal, err)
	}
}

func (s *session) handleTyping(msg *clientMessage) {
	room, err := msg.roomKey()
	if err != nil {
		s.sendError("invalid room: " + err.Error())
		return
	}
	typing := true
	if msg.IsTyping != nil {
		typing = *msg.IsTyping
	}
	s.srv.tracker.SetTyping(room, s.identity.Principal, typing)
}

func (s *session) handleEditing(msg *clientMessage) {
	room, err := msg.roomKey()
	if err != nil {
		s.sendError("invalid room: " + err.Error())
		return
	}
	editing := true
	if msg.IsEditing != nil {
		editing = *msg.IsEditing
	}
	s.srv.tracker.SetEditing(room, s.identity.Principal, editing)
}

func (s *session) handlePresence(msg *clientMessage) {
	status := msg.Status
	if status == "" {
		status = "online"
	}
	s.srv.tracker.UpdatePresence(s.conn.WorkspaceID(), s.identity.Principal, status, msg.Detail)
}

func (s *session) handleChat(msg *clientMessage) {
	if msg.Content == "" {
		s.sendError("room_id and content required")
		return
	}
	room, err := msg.roomKey()
	if err != nil {
		s.sendError("invalid room: " + err.Error())
		return
	}

	ev := realtime.NewRoomEvent(realtime.EventChatMessage, room, s.identity.Principal, map[string]interface{}{
		"room_id":   room.String(),
		"content":   msg.Content,
		"user_id":   s.identity.Principal,
		"user_name": s.conn.Meta().Name,
	})
	// The sender gets the echo too, as confirmation of delivery
	s.srv.dispatcher.BroadcastToRoom(room, ev, "")
}

func (s *session) sendError(message string) {
	ev := realtime.NewUserEvent(realtime.EventError, realtime.SystemPrincipal, map[string]interface{}{
		"error": message,
	})
	if err := s.conn.Enqueue(ev); err != nil {
		logger.Debug("error event for %s dropped: %v", s.identity.Principal, err)
	}
}
