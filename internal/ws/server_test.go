package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboardhq/taskboard/internal/auth"
	"github.com/taskboardhq/taskboard/internal/logger"
	"github.com/taskboardhq/taskboard/internal/realtime"
)

func TestMain(m *testing.M) {
	logger.Global().SetLevel(logger.LevelNone)
	os.Exit(m.Run())
}

type fixture struct {
	srv      *Server
	ts       *httptest.Server
	verifier *auth.Verifier
	registry *realtime.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := realtime.NewRegistry()
	d := realtime.NewDispatcher(reg)
	tracker := realtime.NewTracker(d, realtime.TrackerConfig{
		SweepInterval: 10 * time.Millisecond,
	})
	tracker.Start()
	t.Cleanup(tracker.Stop)

	verifier := auth.NewVerifier("test-secret")
	srv := NewServer(":0", reg, d, tracker, verifier)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{srv: srv, ts: ts, verifier: verifier, registry: reg}
}

func (f *fixture) token(t *testing.T, principal, role string) string {
	t.Helper()
	token, err := f.verifier.Sign(&auth.Identity{
		Principal: principal,
		Name:      strings.ToUpper(principal),
		Role:      role,
	}, time.Minute)
	require.NoError(t, err)
	return token
}

func (f *fixture) dial(t *testing.T, principal, workspaceID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws/connect/" + f.token(t, principal, "member")
	sock, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { sock.Close() })

	require.NoError(t, sock.WriteJSON(map[string]interface{}{"workspace_id": workspaceID}))

	// The registry registers the connection once it has the frame above
	require.Eventually(t, func() bool {
		return f.registry.Connection(principal) != nil
	}, 2*time.Second, 5*time.Millisecond)
	return sock
}

// readUntil reads frames until an event of the wanted type arrives
func readUntil(t *testing.T, sock *websocket.Conn, eventType string) realtime.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, sock.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev realtime.Event
		require.NoError(t, sock.ReadJSON(&ev))
		if ev.Type == eventType {
			return ev
		}
	}
	t.Fatalf("no %s event received", eventType)
	return realtime.Event{}
}

func TestConnectRejectsBadToken(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws/connect/garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectRequiresWorkspace(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws/connect/" + f.token(t, "u1", "member")
	sock, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer sock.Close()

	require.NoError(t, sock.WriteJSON(map[string]interface{}{"user_info": map[string]string{"name": "x"}}))

	require.NoError(t, sock.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = sock.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
	assert.Zero(t, f.registry.TotalConnections())
}

func TestConnectAnnouncesToWorkspace(t *testing.T) {
	f := newFixture(t)

	u1 := f.dial(t, "u1", "w1")
	f.dial(t, "u2", "w1")

	ev := readUntil(t, u1, realtime.EventUserJoined)
	assert.Equal(t, "u2", ev.Data["user_id"])
	assert.Equal(t, "workspace:w1", ev.RoomID)
}

func TestJoinRoomAndChat(t *testing.T) {
	f := newFixture(t)

	u1 := f.dial(t, "u1", "w1")
	u2 := f.dial(t, "u2", "w1")

	require.NoError(t, u1.WriteJSON(map[string]interface{}{
		"type": "join_room", "room_id": "p1", "room_type": "project",
	}))
	readUntil(t, u1, realtime.EventUserJoined) // join ack

	require.NoError(t, u2.WriteJSON(map[string]interface{}{
		"type": "join_room", "room_id": "project:p1",
	}))
	readUntil(t, u2, realtime.EventUserJoined)

	require.NoError(t, u2.WriteJSON(map[string]interface{}{
		"type": "chat_message", "room_id": "project:p1", "content": "hello",
	}))

	got := readUntil(t, u1, realtime.EventChatMessage)
	assert.Equal(t, "hello", got.Data["content"])
	assert.Equal(t, "u2", got.Data["user_id"])
	assert.Equal(t, "U2", got.Data["user_name"])

	// The sender receives the echo as delivery confirmation
	echo := readUntil(t, u2, realtime.EventChatMessage)
	assert.Equal(t, "hello", echo.Data["content"])
}

func TestTypingIndicatorOverWire(t *testing.T) {
	f := newFixture(t)

	u1 := f.dial(t, "u1", "w1")
	u2 := f.dial(t, "u2", "w1")

	for _, sock := range []*websocket.Conn{u1, u2} {
		require.NoError(t, sock.WriteJSON(map[string]interface{}{
			"type": "join_room", "room_id": "task:t1",
		}))
		readUntil(t, sock, realtime.EventUserJoined)
	}

	require.NoError(t, u1.WriteJSON(map[string]interface{}{
		"type": "typing", "room_id": "task:t1", "is_typing": true,
	}))

	ev := readUntil(t, u2, realtime.EventUserTyping)
	assert.Equal(t, "u1", ev.Data["user_id"])
	assert.Equal(t, true, ev.Data["is_typing"])
}

func TestUnknownMessageIgnored(t *testing.T) {
	f := newFixture(t)

	u1 := f.dial(t, "u1", "w1")
	u2 := f.dial(t, "u2", "w1")

	require.NoError(t, u1.WriteJSON(map[string]interface{}{"type": "bogus"}))

	// The connection survives: a follow-up presence update still flows
	require.NoError(t, u1.WriteJSON(map[string]interface{}{"type": "presence", "status": "away"}))
	ev := readUntil(t, u2, realtime.EventUserPresenceUpdated)
	assert.Equal(t, "u1", ev.Data["user_id"])
}

func TestMalformedMessageGetsErrorEvent(t *testing.T) {
	f := newFixture(t)
	u1 := f.dial(t, "u1", "w1")

	require.NoError(t, u1.WriteMessage(websocket.TextMessage, []byte("{not json")))

	ev := readUntil(t, u1, realtime.EventError)
	assert.Contains(t, ev.Data["error"], "invalid JSON")
}

func TestPeerDisconnectAnnouncesUserLeft(t *testing.T) {
	f := newFixture(t)

	u1 := f.dial(t, "u1", "w1")
	u2 := f.dial(t, "u2", "w1")
	readUntil(t, u1, realtime.EventUserJoined)

	require.NoError(t, u2.Close())

	ev := readUntil(t, u1, realtime.EventUserLeft)
	assert.Equal(t, "u2", ev.Data["user_id"])
	assert.Eventually(t, func() bool {
		return f.registry.TotalConnections() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWorkspaceStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.dial(t, "u1", "w1")

	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+"/api/v1/ws/stats/workspace/w1", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, "u1", "member"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool                    `json:"success"`
		Data    realtime.WorkspaceStats `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, 1, body.Data.ConnectedUsers)
	assert.Equal(t, []string{"u1"}, body.Data.UserIDs)
}

func TestGlobalStatsRequiresAdmin(t *testing.T) {
	f := newFixture(t)

	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+"/api/v1/ws/stats/global", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, "u1", "member"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req.Header.Set("Authorization", "Bearer "+f.token(t, "root", "admin"))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatsEndpointRejectsMissingToken(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.ts.URL + "/api/v1/ws/stats/workspace/w1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminDisconnectEndpoint(t *testing.T) {
	f := newFixture(t)
	u1 := f.dial(t, "u1", "w1")

	req, _ := http.NewRequest(http.MethodPost, f.ts.URL+"/api/v1/ws/disconnect/user/u1", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer "+f.token(t, "root", "admin"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, u1.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := u1.ReadMessage(); err != nil {
			break
		}
	}
	assert.Zero(t, f.registry.TotalConnections())
}

func TestAdminBroadcastEndpoint(t *testing.T) {
	f := newFixture(t)
	u1 := f.dial(t, "u1", "w1")

	req, _ := http.NewRequest(http.MethodPost, f.ts.URL+"/api/v1/ws/broadcast/global",
		strings.NewReader(`{"message": "maintenance at noon"}`))
	req.Header.Set("Authorization", "Bearer "+f.token(t, "root", "admin"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ev := readUntil(t, u1, realtime.EventNotification)
	assert.Equal(t, "maintenance at noon", ev.Data["message"])
}

func TestClientMessageRoomKey(t *testing.T) {
	msg := &clientMessage{RoomID: "project:p1"}
	key, err := msg.roomKey()
	require.NoError(t, err)
	assert.Equal(t, realtime.ProjectRoom("p1"), key)

	msg = &clientMessage{RoomID: "p1", RoomType: "project"}
	key, err = msg.roomKey()
	require.NoError(t, err)
	assert.Equal(t, realtime.ProjectRoom("p1"), key)

	msg = &clientMessage{RoomID: "p1"}
	_, err = msg.roomKey()
	assert.Error(t, err)
}
