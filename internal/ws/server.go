package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/taskboardhq/taskboard/internal/auth"
	"github.com/taskboardhq/taskboard/internal/logger"
	"github.com/taskboardhq/taskboard/internal/realtime"
)

// Server exposes the WebSocket endpoint and the admin/stats REST surface
type Server struct {
	addr       string
	registry   *realtime.Registry
	dispatcher *realtime.Dispatcher
	tracker    *realtime.Tracker
	verifier   *auth.Verifier
	router     *httprouter.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer creates the server and registers its routes
func NewServer(addr string, reg *realtime.Registry, d *realtime.Dispatcher, tracker *realtime.Tracker, verifier *auth.Verifier) *Server {
	s := &Server{
		addr:       addr,
		registry:   reg,
		dispatcher: d,
		tracker:    tracker,
		verifier:   verifier,
		router:     httprouter.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin access is the reverse proxy's concern
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	// Realtime endpoint
	s.router.GET("/ws/connect/:token", s.handleConnect)

	// Stats and administration
	s.router.GET("/api/v1/ws/stats/workspace/:id", s.withAuth(s.handleWorkspaceStats))
	s.router.GET("/api/v1/ws/stats/global", s.withAdmin(s.handleGlobalStats))
	s.router.GET("/api/v1/ws/connections", s.withAdmin(s.handleConnections))
	s.router.GET("/api/v1/ws/presence/workspace/:id", s.withAuth(s.handleWorkspacePresence))
	s.router.POST("/api/v1/ws/broadcast/global", s.withAdmin(s.handleBroadcastGlobal))
	s.router.POST("/api/v1/ws/broadcast/workspace/:id", s.withAuth(s.handleBroadcastWorkspace))
	s.router.POST("/api/v1/ws/disconnect/user/:id", s.withAdmin(s.handleDisconnectUser))
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving in the background
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("server listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down gracefully
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// handleConnect authenticates, upgrades, reads the connect frame and runs
// the session until the peer disconnects
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	identity, err := s.verifier.Verify(ps.ByName("token"))
	if err != nil {
		logger.Warn("websocket connect rejected: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed: %v", err)
		return
	}

	// The first frame names the workspace and optional profile info
	_ = sock.SetReadDeadline(time.Now().Add(connectWait))
	var req connectRequest
	if err := sock.ReadJSON(&req); err != nil || req.WorkspaceID == "" {
		logger.Warn("rejecting %s: missing or malformed connect frame", identity.Principal)
		_ = sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "workspace_id required"),
			time.Now().Add(writeWait))
		_ = sock.Close()
		return
	}

	meta := req.UserInfo
	if meta == (realtime.Metadata{}) {
		meta = realtime.Metadata{
			Name:   identity.Name,
			Email:  identity.Email,
			Role:   identity.Role,
			Avatar: identity.Avatar,
		}
	}

	transport := &wsTransport{sock: sock}
	conn := s.registry.Connect(identity.Principal, req.WorkspaceID, meta, transport)

	sess := &session{srv: s, identity: identity, conn: conn, sock: sock}
	go sess.pingLoop(transport)
	sess.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeData(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleWorkspaceStats(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ *auth.Identity) {
	writeData(w, http.StatusOK, s.registry.WorkspaceStats(ps.ByName("id")))
}

func (s *Server) handleGlobalStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ *auth.Identity) {
	stats := map[string]interface{}{
		"registry":     s.registry.GlobalStats(),
		"active_rooms": roomStrings(s.registry.ActiveRooms()),
	}
	writeData(w, http.StatusOK, stats)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ *auth.Identity) {
	infos := s.registry.Connections(r.URL.Query().Get("workspace_id"))
	writeData(w, http.StatusOK, map[string]interface{}{
		"connections": infos,
		"total":       len(infos),
	})
}

func (s *Server) handleWorkspacePresence(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ *auth.Identity) {
	writeData(w, http.StatusOK, s.tracker.WorkspacePresence(ps.ByName("id")))
}

func (s *Server) handleBroadcastGlobal(w http.ResponseWriter, r *http.Request, _ httprouter.Params, id *auth.Identity) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	s.dispatcher.BroadcastNotification(id.Principal, data)
	writeData(w, http.StatusOK, map[string]interface{}{"message": "broadcast sent"})
}

func (s *Server) handleBroadcastWorkspace(w http.ResponseWriter, r *http.Request, ps httprouter.Params, id *auth.Identity) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	s.dispatcher.NotifyWorkspace(ps.ByName("id"), id.Principal, data)
	writeData(w, http.StatusOK, map[string]interface{}{"message": "broadcast sent"})
}

func (s *Server) handleDisconnectUser(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ *auth.Identity) {
	principal := ps.ByName("id")
	c := s.registry.Connection(principal)
	if c == nil {
		writeError(w, http.StatusNotFound, "user not connected")
		return
	}
	s.registry.DisconnectConn(c)
	writeData(w, http.StatusOK, map[string]interface{}{"message": "user disconnected"})
}

// authedHandler is an httprouter handler with a verified identity
type authedHandler func(http.ResponseWriter, *http.Request, httprouter.Params, *auth.Identity)

func (s *Server) withAuth(next authedHandler) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		identity, err := s.verifier.Verify(bearerToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next(w, r, ps, identity)
	}
}

func (s *Server) withAdmin(next authedHandler) httprouter.Handle {
	return s.withAuth(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, id *auth.Identity) {
		if !id.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r, ps, id)
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func readBody(w http.ResponseWriter, r *http.Request) (map[string]interface{}, bool) {
	var data map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	return data, true
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response: %v", err)
	}
}

func roomStrings(rooms []realtime.RoomKey) []string {
	out := make([]string, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.String())
	}
	return out
}
