package realtime

import (
	"sort"
	"time"
)

// ConnectionInfo is a point-in-time view of one connection
type ConnectionInfo struct {
	UserID        string    `json:"user_id"`
	WorkspaceID   string    `json:"workspace_id"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastActive    time.Time `json:"last_active"`
	Subscriptions []string  `json:"subscriptions"`
	UserInfo      Metadata  `json:"user_info"`
}

// WorkspaceStats summarizes the live connections of one workspace
type WorkspaceStats struct {
	ConnectedUsers int              `json:"connected_users"`
	UserIDs        []string         `json:"user_ids"`
	Connections    []ConnectionInfo `json:"connections"`
}

// GlobalStats summarizes the whole registry
type GlobalStats struct {
	TotalConnections        int            `json:"total_connections"`
	TotalWorkspaces         int            `json:"total_workspaces"`
	ActiveRooms             int            `json:"active_rooms"`
	ConnectionsPerWorkspace map[string]int `json:"connections_per_workspace"`
	ConnectionsEstablished  int64          `json:"connections_established"`
	MessagesSent            int64          `json:"messages_sent"`
	MessagesReceived        int64          `json:"messages_received"`
}

// TotalConnections returns the number of live connections
func (r *Registry) TotalConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// WorkspaceConnectionCount returns the number of live connections in a
// workspace
func (r *Registry) WorkspaceConnectionCount(workspaceID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workspaces[workspaceID])
}

// WorkspaceStats builds a stats snapshot for one workspace
func (r *Registry) WorkspaceStats(workspaceID string) WorkspaceStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ws := r.workspaces[workspaceID]
	stats := WorkspaceStats{
		ConnectedUsers: len(ws),
		UserIDs:        make([]string, 0, len(ws)),
		Connections:    make([]ConnectionInfo, 0, len(ws)),
	}
	for principal, c := range ws {
		stats.UserIDs = append(stats.UserIDs, principal)
		stats.Connections = append(stats.Connections, r.connectionInfoLocked(c))
	}
	sort.Strings(stats.UserIDs)
	sort.Slice(stats.Connections, func(i, j int) bool {
		return stats.Connections[i].UserID < stats.Connections[j].UserID
	})
	return stats
}

// GlobalStats builds a stats snapshot for the whole registry
func (r *Registry) GlobalStats() GlobalStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	perWorkspace := make(map[string]int, len(r.workspaces))
	for workspaceID, ws := range r.workspaces {
		perWorkspace[workspaceID] = len(ws)
	}
	return GlobalStats{
		TotalConnections:        len(r.conns),
		TotalWorkspaces:         len(r.workspaces),
		ActiveRooms:             len(r.rooms),
		ConnectionsPerWorkspace: perWorkspace,
		ConnectionsEstablished:  r.established.Load(),
		MessagesSent:            r.messagesSent.Load(),
		MessagesReceived:        r.messagesReceived.Load(),
	}
}

// Connections lists every live connection, optionally filtered by
// workspace (empty string means all)
func (r *Registry) Connections(workspaceID string) []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var infos []ConnectionInfo
	if workspaceID != "" {
		for _, c := range r.workspaces[workspaceID] {
			infos = append(infos, r.connectionInfoLocked(c))
		}
	} else {
		for _, c := range r.conns {
			infos = append(infos, r.connectionInfoLocked(c))
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].UserID < infos[j].UserID })
	return infos
}

// connectionInfoLocked snapshots one connection. Caller holds mu, which
// also guards the subscription set.
func (r *Registry) connectionInfoLocked(c *Conn) ConnectionInfo {
	subs := make([]string, 0, len(c.subs))
	for room := range c.subs {
		subs = append(subs, room.String())
	}
	sort.Strings(subs)
	return ConnectionInfo{
		UserID:        c.principal,
		WorkspaceID:   c.workspaceID,
		ConnectedAt:   c.connectedAt,
		LastActive:    c.LastActive(),
		Subscriptions: subs,
		UserInfo:      c.meta,
	}
}
