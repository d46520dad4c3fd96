// Package activity persists a log of dispatched events to SQLite so that
// recent workspace activity survives restarts and can be queried over the
// admin API.
package activity

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/taskboardhq/taskboard/internal/logger"
	"github.com/taskboardhq/taskboard/internal/realtime"
)

// Entry is one recorded event
type Entry struct {
	ID        int64                  `json:"id"`
	EventID   string                 `json:"event_id"`
	Type      string                 `json:"type"`
	RoomID    string                 `json:"room_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Store handles SQLite operations for the activity log
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (or creates) the activity database and ensures the schema
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS activity_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL,
		type TEXT NOT NULL,
		room_id TEXT,
		user_id TEXT,
		data TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activity_log_room ON activity_log(room_id);
	CREATE INDEX IF NOT EXISTS idx_activity_log_user ON activity_log(user_id);
	CREATE INDEX IF NOT EXISTS idx_activity_log_timestamp ON activity_log(timestamp);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create initial schema: %w", err)
	}
	return nil
}

// ObserveEvent records one dispatched event. Implements realtime.Observer;
// a failed insert is logged and swallowed so delivery is never affected.
func (s *Store) ObserveEvent(ev realtime.Event) {
	var data []byte
	if len(ev.Data) > 0 {
		var err error
		data, err = json.Marshal(ev.Data)
		if err != nil {
			logger.Warn("activity: failed to encode event %s: %v", ev.ID, err)
			data = nil
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO activity_log (event_id, type, room_id, user_id, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.Type, ev.RoomID, ev.UserID, string(data), ev.Timestamp)
	if err != nil {
		logger.Warn("activity: failed to record event %s: %v", ev.ID, err)
	}
}

// Recent returns the newest entries, most recent first
func (s *Store) Recent(limit int) ([]Entry, error) {
	return s.query(`
		SELECT id, event_id, type, room_id, user_id, data, timestamp
		FROM activity_log ORDER BY id DESC LIMIT ?
	`, limit)
}

// RecentByRoom returns the newest entries for one room, most recent first
func (s *Store) RecentByRoom(room realtime.RoomKey, limit int) ([]Entry, error) {
	return s.query(`
		SELECT id, event_id, type, room_id, user_id, data, timestamp
		FROM activity_log WHERE room_id = ? ORDER BY id DESC LIMIT ?
	`, room.String(), limit)
}

// RecentByUser returns the newest entries attributed to one user
func (s *Store) RecentByUser(userID string, limit int) ([]Entry, error) {
	return s.query(`
		SELECT id, event_id, type, room_id, user_id, data, timestamp
		FROM activity_log WHERE user_id = ? ORDER BY id DESC LIMIT ?
	`, userID, limit)
}

// Prune deletes entries older than the cutoff and returns how many went
func (s *Store) Prune(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM activity_log WHERE timestamp < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) query(q string, args ...interface{}) ([]Entry, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var roomID, userID, data sql.NullString
		if err := rows.Scan(&e.ID, &e.EventID, &e.Type, &roomID, &userID, &data, &e.Timestamp); err != nil {
			return nil, err
		}
		e.RoomID = roomID.String
		e.UserID = userID.String
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				logger.Warn("activity: corrupt data payload in entry %d: %v", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
