// Package telemetry is a SQLite-backed side channel for child-lifecycle
// events and per-child frame counters. It is pure observability: nothing
// in the mac or ip packages ever reads back from it.
package telemetry

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/loramac/lora-root/internal/mac"
)

// Store wraps the SQLite database connection.
type Store struct {
	conn *sql.DB
}

// Open opens or creates the SQLite database at path.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("telemetry: open database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("telemetry: migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS child_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		prefix INTEGER NOT NULL,
		node_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_child_events_prefix ON child_events(prefix);
	CREATE INDEX IF NOT EXISTS idx_child_events_timestamp ON child_events(timestamp);

	CREATE TABLE IF NOT EXISTS frame_stats (
		prefix INTEGER PRIMARY KEY,
		node_id INTEGER NOT NULL,
		frames_delivered INTEGER NOT NULL DEFAULT 0,
		retransmissions INTEGER NOT NULL DEFAULT 0,
		not_send_count INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// ChildEvent implements mac.EventSink: it records a child-lifecycle
// transition and updates the per-child counters it implies.
func (s *Store) ChildEvent(addr mac.Addr, kind mac.EventKind) {
	if err := s.insertEvent(addr, kind); err != nil {
		return
	}
	switch kind {
	case mac.EventJoinRetransmitted, mac.EventRetransmitExhausted:
		s.bumpCounter(addr, kind)
	}
}

func (s *Store) insertEvent(addr mac.Addr, kind mac.EventKind) error {
	_, err := s.conn.Exec(
		`INSERT INTO child_events (prefix, node_id, kind, timestamp) VALUES (?, ?, ?, ?)`,
		addr.Prefix, addr.NodeID, kind.String(), time.Now(),
	)
	return err
}

func (s *Store) bumpCounter(addr mac.Addr, kind mac.EventKind) {
	column := "retransmissions"
	if kind == mac.EventRetransmitExhausted {
		column = "not_send_count"
	}
	query := fmt.Sprintf(`
		INSERT INTO frame_stats (prefix, node_id, %s, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(prefix) DO UPDATE SET %s = %s + 1, updated_at = excluded.updated_at
	`, column, column, column)
	s.conn.Exec(query, addr.Prefix, addr.NodeID, time.Now())
}

// RecordDelivery increments the delivered-frame counter for addr. Called
// by the IP layer's listener once a packet has been successfully
// rebuilt, independent of the mac.EventSink lifecycle events.
func (s *Store) RecordDelivery(addr mac.Addr) error {
	_, err := s.conn.Exec(`
		INSERT INTO frame_stats (prefix, node_id, frames_delivered, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(prefix) DO UPDATE SET frames_delivered = frames_delivered + 1, updated_at = excluded.updated_at
	`, addr.Prefix, addr.NodeID, time.Now())
	return err
}

// ChildStats is a snapshot row of frame_stats, used by lorarootctl.
type ChildStats struct {
	Prefix          uint8
	NodeID          uint16
	FramesDelivered int64
	Retransmissions int64
	NotSendCount    int64
	UpdatedAt       time.Time
}

// AllChildStats returns every row of frame_stats, ordered by prefix.
func (s *Store) AllChildStats() ([]ChildStats, error) {
	rows, err := s.conn.Query(`
		SELECT prefix, node_id, frames_delivered, retransmissions, not_send_count, updated_at
		FROM frame_stats ORDER BY prefix
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChildStats
	for rows.Next() {
		var c ChildStats
		if err := rows.Scan(&c.Prefix, &c.NodeID, &c.FramesDelivered, &c.Retransmissions, &c.NotSendCount, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ChildEventRecord is a snapshot row of child_events, used by lorarootctl.
type ChildEventRecord struct {
	Prefix    uint8
	NodeID    uint16
	Kind      string
	Timestamp time.Time
}

// RecentEvents returns the most recent limit child_events rows, newest
// first.
func (s *Store) RecentEvents(limit int) ([]ChildEventRecord, error) {
	rows, err := s.conn.Query(`
		SELECT prefix, node_id, kind, timestamp FROM child_events
		ORDER BY timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChildEventRecord
	for rows.Next() {
		var e ChildEventRecord
		if err := rows.Scan(&e.Prefix, &e.NodeID, &e.Kind, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
