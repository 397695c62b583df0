package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"sentryfx/internal/core"
)

// EventStore persists the append-only event log every component writes to
// and the dashboard/notifier read from (spec.md §5.9).
type EventStore struct {
	db *sql.DB
}

func (s *EventStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id        TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			level     TEXT NOT NULL,
			category  TEXT NOT NULL,
			message   TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating events table: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp DESC)`)
	return err
}

// Append records a new event.
func (s *EventStore) Append(e *core.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`
		INSERT INTO events (id, timestamp, level, category, message) VALUES (?, ?, ?, ?, ?)
	`, e.ID, formatTime(e.Timestamp), string(e.Level), e.Category, e.Message)
	return err
}

// Recent returns the most recent events, newest first, bounded by limit.
func (s *EventStore) Recent(limit int) ([]*core.Event, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, level, category, message
		FROM events
		ORDER BY timestamp DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []*core.Event
	for rows.Next() {
		var e core.Event
		var level, ts string
		if err := rows.Scan(&e.ID, &ts, &level, &e.Category, &e.Message); err != nil {
			return nil, err
		}
		e.Level = core.EventLevel(level)
		e.Timestamp = parseTime(ts)
		out = append(out, &e)
	}
	return out, rows.Err()
}
