package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sentryfx/internal/core"
)

// PresetStore persists named settings bundles a user can save and reapply
// (spec.md §5.7's Preset type).
type PresetStore struct {
	db *sql.DB
}

func (s *PresetStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS presets (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL UNIQUE,
			settings   TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating presets table: %w", err)
	}
	return nil
}

// Save inserts a new preset or overwrites the existing one with the same
// name.
func (s *PresetStore) Save(p *core.Preset) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	settings, err := json.Marshal(p.Settings)
	if err != nil {
		return fmt.Errorf("marshaling preset settings: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO presets (id, name, settings, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET settings = excluded.settings
	`, p.ID, p.Name, string(settings), formatTime(p.CreatedAt))
	return err
}

// Get returns the preset with the given name, or nil if it does not exist.
func (s *PresetStore) Get(name string) (*core.Preset, error) {
	row := s.db.QueryRow(`SELECT id, name, settings, created_at FROM presets WHERE name = ?`, name)
	p, err := scanPreset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// All returns every saved preset.
func (s *PresetStore) All() ([]*core.Preset, error) {
	rows, err := s.db.Query(`SELECT id, name, settings, created_at FROM presets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying presets: %w", err)
	}
	defer rows.Close()

	var out []*core.Preset
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete removes the preset with the given name.
func (s *PresetStore) Delete(name string) error {
	_, err := s.db.Exec(`DELETE FROM presets WHERE name = ?`, name)
	return err
}

func scanPreset(row rowScanner) (*core.Preset, error) {
	var p core.Preset
	var settings, createdAt string
	if err := row.Scan(&p.ID, &p.Name, &settings, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(settings), &p.Settings); err != nil {
		return nil, fmt.Errorf("unmarshaling preset settings for %s: %w", p.Name, err)
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}
