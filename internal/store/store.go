// Package store is the persistence layer: a single SQLite database
// (accessed through modernc.org/sqlite, a pure-Go driver) behind a facade
// that lazily builds one sub-store per concern, mirroring the teacher's
// store.Store layout.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"sentryfx/internal/logger"
)

// Store is the unified storage facade every component talks to.
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	position *PositionStore
	trade    *TradeHistoryStore
	event    *EventStore
	scanner  *ScannerStore
	preset   *PresetStore
}

// Open creates (or reuses) the SQLite database at path and initializes
// every table. Pass ":memory:" for a throwaway in-process database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway

	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing tables: %w", err)
	}

	logger.Infof("database initialized at %s", path)
	return s, nil
}

func (s *Store) initTables() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS system_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating system_config table: %w", err)
	}

	if err := s.Position().initTables(); err != nil {
		return fmt.Errorf("initializing position tables: %w", err)
	}
	if err := s.TradeHistory().initTables(); err != nil {
		return fmt.Errorf("initializing trade history tables: %w", err)
	}
	if err := s.Event().initTables(); err != nil {
		return fmt.Errorf("initializing event tables: %w", err)
	}
	if err := s.Scanner().initTables(); err != nil {
		return fmt.Errorf("initializing scanner tables: %w", err)
	}
	if err := s.Preset().initTables(); err != nil {
		return fmt.Errorf("initializing preset tables: %w", err)
	}
	return nil
}

// Position returns the lazily-initialized position sub-store.
func (s *Store) Position() *PositionStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.position == nil {
		s.position = &PositionStore{db: s.db}
	}
	return s.position
}

// TradeHistory returns the lazily-initialized trade history sub-store.
func (s *Store) TradeHistory() *TradeHistoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trade == nil {
		s.trade = &TradeHistoryStore{db: s.db}
	}
	return s.trade
}

// Event returns the lazily-initialized event sub-store.
func (s *Store) Event() *EventStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.event == nil {
		s.event = &EventStore{db: s.db}
	}
	return s.event
}

// Scanner returns the lazily-initialized scanner candidate sub-store.
func (s *Store) Scanner() *ScannerStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanner == nil {
		s.scanner = &ScannerStore{db: s.db}
	}
	return s.scanner
}

// Preset returns the lazily-initialized preset sub-store.
func (s *Store) Preset() *PresetStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.preset == nil {
		s.preset = &PresetStore{db: s.db}
	}
	return s.preset
}

// GetSystemConfig implements config.KVStore.
func (s *Store) GetSystemConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM system_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetSystemConfig implements config.KVStore.
func (s *Store) SetSystemConfig(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO system_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
