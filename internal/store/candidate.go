package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"sentryfx/internal/core"
)

// ScannerStore holds the scanner's candidate discovery table, which is
// fully replaced on every scan rather than incrementally updated (spec.md
// §5.6's "truncate and reload" contract — the table is a snapshot, not a
// history).
type ScannerStore struct {
	db *sql.DB
}

func (s *ScannerStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS scanner_candidates (
			symbol       TEXT PRIMARY KEY,
			source       TEXT NOT NULL,
			timeframe    TEXT NOT NULL,
			indicators   TEXT NOT NULL DEFAULT '{}',
			last_updated TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating scanner_candidates table: %w", err)
	}
	return nil
}

// Replace atomically swaps the candidate table contents for candidates.
func (s *ScannerStore) Replace(candidates []*core.ScannerCandidate) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM scanner_candidates`); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing scanner_candidates: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO scanner_candidates (symbol, source, timeframe, indicators, last_updated)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candidates {
		indicators, err := json.Marshal(c.Indicators)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshaling indicators for %s: %w", c.Symbol, err)
		}
		if _, err := stmt.Exec(c.Symbol, c.Source, c.Timeframe, string(indicators), formatTime(c.LastUpdated)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting candidate %s: %w", c.Symbol, err)
		}
	}

	return tx.Commit()
}

// All returns every candidate from the most recent scan.
func (s *ScannerStore) All() ([]*core.ScannerCandidate, error) {
	rows, err := s.db.Query(`SELECT symbol, source, timeframe, indicators, last_updated FROM scanner_candidates`)
	if err != nil {
		return nil, fmt.Errorf("querying scanner_candidates: %w", err)
	}
	defer rows.Close()

	var out []*core.ScannerCandidate
	for rows.Next() {
		var c core.ScannerCandidate
		var indicators, lastUpdated string
		if err := rows.Scan(&c.Symbol, &c.Source, &c.Timeframe, &indicators, &lastUpdated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(indicators), &c.Indicators); err != nil {
			return nil, fmt.Errorf("unmarshaling indicators for %s: %w", c.Symbol, err)
		}
		c.LastUpdated = parseTime(lastUpdated)
		out = append(out, &c)
	}
	return out, rows.Err()
}
