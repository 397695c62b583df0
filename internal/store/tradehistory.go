package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"sentryfx/internal/core"
)

// TradeHistoryStore is an append-only log of closed positions, grounded on
// the teacher's trader_positions "CLOSED" rows but split into its own
// table since this module has no open/closed status column to share.
type TradeHistoryStore struct {
	db *sql.DB
}

func (s *TradeHistoryStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS trade_history (
			id             TEXT PRIMARY KEY,
			symbol         TEXT NOT NULL,
			side           TEXT NOT NULL,
			initial_amount REAL NOT NULL,
			entry_price    REAL NOT NULL,
			close_price    REAL NOT NULL,
			pnl            REAL NOT NULL,
			status         TEXT NOT NULL,
			timeframe      TEXT NOT NULL DEFAULT '',
			opened_at      TEXT NOT NULL,
			closed_at      TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating trade_history table: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_trade_history_closed ON trade_history(closed_at DESC)`)
	return err
}

// Append records a newly closed trade.
func (s *TradeHistoryStore) Append(e *core.TradeHistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`
		INSERT INTO trade_history (
			id, symbol, side, initial_amount, entry_price, close_price, pnl,
			status, timeframe, opened_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.Symbol, string(e.Side), e.InitialAmount, e.EntryPrice, e.ClosePrice, e.PnL,
		e.Status, e.Timeframe, formatTime(e.OpenedAt), formatTime(e.ClosedAt),
	)
	return err
}

// Recent returns the most recently closed trades, newest first, bounded by
// limit (used to feed recent-performance context to the decision engine).
func (s *TradeHistoryStore) Recent(limit int) ([]*core.TradeHistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, symbol, side, initial_amount, entry_price, close_price, pnl,
		       status, timeframe, opened_at, closed_at
		FROM trade_history
		ORDER BY closed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying trade history: %w", err)
	}
	defer rows.Close()

	var out []*core.TradeHistoryEntry
	for rows.Next() {
		var e core.TradeHistoryEntry
		var side, openedAt, closedAt string
		if err := rows.Scan(
			&e.ID, &e.Symbol, &side, &e.InitialAmount, &e.EntryPrice, &e.ClosePrice, &e.PnL,
			&e.Status, &e.Timeframe, &openedAt, &closedAt,
		); err != nil {
			return nil, err
		}
		e.Side = core.Side(side)
		e.OpenedAt = parseTime(openedAt)
		e.ClosedAt = parseTime(closedAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Stats computes aggregate performance over every closed trade (spec.md
// §5.8's win rate / profit factor / Sharpe / max drawdown bundle),
// grounded on store/position.go's GetFullStats.
func (s *TradeHistoryStore) Stats() (*Stats, error) {
	rows, err := s.db.Query(`SELECT pnl FROM trade_history ORDER BY closed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying trade history stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{}
	var pnls []float64
	var totalWin, totalLoss float64

	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return nil, err
		}
		stats.TotalTrades++
		stats.TotalPnL += pnl
		pnls = append(pnls, pnl)

		switch {
		case pnl > 0:
			stats.WinTrades++
			totalWin += pnl
		case pnl < 0:
			stats.LossTrades++
			totalLoss += -pnl
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinTrades) / float64(stats.TotalTrades) * 100
	}
	if totalLoss > 0 {
		stats.ProfitFactor = totalWin / totalLoss
	}
	if stats.WinTrades > 0 {
		stats.AvgWin = totalWin / float64(stats.WinTrades)
	}
	if stats.LossTrades > 0 {
		stats.AvgLoss = totalLoss / float64(stats.LossTrades)
	}
	stats.SharpeRatio = calculateSharpeRatio(pnls)
	stats.MaxDrawdownPct = calculateMaxDrawdown(pnls)

	return stats, nil
}
