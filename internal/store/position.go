package store

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"sentryfx/internal/core"
)

// PositionStore persists open and closed managed positions.
type PositionStore struct {
	db *sql.DB
}

func (s *PositionStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			symbol                      TEXT PRIMARY KEY,
			side                        TEXT NOT NULL,
			entry_price                 REAL NOT NULL,
			initial_amount              REAL NOT NULL,
			initial_stop_loss           REAL NOT NULL,
			leverage                    INTEGER NOT NULL,
			timeframe                   TEXT NOT NULL DEFAULT '',
			reason                      TEXT NOT NULL DEFAULT '',
			amount                      REAL NOT NULL,
			stop_loss                   REAL NOT NULL,
			take_profit                 REAL NOT NULL DEFAULT 0,
			pnl                         REAL NOT NULL DEFAULT 0,
			pnl_percentage              REAL NOT NULL DEFAULT 0,
			partial_tp_executed         INTEGER NOT NULL DEFAULT 0,
			bailout_armed               INTEGER NOT NULL DEFAULT 0,
			extremum_price              REAL NOT NULL DEFAULT 0,
			bailout_analysis_triggered  INTEGER NOT NULL DEFAULT 0,
			created_at                  TEXT NOT NULL,
			updated_at                  TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating positions table: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_positions_side ON positions(side)`)
	return err
}

// Upsert inserts or fully overwrites the row for p.Symbol (the Position
// Manager treats position rows as whole-value snapshots, never partial
// column updates).
func (s *PositionStore) Upsert(p *core.Position) error {
	p.UpdatedAt = time.Now()
	_, err := s.db.Exec(`
		INSERT INTO positions (
			symbol, side, entry_price, initial_amount, initial_stop_loss, leverage,
			timeframe, reason, amount, stop_loss, take_profit, pnl, pnl_percentage,
			partial_tp_executed, bailout_armed, extremum_price, bailout_analysis_triggered,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			side = excluded.side,
			entry_price = excluded.entry_price,
			initial_amount = excluded.initial_amount,
			initial_stop_loss = excluded.initial_stop_loss,
			leverage = excluded.leverage,
			timeframe = excluded.timeframe,
			reason = excluded.reason,
			amount = excluded.amount,
			stop_loss = excluded.stop_loss,
			take_profit = excluded.take_profit,
			pnl = excluded.pnl,
			pnl_percentage = excluded.pnl_percentage,
			partial_tp_executed = excluded.partial_tp_executed,
			bailout_armed = excluded.bailout_armed,
			extremum_price = excluded.extremum_price,
			bailout_analysis_triggered = excluded.bailout_analysis_triggered,
			updated_at = excluded.updated_at
	`,
		p.Symbol, string(p.Side), p.EntryPrice, p.InitialAmount, p.InitialStopLoss, p.Leverage,
		p.Timeframe, p.Reason, p.Amount, p.StopLoss, p.TakeProfit, p.PnL, p.PnLPercentage,
		boolToInt(p.PartialTPExecuted), boolToInt(p.BailoutArmed), p.ExtremumPrice,
		boolToInt(p.BailoutAnalysisTriggered), formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	return err
}

// Delete removes the row for symbol (called once the position is closed
// and archived to trade history).
func (s *PositionStore) Delete(symbol string) error {
	_, err := s.db.Exec(`DELETE FROM positions WHERE symbol = ?`, symbol)
	return err
}

// Get returns the position for symbol, or nil if none is open.
func (s *PositionStore) Get(symbol string) (*core.Position, error) {
	row := s.db.QueryRow(`SELECT `+positionColumns+` FROM positions WHERE symbol = ?`, symbol)
	pos, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return pos, err
}

// All returns every currently-open managed position.
func (s *PositionStore) All() ([]*core.Position, error) {
	rows, err := s.db.Query(`SELECT ` + positionColumns + ` FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("querying positions: %w", err)
	}
	defer rows.Close()

	var out []*core.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

const positionColumns = `
	symbol, side, entry_price, initial_amount, initial_stop_loss, leverage,
	timeframe, reason, amount, stop_loss, take_profit, pnl, pnl_percentage,
	partial_tp_executed, bailout_armed, extremum_price, bailout_analysis_triggered,
	created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*core.Position, error) {
	var p core.Position
	var side string
	var partialTP, bailoutArmed, bailoutTriggered int
	var createdAt, updatedAt string

	err := row.Scan(
		&p.Symbol, &side, &p.EntryPrice, &p.InitialAmount, &p.InitialStopLoss, &p.Leverage,
		&p.Timeframe, &p.Reason, &p.Amount, &p.StopLoss, &p.TakeProfit, &p.PnL, &p.PnLPercentage,
		&partialTP, &bailoutArmed, &p.ExtremumPrice, &bailoutTriggered,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Side = core.Side(side)
	p.PartialTPExecuted = partialTP != 0
	p.BailoutArmed = bailoutArmed != 0
	p.BailoutAnalysisTriggered = bailoutTriggered != 0
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// Stats summarizes closed-trade performance, mirroring the teacher's
// win-rate/profit-factor/Sharpe/max-drawdown bundle.
type Stats struct {
	TotalTrades    int
	WinTrades      int
	LossTrades     int
	WinRate        float64
	ProfitFactor   float64
	SharpeRatio    float64
	TotalPnL       float64
	AvgWin         float64
	AvgLoss        float64
	MaxDrawdownPct float64
}

func calculateSharpeRatio(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}
	var sum float64
	for _, pnl := range pnls {
		sum += pnl
	}
	mean := sum / float64(len(pnls))

	var variance float64
	for _, pnl := range pnls {
		variance += (pnl - mean) * (pnl - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(pnls)-1))
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}

func calculateMaxDrawdown(pnls []float64) float64 {
	var cumulative, peak, maxDD float64
	for _, pnl := range pnls {
		cumulative += pnl
		if cumulative > peak {
			peak = cumulative
		}
		if peak > 0 {
			if dd := (peak - cumulative) / peak * 100; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
