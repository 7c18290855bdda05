package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/cadence/internal/ir"
)

// TickRecord summarizes one evaluator tick.
type TickRecord struct {
	ID          int64
	Scope       string
	EvaluatedAt time.Time
	Requested   int
	Errors      int

	// Summary holds per-asset request counts and error messages.
	Summary ir.Object
}

// WriteTick appends a tick summary and returns its id.
func (s *Store) WriteTick(ctx context.Context, tick TickRecord) (int64, error) {
	summary := tick.Summary
	if summary == nil {
		summary = ir.Object{}
	}
	data, err := ir.MarshalCanonical(summary)
	if err != nil {
		return 0, fmt.Errorf("marshal tick summary: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ticks (scope, evaluated_at, requested, errors, summary)
		VALUES (?, ?, ?, ?, ?)
	`, tick.Scope, toNanos(tick.EvaluatedAt), tick.Requested, tick.Errors, string(data))
	if err != nil {
		return 0, fmt.Errorf("write tick: %w", err)
	}
	return res.LastInsertId()
}

// ReadTicks returns the most recent ticks of a scope, newest first.
// A non-positive limit returns all ticks.
func (s *Store) ReadTicks(ctx context.Context, scope string, limit int) ([]TickRecord, error) {
	query := `
		SELECT id, scope, evaluated_at, requested, errors, summary
		FROM ticks
		WHERE scope = ?
		ORDER BY evaluated_at DESC, id DESC`
	args := []any{scope}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	ticks := []TickRecord{}
	for rows.Next() {
		var (
			tick    TickRecord
			at      int64
			summary string
		)
		if err := rows.Scan(&tick.ID, &tick.Scope, &at, &tick.Requested, &tick.Errors, &summary); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		tick.EvaluatedAt = fromNanos(at)
		if err := tick.Summary.UnmarshalJSON([]byte(summary)); err != nil {
			return nil, fmt.Errorf("tick %d summary: %w", tick.ID, err)
		}
		ticks = append(ticks, tick)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticks: %w", err)
	}
	return ticks, nil
}
