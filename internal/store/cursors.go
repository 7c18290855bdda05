package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/cadence/internal/ir"
)

// LoadCursor returns the evaluator cursor for (scope, asset), or an empty
// cursor when none was saved.
func (s *Store) LoadCursor(ctx context.Context, scope string, asset ir.AssetKey) (ir.EvaluationCursor, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor FROM cursors WHERE scope = ? AND asset = ?`,
		scope, string(asset),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.NewEvaluationCursor(), nil
	}
	if err != nil {
		return ir.EvaluationCursor{}, fmt.Errorf("read cursor %s/%s: %w", scope, asset, err)
	}
	c, err := ir.DecodeCursor([]byte(data))
	if err != nil {
		return ir.EvaluationCursor{}, fmt.Errorf("cursor %s/%s: %w", scope, asset, err)
	}
	return c, nil
}

// SaveCursor upserts the cursor for (scope, asset).
func (s *Store) SaveCursor(ctx context.Context, scope string, asset ir.AssetKey, c ir.EvaluationCursor) error {
	return s.SaveCursors(ctx, scope, map[ir.AssetKey]ir.EvaluationCursor{asset: c})
}

// SaveCursors upserts several cursors of one scope in a single transaction.
func (s *Store) SaveCursors(ctx context.Context, scope string, cursors map[ir.AssetKey]ir.EvaluationCursor) error {
	if len(cursors) == 0 {
		return nil
	}
	keys := make([]ir.AssetKey, 0, len(cursors))
	for k := range cursors {
		keys = append(keys, k)
	}
	ir.SortAssetKeys(keys)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, asset := range keys {
			c := cursors[asset]
			data, err := ir.EncodeCursor(c)
			if err != nil {
				return fmt.Errorf("cursor %s/%s: %w", scope, asset, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO cursors (scope, asset, cursor, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(scope, asset) DO UPDATE SET
					cursor = excluded.cursor,
					updated_at = excluded.updated_at
			`, scope, string(asset), string(data), toNanos(c.LastEvaluatedAt)); err != nil {
				return fmt.Errorf("write cursor %s/%s: %w", scope, asset, err)
			}
		}
		return nil
	})
}

// DeleteCursors removes every cursor in scope and returns the number removed.
func (s *Store) DeleteCursors(ctx context.Context, scope string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cursors WHERE scope = ?`, scope)
	if err != nil {
		return 0, fmt.Errorf("delete cursors %s: %w", scope, err)
	}
	return res.RowsAffected()
}

// CursorInfo summarizes a stored cursor for reporting.
type CursorInfo struct {
	Scope     string
	Asset     ir.AssetKey
	UpdatedAt time.Time
}

// ListCursors returns the cursors of a scope ordered by asset.
func (s *Store) ListCursors(ctx context.Context, scope string) ([]CursorInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scope, asset, updated_at FROM cursors
		WHERE scope = ?
		ORDER BY asset ASC
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("query cursors: %w", err)
	}
	defer rows.Close()

	infos := []CursorInfo{}
	for rows.Next() {
		var (
			info    CursorInfo
			asset   string
			updated int64
		)
		if err := rows.Scan(&info.Scope, &asset, &updated); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		info.Asset = ir.AssetKey(asset)
		info.UpdatedAt = fromNanos(updated)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursors: %w", err)
	}
	return infos, nil
}
