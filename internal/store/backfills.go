package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/cadence/internal/ir"
)

const backfillColumns = `id, status, target, cursor, error, created_at, updated_at`

// SaveBackfill inserts or replaces a backfill row.
func (s *Store) SaveBackfill(ctx context.Context, b ir.PartitionBackfill) error {
	if b.ID == "" {
		return fmt.Errorf("save backfill: id is required")
	}
	target, err := marshalTarget(b.Target)
	if err != nil {
		return fmt.Errorf("save backfill %s: %w", b.ID, err)
	}
	cursor, err := marshalBackfillCursor(b.Cursor)
	if err != nil {
		return fmt.Errorf("save backfill %s: %w", b.ID, err)
	}
	errInfo, err := marshalErrorInfo(b.Error)
	if err != nil {
		return fmt.Errorf("save backfill %s: %w", b.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backfills (`+backfillColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			target = excluded.target,
			cursor = excluded.cursor,
			error = excluded.error,
			updated_at = excluded.updated_at
	`,
		b.ID,
		string(b.Status),
		target,
		cursor,
		errInfo,
		toNanos(b.CreatedAt),
		toNanos(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("write backfill %s: %w", b.ID, err)
	}
	return nil
}

// ReadBackfill returns the backfill with the given id, or ErrNotFound.
func (s *Store) ReadBackfill(ctx context.Context, id string) (ir.PartitionBackfill, error) {
	b, err := scanBackfill(s.db.QueryRowContext(ctx,
		`SELECT `+backfillColumns+` FROM backfills WHERE id = ?`, id))
	if err != nil {
		return ir.PartitionBackfill{}, notFound(err, "backfill", id)
	}
	return b, nil
}

// UpdateBackfill overwrites an existing backfill row only while its stored
// status is still expected. It reports whether the row was written; false
// means another writer changed the status first, or the row is gone.
func (s *Store) UpdateBackfill(ctx context.Context, b ir.PartitionBackfill, expected ir.BackfillStatus) (bool, error) {
	target, err := marshalTarget(b.Target)
	if err != nil {
		return false, fmt.Errorf("update backfill %s: %w", b.ID, err)
	}
	cursor, err := marshalBackfillCursor(b.Cursor)
	if err != nil {
		return false, fmt.Errorf("update backfill %s: %w", b.ID, err)
	}
	errInfo, err := marshalErrorInfo(b.Error)
	if err != nil {
		return false, fmt.Errorf("update backfill %s: %w", b.ID, err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE backfills
		SET status = ?, target = ?, cursor = ?, error = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`,
		string(b.Status),
		target,
		cursor,
		errInfo,
		toNanos(b.UpdatedAt),
		b.ID,
		string(expected),
	)
	if err != nil {
		return false, fmt.Errorf("update backfill %s: %w", b.ID, err)
	}
	return rowsChanged(res, b.ID)
}

// SetBackfillStatus moves a backfill from one status to another without
// touching its cursor. It reports whether the transition was applied.
func (s *Store) SetBackfillStatus(ctx context.Context, id string, from, to ir.BackfillStatus, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE backfills SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), toNanos(at), id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("set backfill %s status: %w", id, err)
	}
	return rowsChanged(res, id)
}

func rowsChanged(res sql.Result, id string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("backfill %s: %w", id, err)
	}
	return n == 1, nil
}

// LoadBackfills returns backfills in any of statuses (all when none given),
// ordered by creation time, then id.
func (s *Store) LoadBackfills(ctx context.Context, statuses ...ir.BackfillStatus) ([]ir.PartitionBackfill, error) {
	query := `SELECT ` + backfillColumns + ` FROM backfills`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query backfills: %w", err)
	}
	defer rows.Close()

	backfills := []ir.PartitionBackfill{}
	for rows.Next() {
		b, err := scanBackfill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backfill: %w", err)
		}
		backfills = append(backfills, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backfills: %w", err)
	}
	return backfills, nil
}

func scanBackfill(row rowScanner) (ir.PartitionBackfill, error) {
	var (
		b       ir.PartitionBackfill
		status  string
		target  string
		cursor  string
		errInfo sql.NullString
		created int64
		updated int64
	)
	if err := row.Scan(&b.ID, &status, &target, &cursor, &errInfo, &created, &updated); err != nil {
		return ir.PartitionBackfill{}, err
	}
	var err error
	b.Status = ir.BackfillStatus(status)
	if b.Target, err = unmarshalTarget(target); err != nil {
		return ir.PartitionBackfill{}, err
	}
	if b.Cursor, err = ir.DecodeBackfillCursor([]byte(cursor)); err != nil {
		return ir.PartitionBackfill{}, err
	}
	if b.Error, err = unmarshalErrorInfo(errInfo); err != nil {
		return ir.PartitionBackfill{}, err
	}
	b.CreatedAt = fromNanos(created)
	b.UpdatedAt = fromNanos(updated)
	return b, nil
}
