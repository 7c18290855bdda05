package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/cadence/internal/ir"
)

// ErrTerminalRun is returned when a status update targets a run that has
// already reached a different terminal status.
var ErrTerminalRun = errors.New("run already terminal")

const runColumns = `id, request_key, asset, partition, backfill_id, status, created_at, updated_at`

// InsertRun stores a run unless one with the same request key exists.
// It returns the stored run (the pre-existing one on conflict) and whether
// this call inserted it.
func (s *Store) InsertRun(ctx context.Context, run ir.Run) (ir.Run, bool, error) {
	if run.ID == "" || run.RequestKey == "" {
		return ir.Run{}, false, fmt.Errorf("insert run: id and request key are required")
	}
	if run.Status == "" {
		run.Status = ir.RunPending
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.CreatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Run{}, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_key) DO NOTHING
	`,
		run.ID,
		run.RequestKey,
		string(run.Asset),
		string(run.Partition),
		run.BackfillID,
		string(run.Status),
		toNanos(run.CreatedAt),
		toNanos(run.UpdatedAt),
	)
	if err != nil {
		return ir.Run{}, false, fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ir.Run{}, false, fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	stored, err := scanRun(tx.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE request_key = ?`, run.RequestKey))
	if err != nil {
		return ir.Run{}, false, fmt.Errorf("read run by request key: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ir.Run{}, false, fmt.Errorf("commit transaction: %w", err)
	}
	return stored, n == 1, nil
}

// ReadRun returns the run with the given id, or ErrNotFound.
func (s *Store) ReadRun(ctx context.Context, id string) (ir.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		return ir.Run{}, notFound(err, "run", id)
	}
	return run, nil
}

// UpdateRunStatus moves a run to status. Re-applying the current status is a
// no-op; changing a terminal status returns ErrTerminalRun.
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status ir.RunStatus, at time.Time) (ir.Run, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Run{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	run, err := scanRun(tx.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	if run.Status == status {
		return run, nil
	}
	if run.Status.IsTerminal() {
		return ir.Run{}, fmt.Errorf("run %s is %s: %w", id, run.Status, ErrTerminalRun)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toNanos(at), id,
	); err != nil {
		return ir.Run{}, fmt.Errorf("update run %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return ir.Run{}, fmt.Errorf("commit transaction: %w", err)
	}
	run.Status = status
	run.UpdatedAt = at.UTC()
	return run, nil
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	Statuses   []ir.RunStatus
	Asset      ir.AssetKey
	BackfillID string
	Limit      int
}

// ListRuns returns runs matching filter ordered by creation time, then id.
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]ir.Run, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Asset != "" {
		where = append(where, "asset = ?")
		args = append(args, string(filter.Asset))
	}
	if filter.BackfillID != "" {
		where = append(where, "backfill_id = ?")
		args = append(args, filter.BackfillID)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []ir.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// InFlightPartitions returns the sorted, distinct partitions of an asset
// that have a PENDING or RUNNING run.
func (s *Store) InFlightPartitions(ctx context.Context, asset ir.AssetKey) ([]ir.PartitionKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT partition
		FROM runs
		WHERE asset = ? AND status IN (?, ?)
		ORDER BY partition ASC
	`, string(asset), string(ir.RunPending), string(ir.RunRunning))
	if err != nil {
		return nil, fmt.Errorf("query in-flight partitions %s: %w", asset, err)
	}
	defer rows.Close()

	partitions := []ir.PartitionKey{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		partitions = append(partitions, ir.PartitionKey(p))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partitions: %w", err)
	}
	return partitions, nil
}

func scanRun(row rowScanner) (ir.Run, error) {
	var (
		run       ir.Run
		asset     string
		partition string
		status    string
		created   int64
		updated   int64
	)
	if err := row.Scan(&run.ID, &run.RequestKey, &asset, &partition, &run.BackfillID, &status, &created, &updated); err != nil {
		return ir.Run{}, err
	}
	run.Asset = ir.AssetKey(asset)
	run.Partition = ir.PartitionKey(partition)
	run.Status = ir.RunStatus(status)
	run.CreatedAt = fromNanos(created)
	run.UpdatedAt = fromNanos(updated)
	return run, nil
}
