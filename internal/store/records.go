package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/cadence/internal/ir"
)

// WriteRecord appends a materialization or observation.
// The latest record per (asset, partition) wins on read; ties on timestamp
// are broken by insertion order.
func (s *Store) WriteRecord(ctx context.Context, rec ir.Record) error {
	if err := rec.Asset.Validate(); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if rec.Timestamp.IsZero() {
		return fmt.Errorf("write record %s: timestamp is required", ir.AP(rec.Asset, rec.Partition))
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO asset_records (asset, partition, timestamp, is_observation, run_id)
		VALUES (?, ?, ?, ?, ?)
	`,
		string(rec.Asset),
		string(rec.Partition),
		toNanos(rec.Timestamp),
		boolToInt(rec.IsObservation),
		rec.RunID,
	)
	if err != nil {
		return fmt.Errorf("write record %s: %w", ir.AP(rec.Asset, rec.Partition), err)
	}
	return nil
}

// LatestRecord returns the latest record for one asset partition, or nil
// when the partition was never materialized or observed.
func (s *Store) LatestRecord(ctx context.Context, ap ir.AssetPartition) (*ir.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT asset, partition, timestamp, is_observation, run_id
		FROM asset_records
		WHERE asset = ? AND partition = ?
		ORDER BY timestamp DESC, seq DESC
		LIMIT 1
	`, string(ap.Asset), string(ap.Partition))

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read latest record %s: %w", ap, err)
	}
	return &rec, nil
}

// LatestAssetRecord returns the latest record across all partitions of an asset.
func (s *Store) LatestAssetRecord(ctx context.Context, asset ir.AssetKey) (*ir.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT asset, partition, timestamp, is_observation, run_id
		FROM asset_records
		WHERE asset = ?
		ORDER BY timestamp DESC, seq DESC
		LIMIT 1
	`, string(asset))

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read latest record %s: %w", asset, err)
	}
	return &rec, nil
}

// LatestRecords returns the latest record per partition of an asset, in one query.
func (s *Store) LatestRecords(ctx context.Context, asset ir.AssetKey) (map[ir.PartitionKey]ir.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.asset, r.partition, r.timestamp, r.is_observation, r.run_id
		FROM asset_records r
		WHERE r.asset = ?
		  AND r.seq = (
			SELECT r2.seq FROM asset_records r2
			WHERE r2.asset = r.asset AND r2.partition = r.partition
			ORDER BY r2.timestamp DESC, r2.seq DESC
			LIMIT 1
		  )
		ORDER BY r.partition ASC
	`, string(asset))
	if err != nil {
		return nil, fmt.Errorf("query latest records %s: %w", asset, err)
	}
	defer rows.Close()

	out := make(map[ir.PartitionKey]ir.Record)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out[rec.Partition] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (ir.Record, error) {
	var (
		rec       ir.Record
		asset     string
		partition string
		ts        int64
		isObs     int
	)
	if err := row.Scan(&asset, &partition, &ts, &isObs, &rec.RunID); err != nil {
		return ir.Record{}, err
	}
	rec.Asset = ir.AssetKey(asset)
	rec.Partition = ir.PartitionKey(partition)
	rec.Timestamp = fromNanos(ts)
	rec.IsObservation = isObs != 0
	return rec, nil
}
