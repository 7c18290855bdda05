package scheduler

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/roach88/cadence/internal/condition"
	"github.com/roach88/cadence/internal/graph"
	"github.com/roach88/cadence/internal/ir"
)

// StateSource reads instance state. *store.Store satisfies it.
type StateSource interface {
	// LatestRecords returns the latest record per partition of asset.
	LatestRecords(ctx context.Context, asset ir.AssetKey) (map[ir.PartitionKey]ir.Record, error)

	// InFlightPartitions returns the sorted partitions of asset with an
	// unterminated run.
	InFlightPartitions(ctx context.Context, asset ir.AssetKey) ([]ir.PartitionKey, error)
}

// snapshot is the per-tick evaluation environment. Every state read is
// memoized, so all assets of one tick observe the same instance state.
// The request set grows as levels complete.
type snapshot struct {
	*graph.View
	ctx context.Context
	src StateSource
	now time.Time

	mu        sync.Mutex
	records   map[ir.AssetKey]recordsEntry
	inflight  map[ir.AssetKey]inflightEntry
	requested map[ir.AssetKey]map[ir.PartitionKey]bool
}

type recordsEntry struct {
	byPartition map[ir.PartitionKey]ir.Record
	err         error
}

type inflightEntry struct {
	partitions []ir.PartitionKey
	err        error
}

var _ condition.Env = (*snapshot)(nil)

func newSnapshot(ctx context.Context, g *graph.Graph, src StateSource, now time.Time) *snapshot {
	return &snapshot{
		View:      g.At(now),
		ctx:       ctx,
		src:       src,
		now:       now,
		records:   make(map[ir.AssetKey]recordsEntry),
		inflight:  make(map[ir.AssetKey]inflightEntry),
		requested: make(map[ir.AssetKey]map[ir.PartitionKey]bool),
	}
}

// Now returns the tick's evaluation instant.
func (s *snapshot) Now() time.Time { return s.now }

// LatestRecord returns the latest record of ap, or nil.
func (s *snapshot) LatestRecord(ap ir.AssetPartition) (*ir.Record, error) {
	records, err := s.latestRecords(ap.Asset)
	if err != nil {
		return nil, err
	}
	rec, ok := records[ap.Partition]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// latestRecords loads the latest record of every partition of asset once
// per tick.
func (s *snapshot) latestRecords(asset ir.AssetKey) (map[ir.PartitionKey]ir.Record, error) {
	s.mu.Lock()
	if e, ok := s.records[asset]; ok {
		s.mu.Unlock()
		return e.byPartition, e.err
	}
	s.mu.Unlock()

	records, err := s.src.LatestRecords(s.ctx, asset)

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.records[asset]; ok {
		return e.byPartition, e.err
	}
	s.records[asset] = recordsEntry{byPartition: records, err: err}
	return records, err
}

// inFlight returns the sorted partitions of asset with an unterminated run.
func (s *snapshot) inFlight(asset ir.AssetKey) ([]ir.PartitionKey, error) {
	s.mu.Lock()
	if e, ok := s.inflight[asset]; ok {
		s.mu.Unlock()
		return e.partitions, e.err
	}
	s.mu.Unlock()

	partitions, err := s.src.InFlightPartitions(s.ctx, asset)

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.inflight[asset]; ok {
		return e.partitions, e.err
	}
	s.inflight[asset] = inflightEntry{partitions: partitions, err: err}
	return partitions, err
}

// InProgress reports whether an unterminated run targets ap.
func (s *snapshot) InProgress(ap ir.AssetPartition) (bool, error) {
	partitions, err := s.inFlight(ap.Asset)
	if err != nil {
		return false, err
	}
	return slices.Contains(partitions, ap.Partition), nil
}

// IsRequested reports whether ap was requested earlier in this tick.
func (s *snapshot) IsRequested(ap ir.AssetPartition) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requested[ap.Asset][ap.Partition]
}

// addRequests publishes an asset's requests to later levels.
func (s *snapshot) addRequests(asset ir.AssetKey, partitions []ir.PartitionKey) {
	if len(partitions) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.requested[asset]
	if set == nil {
		set = make(map[ir.PartitionKey]bool, len(partitions))
		s.requested[asset] = set
	}
	for _, p := range partitions {
		set[p] = true
	}
}

// requestedPartitions returns the sorted partitions of asset requested so far.
func (s *snapshot) requestedPartitions(asset ir.AssetKey) []ir.PartitionKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ir.PartitionKey, 0, len(s.requested[asset]))
	for p := range s.requested[asset] {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
