package condition

import (
	"errors"
	"time"

	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/timewindow"
)

// fakeEnv is an in-memory Env. Partition mapping is identity for
// partitioned parents and the single partition for unpartitioned ones,
// unless fanOut lists the parent partitions explicitly.
type fakeEnv struct {
	now        time.Time
	parents    map[ir.AssetKey][]ir.AssetKey
	defs       map[ir.AssetKey]timewindow.PartitionsDef
	records    map[ir.AssetPartition]time.Time
	requested  map[ir.AssetPartition]bool
	inProgress map[ir.AssetPartition]bool
	fanOut     map[ir.AssetKey][]ir.PartitionKey

	recordErr error
	panicOn   ir.AssetKey
}

func newFakeEnv(now time.Time) *fakeEnv {
	return &fakeEnv{
		now:        now,
		parents:    make(map[ir.AssetKey][]ir.AssetKey),
		defs:       make(map[ir.AssetKey]timewindow.PartitionsDef),
		records:    make(map[ir.AssetPartition]time.Time),
		requested:  make(map[ir.AssetPartition]bool),
		inProgress: make(map[ir.AssetPartition]bool),
		fanOut:     make(map[ir.AssetKey][]ir.PartitionKey),
	}
}

func (e *fakeEnv) record(asset ir.AssetKey, partition ir.PartitionKey, at time.Time) *fakeEnv {
	e.records[ir.AP(asset, partition)] = at
	return e
}

func (e *fakeEnv) Now() time.Time { return e.now }

func (e *fakeEnv) Parents(asset ir.AssetKey) []ir.AssetKey { return e.parents[asset] }

func (e *fakeEnv) ParentPartitions(child ir.AssetPartition, parent ir.AssetKey) ([]ir.PartitionKey, error) {
	if keys, ok := e.fanOut[parent]; ok {
		return keys, nil
	}
	if !e.defs[parent].IsPartitioned() {
		return []ir.PartitionKey{""}, nil
	}
	if child.Partition == "" {
		return nil, errors.New("unpartitioned child of partitioned parent")
	}
	return []ir.PartitionKey{child.Partition}, nil
}

func (e *fakeEnv) Partitions(asset ir.AssetKey) timewindow.PartitionsDef { return e.defs[asset] }

func (e *fakeEnv) PartitionKeys(asset ir.AssetKey) ([]ir.PartitionKey, error) {
	return e.defs[asset].PartitionKeys(e.now)
}

func (e *fakeEnv) LatestRecord(ap ir.AssetPartition) (*ir.Record, error) {
	if e.panicOn != "" && ap.Asset == e.panicOn {
		panic("storage exploded")
	}
	if e.recordErr != nil {
		return nil, e.recordErr
	}
	ts, ok := e.records[ap]
	if !ok {
		return nil, nil
	}
	return &ir.Record{Asset: ap.Asset, Partition: ap.Partition, Timestamp: ts}, nil
}

func (e *fakeEnv) IsRequested(ap ir.AssetPartition) bool { return e.requested[ap] }

func (e *fakeEnv) InProgress(ap ir.AssetPartition) (bool, error) { return e.inProgress[ap], nil }
