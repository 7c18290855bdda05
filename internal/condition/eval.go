package condition

import (
	"fmt"
	"slices"
	"time"

	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/timewindow"
)

// Metadata keys attached by primitives.
const (
	MetaLastUpdated  = "last_updated_timestamp"
	MetaLatestTick   = "latest_cron_tick"
	MetaNewerParents = "newer_parents"
	MetaWindowStart  = "window_start"
	MetaDependency   = "dependency"
	MetaPartitions   = "partitions"
	MetaTrueCount    = "true_count"
)

// Result is the outcome of evaluating one node for one asset partition.
// Metadata and Diagnostic are advisory and never feed back into Value.
type Result struct {
	Kind        Kind            `json:"kind"`
	Description string          `json:"description"`
	Asset       ir.AssetKey     `json:"asset"`
	Partition   ir.PartitionKey `json:"partition,omitempty"`
	Value       bool            `json:"value"`
	Metadata    ir.Metadata     `json:"metadata,omitempty"`
	Diagnostic  string          `json:"diagnostic,omitempty"`
	Children    []Result        `json:"children,omitempty"`
}

// Evaluate evaluates c for one asset partition.
func Evaluate(c *Condition, env Env, ap ir.AssetPartition) Result {
	res := Result{
		Kind:        c.kind,
		Description: c.Description(),
		Asset:       ap.Asset,
		Partition:   ap.Partition,
	}

	switch c.kind {
	case KindAnd:
		res.Value = true
		for _, child := range c.children {
			r := Evaluate(child, env, ap)
			res.Value = res.Value && r.Value
			res.Children = append(res.Children, r)
		}
	case KindOr:
		for _, child := range c.children {
			r := Evaluate(child, env, ap)
			res.Value = res.Value || r.Value
			res.Children = append(res.Children, r)
		}
	case KindNot:
		r := Evaluate(c.children[0], env, ap)
		res.Value = !r.Value
		res.Children = []Result{r}
	case KindAllDeps, KindAnyDeps:
		evaluateDeps(c, env, ap, &res)
	default:
		value, md, diag := evaluateLeaf(c, env, ap)
		res.Value = value
		res.Metadata = md
		res.Diagnostic = diag
	}
	return res
}

// EvaluateAll evaluates c for each partition of asset, in order.
func EvaluateAll(c *Condition, env Env, asset ir.AssetKey, partitions []ir.PartitionKey) []Result {
	out := make([]Result, len(partitions))
	for i, p := range partitions {
		out[i] = Evaluate(c, env, ir.AP(asset, p))
	}
	return out
}

// evaluateDeps evaluates the child against every mapped partition of every
// parent. All-deps holds when the child is true for every mapped
// (parent, partition) pair; any-deps when it is true for at least one.
// A parent whose mapping fails holds for neither.
func evaluateDeps(c *Condition, env Env, ap ir.AssetPartition, res *Result) {
	all := c.kind == KindAllDeps
	res.Value = all

	for _, parent := range env.Parents(ap.Asset) {
		dep := Result{
			Kind:        KindDependency,
			Description: "dep " + string(parent),
			Asset:       parent,
		}

		mapped, err := safeParentPartitions(env, ap, parent)
		if err != nil {
			dep.Diagnostic = err.Error()
		}
		trueCount := 0
		for _, p := range mapped {
			r := Evaluate(c.children[0], env, ir.AP(parent, p))
			if r.Value {
				trueCount++
			}
			dep.Children = append(dep.Children, r)
		}
		if all {
			dep.Value = err == nil && trueCount == len(mapped)
		} else {
			dep.Value = trueCount > 0
		}
		dep.Metadata = ir.Metadata{
			MetaPartitions: ir.Int(len(mapped)),
			MetaTrueCount:  ir.Int(trueCount),
		}
		if err == nil && len(mapped) == 0 {
			dep.Diagnostic = "no mapped partitions"
		}

		if all {
			res.Value = res.Value && dep.Value
		} else {
			res.Value = res.Value || dep.Value
		}
		res.Children = append(res.Children, dep)
	}
}

func safeParentPartitions(env Env, ap ir.AssetPartition, parent ir.AssetKey) (keys []ir.PartitionKey, err error) {
	defer func() {
		if r := recover(); r != nil {
			keys = nil
			err = fmt.Errorf("partition mapping panicked: %v", r)
		}
	}()
	return env.ParentPartitions(ap, parent)
}

// evaluateLeaf runs one primitive. Errors and panics become false plus a diagnostic.
func evaluateLeaf(c *Condition, env Env, ap ir.AssetPartition) (value bool, md ir.Metadata, diag string) {
	defer func() {
		if r := recover(); r != nil {
			value, md, diag = false, nil, fmt.Sprintf("panic: %v", r)
		}
	}()

	var err error
	switch c.kind {
	case KindMissing:
		value, md, err = evalMissing(env, ap)
	case KindInLatestTimeWindow:
		value, md, err = evalInLatestTimeWindow(c, env, ap)
	case KindParentNewer:
		value, md, err = evalParentNewer(env, ap)
	case KindUpdatedSinceCron:
		value, md, err = evalUpdatedSinceCron(c, env, ap)
	case KindWillBeRequested:
		value = env.IsRequested(ap)
	case KindInProgress:
		value, err = env.InProgress(ap)
	default:
		err = fmt.Errorf("unknown condition kind %q", c.kind)
	}
	if err != nil {
		return false, md, err.Error()
	}
	return value, md, ""
}

func evalMissing(env Env, ap ir.AssetPartition) (bool, ir.Metadata, error) {
	rec, err := env.LatestRecord(ap)
	if err != nil {
		return false, nil, fmt.Errorf("latest record: %w", err)
	}
	if rec == nil {
		return true, nil, nil
	}
	return false, ir.Metadata{MetaLastUpdated: ir.TimestampOf(rec.Timestamp)}, nil
}

func evalInLatestTimeWindow(c *Condition, env Env, ap ir.AssetPartition) (bool, ir.Metadata, error) {
	def := env.Partitions(ap.Asset)
	if !def.IsTimeWindow() {
		return true, nil, nil
	}

	w, err := def.Window(ap.Partition)
	if err != nil {
		return false, nil, err
	}
	md := ir.Metadata{MetaWindowStart: ir.TimestampOf(w.Start)}

	if c.lookback > 0 {
		return w.End.After(env.Now().Add(-c.lookback)), md, nil
	}

	keys, err := env.PartitionKeys(ap.Asset)
	if err != nil {
		return false, md, fmt.Errorf("partition keys: %w", err)
	}
	latest := keys
	if len(keys) > c.windows {
		latest = keys[len(keys)-c.windows:]
	}
	return slices.Contains(latest, ap.Partition), md, nil
}

func evalParentNewer(env Env, ap ir.AssetPartition) (bool, ir.Metadata, error) {
	self, err := env.LatestRecord(ap)
	if err != nil {
		return false, nil, fmt.Errorf("latest record: %w", err)
	}

	var newer ir.List
	for _, parent := range env.Parents(ap.Asset) {
		mapped, err := env.ParentPartitions(ap, parent)
		if err != nil {
			return false, nil, fmt.Errorf("map %s onto %s: %w", ap, parent, err)
		}
		var latest time.Time
		for _, p := range mapped {
			rec, err := env.LatestRecord(ir.AP(parent, p))
			if err != nil {
				return false, nil, fmt.Errorf("latest record %s: %w", ir.AP(parent, p), err)
			}
			if rec != nil && rec.Timestamp.After(latest) {
				latest = rec.Timestamp
			}
		}
		if latest.IsZero() {
			continue
		}
		// A never-materialized child is older than any materialized parent.
		if self == nil || latest.After(self.Timestamp) {
			newer = append(newer, ir.String(parent))
		}
	}

	md := ir.Metadata{}
	if self != nil {
		md[MetaLastUpdated] = ir.TimestampOf(self.Timestamp)
	}
	if len(newer) > 0 {
		md[MetaNewerParents] = newer
	}
	if len(md) == 0 {
		md = nil
	}
	return len(newer) > 0, md, nil
}

func evalUpdatedSinceCron(c *Condition, env Env, ap ir.AssetPartition) (bool, ir.Metadata, error) {
	tick, err := timewindow.LatestCompletedTick(c.cron, env.Now(), c.timezone)
	if err != nil {
		return false, nil, err
	}
	md := ir.Metadata{MetaLatestTick: ir.TimestampOf(tick)}

	rec, err := env.LatestRecord(ap)
	if err != nil {
		return false, md, fmt.Errorf("latest record: %w", err)
	}
	if rec == nil {
		return false, md, nil
	}
	md[MetaLastUpdated] = ir.TimestampOf(rec.Timestamp)
	return !rec.Timestamp.Before(tick), md, nil
}
