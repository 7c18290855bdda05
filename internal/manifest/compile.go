package manifest

import (
	"fmt"
	"time"

	"cuelang.org/go/cue"

	"github.com/roach88/cadence/internal/condition"
	"github.com/roach88/cadence/internal/graph"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/timewindow"
)

// Options adjusts compilation. Overrides replace the condition written in
// the manifest for the named assets; DefaultCondition applies to assets
// that have neither an override nor a condition of their own.
type Options struct {
	DefaultCondition *condition.Condition
	Overrides        map[ir.AssetKey]*condition.Condition
}

// Compile converts the "asset" struct of v into graph nodes, in definition
// order. The returned error is an Errors value listing every problem.
// Graph-level checks such as unknown dependencies and cycles are left to
// graph.New.
func Compile(v cue.Value, opts Options) ([]graph.AssetNode, error) {
	if err := v.Err(); err != nil {
		return nil, Errors{fromCUE("", "", err)}
	}
	assets := v.LookupPath(cue.ParsePath("asset"))
	if !assets.Exists() {
		return nil, ErrNoAssets
	}
	iter, err := assets.Fields()
	if err != nil {
		return nil, Errors{fromCUE("", "asset", err)}
	}

	var (
		nodes []graph.AssetNode
		errs  Errors
		seen  = make(map[ir.AssetKey]bool)
	)
	for iter.Next() {
		key, err := ir.ParseAssetKey(iter.Label())
		if err != nil {
			errs = append(errs, &CompileError{Field: "asset", Message: err.Error(), Pos: iter.Value().Pos()})
			continue
		}
		c := &assetCompiler{key: key}
		node := c.compile(iter.Value())
		errs = append(errs, c.errs...)
		if len(c.errs) == 0 {
			seen[key] = true
			nodes = append(nodes, node)
		}
	}
	if len(nodes) == 0 && len(errs) == 0 {
		return nil, ErrNoAssets
	}

	for key := range opts.Overrides {
		if !seen[key] {
			errs = append(errs, &CompileError{Asset: key, Field: "override", Message: "no such asset"})
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	for i := range nodes {
		if c, ok := opts.Overrides[nodes[i].Key]; ok {
			nodes[i].Condition = c
		} else if nodes[i].Condition == nil {
			nodes[i].Condition = opts.DefaultCondition
		}
	}
	return nodes, nil
}

// assetCompiler accumulates the errors of one asset definition.
type assetCompiler struct {
	key  ir.AssetKey
	errs Errors
}

func (c *assetCompiler) fail(v cue.Value, field, format string, args ...any) {
	c.errs = append(c.errs, &CompileError{
		Asset:   c.key,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Pos:     v.Pos(),
	})
}

func (c *assetCompiler) failCUE(field string, err error) {
	c.errs = append(c.errs, fromCUE(c.key, field, err))
}

func (c *assetCompiler) compile(v cue.Value) graph.AssetNode {
	node := graph.AssetNode{Key: c.key, Partitions: timewindow.None()}

	iter, err := v.Fields()
	if err != nil {
		c.failCUE("", err)
		return node
	}
	for iter.Next() {
		field, fv := iter.Label(), iter.Value()
		switch field {
		case "deps":
			node.Deps = c.deps(fv)
		case "partitions":
			node.Partitions = c.partitions(fv)
		case "condition":
			node.Condition = c.condition(fv, "condition")
		case "group":
			node.Group = c.str(fv, field)
		case "description":
			node.Description = c.str(fv, field)
		default:
			c.fail(fv, field, "unknown field")
		}
	}
	return node
}

func (c *assetCompiler) str(v cue.Value, field string) string {
	s, err := v.String()
	if err != nil {
		c.failCUE(field, err)
	}
	return s
}

func (c *assetCompiler) deps(v cue.Value) []graph.Dependency {
	list, err := v.List()
	if err != nil {
		c.failCUE("deps", err)
		return nil
	}

	var deps []graph.Dependency
	for i := 0; list.Next(); i++ {
		field := fmt.Sprintf("deps[%d]", i)
		dv := list.Value()

		if dv.Kind() == cue.StringKind {
			key, err := ir.ParseAssetKey(c.str(dv, field))
			if err != nil {
				c.fail(dv, field, "%v", err)
				continue
			}
			deps = append(deps, graph.Dependency{Asset: key})
			continue
		}

		var dep graph.Dependency
		av := dv.LookupPath(cue.ParsePath("asset"))
		if !av.Exists() {
			c.fail(dv, field, "dependency needs an asset")
			continue
		}
		key, err := ir.ParseAssetKey(c.str(av, field+".asset"))
		if err != nil {
			c.fail(av, field+".asset", "%v", err)
			continue
		}
		dep.Asset = key

		if mv := dv.LookupPath(cue.ParsePath("mapping")); mv.Exists() {
			m, err := graph.ParseMapping(c.str(mv, field+".mapping"))
			if err != nil {
				c.fail(mv, field+".mapping", "%v", err)
				continue
			}
			dep.Mapping = m
		}
		deps = append(deps, dep)
	}
	return deps
}

// single returns the only field of a one-field struct.
func (c *assetCompiler) single(v cue.Value, field string) (string, cue.Value, bool) {
	iter, err := v.Fields()
	if err != nil {
		c.failCUE(field, err)
		return "", cue.Value{}, false
	}
	var (
		label string
		value cue.Value
		n     int
	)
	for iter.Next() {
		label, value = iter.Label(), iter.Value()
		n++
	}
	if n != 1 {
		c.fail(v, field, "expected exactly one field, got %d", n)
		return "", cue.Value{}, false
	}
	return label, value, true
}

func (c *assetCompiler) partitions(v cue.Value) timewindow.PartitionsDef {
	kind, arg, ok := c.single(v, "partitions")
	if !ok {
		return timewindow.None()
	}
	field := "partitions." + kind

	var def timewindow.PartitionsDef
	switch kind {
	case "none":
		return timewindow.None()
	case "static":
		list, err := arg.List()
		if err != nil {
			c.failCUE(field, err)
			return timewindow.None()
		}
		var keys []string
		for list.Next() {
			keys = append(keys, c.str(list.Value(), field))
		}
		def = timewindow.StaticKeys(keys...)
	case "daily", "hourly", "weekly", "monthly":
		start, ok := c.startTime(arg, field)
		if !ok {
			return timewindow.None()
		}
		switch kind {
		case "daily":
			def = timewindow.Daily(start)
		case "hourly":
			def = timewindow.Hourly(start)
		case "weekly":
			def = timewindow.Weekly(start)
		default:
			def = timewindow.Monthly(start)
		}
	case "cron":
		start, ok := c.startTime(arg, field)
		if !ok {
			return timewindow.None()
		}
		sv := arg.LookupPath(cue.ParsePath("schedule"))
		if !sv.Exists() {
			c.fail(arg, field, "schedule is required")
			return timewindow.None()
		}
		format := timewindow.DayFormat
		if fv := arg.LookupPath(cue.ParsePath("format")); fv.Exists() {
			format = c.str(fv, field+".format")
		}
		def = timewindow.CronWindows(c.str(sv, field+".schedule"), start, format)
	default:
		c.fail(v, "partitions", "unknown partitions kind %q", kind)
		return timewindow.None()
	}

	if def.Kind == timewindow.TimeWindow {
		if tv := arg.LookupPath(cue.ParsePath("timezone")); tv.Exists() {
			def = def.InTimezone(c.str(tv, field+".timezone"))
		}
		if ov := arg.LookupPath(cue.ParsePath("end_offset")); ov.Exists() {
			n, err := ov.Int64()
			if err != nil {
				c.failCUE(field+".end_offset", err)
			}
			def = def.WithEndOffset(int(n))
		}
	}
	if err := def.Validate(); err != nil {
		c.fail(v, "partitions", "%v", err)
		return timewindow.None()
	}
	return def
}

func (c *assetCompiler) startTime(arg cue.Value, field string) (time.Time, bool) {
	sv := arg.LookupPath(cue.ParsePath("start"))
	if !sv.Exists() {
		c.fail(arg, field, "start is required")
		return time.Time{}, false
	}
	s := c.str(sv, field+".start")
	for _, layout := range []string{timewindow.DayFormat, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	c.fail(sv, field+".start", "cannot parse %q as a date or RFC 3339 time", s)
	return time.Time{}, false
}

// condition compiles a condition tree. It returns nil after recording an
// error.
func (c *assetCompiler) condition(v cue.Value, field string) *condition.Condition {
	if v.Kind() == cue.StringKind {
		return c.leaf(condition.Kind(c.str(v, field)), cue.Value{}, v, field)
	}

	label, arg, ok := c.single(v, field)
	if !ok {
		return nil
	}
	kind := condition.Kind(label)
	field += "." + label

	var (
		cond *condition.Condition
		err  error
	)
	switch kind {
	case condition.KindAnd, condition.KindOr:
		list, lerr := arg.List()
		if lerr != nil {
			c.failCUE(field, lerr)
			return nil
		}
		var children []*condition.Condition
		for i := 0; list.Next(); i++ {
			child := c.condition(list.Value(), fmt.Sprintf("%s[%d]", field, i))
			if child == nil {
				return nil
			}
			children = append(children, child)
		}
		if kind == condition.KindAnd {
			cond, err = condition.And(children...)
		} else {
			cond, err = condition.Or(children...)
		}
	case condition.KindNot, condition.KindAllDeps, condition.KindAnyDeps:
		child := c.condition(arg, field)
		if child == nil {
			return nil
		}
		switch kind {
		case condition.KindNot:
			cond, err = condition.Not(child)
		case condition.KindAllDeps:
			cond, err = condition.AllDeps(child)
		default:
			cond, err = condition.AnyDeps(child)
		}
	default:
		return c.leaf(kind, arg, v, field)
	}
	if err != nil {
		c.fail(v, field, "%v", err)
		return nil
	}
	return cond
}

// leaf compiles a primitive. arg is the zero Value for the string shorthand.
func (c *assetCompiler) leaf(kind condition.Kind, arg, at cue.Value, field string) *condition.Condition {
	var (
		cond *condition.Condition
		err  error
	)
	switch kind {
	case condition.KindMissing:
		cond = condition.Missing()
	case condition.KindParentNewer:
		cond = condition.ParentNewer()
	case condition.KindWillBeRequested:
		cond = condition.WillBeRequested()
	case condition.KindInProgress:
		cond = condition.InProgress()
	case condition.KindInLatestTimeWindow:
		windows := int64(1)
		var lookback time.Duration
		if wv := arg.LookupPath(cue.ParsePath("windows")); wv.Exists() {
			if windows, err = wv.Int64(); err != nil {
				c.failCUE(field+".windows", err)
				return nil
			}
		}
		if lv := arg.LookupPath(cue.ParsePath("lookback")); lv.Exists() {
			if lookback, err = time.ParseDuration(c.str(lv, field+".lookback")); err != nil {
				c.fail(lv, field+".lookback", "%v", err)
				return nil
			}
		}
		cond, err = condition.InLatestTimeWindow(int(windows), lookback)
	case condition.KindUpdatedSinceCron:
		var expr, tz string
		switch {
		case arg.Kind() == cue.StringKind:
			expr = c.str(arg, field)
		case arg.LookupPath(cue.ParsePath("cron")).Exists():
			expr = c.str(arg.LookupPath(cue.ParsePath("cron")), field+".cron")
			if tv := arg.LookupPath(cue.ParsePath("timezone")); tv.Exists() {
				tz = c.str(tv, field+".timezone")
			}
		default:
			c.fail(at, field, "cron is required")
			return nil
		}
		cond, err = condition.UpdatedSinceCron(expr, tz)
	default:
		c.fail(at, field, "unknown condition kind %q", kind)
		return nil
	}
	if err != nil {
		c.fail(at, field, "%v", err)
		return nil
	}
	return cond
}
