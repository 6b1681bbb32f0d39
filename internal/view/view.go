// Package view implements incremental materialized views: each view consumes
// the per-transaction deltas of its base relations and produces its own
// output delta without re-scanning any base relation. The operator chain
// (filter, grouped aggregation, projection) follows the view's structural
// definition from the catalog.
package view

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tuannm99/novaview/internal/catalog"
	"github.com/tuannm99/novaview/internal/delta"
	"github.com/tuannm99/novaview/internal/locking"
	"github.com/tuannm99/novaview/internal/record"
)

var (
	ErrUnknownDependency = errors.New("view: delta for relation the view does not depend on")
	ErrNilDependency     = errors.New("view: nil delta for dependency relation")
)

// View owns one materialized view's resolved schema, operator state and
// rowid allocator. The schema cache and all mutable state sit behind the
// view's own mutex; unrelated views never serialize against each other.
type View struct {
	name string
	def  catalog.ViewDef
	cat  *catalog.Catalog
	lc   *locking.Checker
	log  *zap.SugaredLogger

	mu            sync.Mutex
	schema        catalog.ResolvedSchema
	schemaVersion uint64
	baseSchemas   map[string]record.Schema
	colIdx        map[string]map[string]int

	// Rowids are assigned monotonically and never reused, so external
	// references stay valid or go unambiguously stale.
	nextRowID int64

	ident  map[string]int64     // base-row identity -> view rowid (linear views)
	groups map[string]*groupAcc // group key -> accumulator (aggregated views)
}

// New builds the view and eagerly resolves its schema. A degraded resolution
// is logged and kept; it re-resolves on the next DDL.
func New(def catalog.ViewDef, cat *catalog.Catalog, log *zap.SugaredLogger, lc *locking.Checker) *View {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	v := &View{
		name:   def.Name,
		def:    def,
		cat:    cat,
		lc:     lc,
		log:    log,
		ident:  make(map[string]int64),
		groups: make(map[string]*groupAcc),
	}

	cat.ReadLock()
	v.mu.Lock()
	lc.Acquired(locking.RankView)
	v.refreshSchemaLocked()
	lc.Released(locking.RankView)
	v.mu.Unlock()
	cat.ReadUnlock()

	return v
}

func (v *View) Name() string { return v.name }

func (v *View) Def() catalog.ViewDef { return v.def }

func (v *View) DependsOn(rel string) bool {
	for _, r := range v.def.From {
		if r == rel {
			return true
		}
	}
	return false
}

// SchemaSnapshot copies the resolved column list, re-resolving first if DDL
// made the cache stale. The caller must hold the catalog reader lock; the
// view lock is taken and released inside, preserving the catalog-before-view
// order.
func (v *View) SchemaSnapshot() catalog.ResolvedSchema {
	v.mu.Lock()
	v.lc.Acquired(locking.RankView)
	v.refreshSchemaLocked()
	snap := catalog.ResolvedSchema{
		Columns:  append([]string(nil), v.schema.Columns...),
		Typed:    record.Schema{Cols: append([]record.Column(nil), v.schema.Typed.Cols...)},
		Degraded: v.schema.Degraded,
	}
	v.lc.Released(locking.RankView)
	v.mu.Unlock()
	return snap
}

// refreshSchemaLocked re-resolves the schema and base-relation snapshots when
// the catalog version moved. Caller holds both the catalog reader lock and
// the view lock.
func (v *View) refreshSchemaLocked() {
	ver := v.cat.Version()
	if v.schemaVersion == ver && v.schema.Arity() > 0 {
		return
	}

	rs, err := v.cat.ResolveViewSchemaLocked(v.def, v.arityHintLocked())
	if err != nil {
		// Recoverable: synthesized names keep the commit path alive.
		v.log.Warnw("view schema resolution degraded", "view", v.name, "err", err)
	}
	v.schema = rs
	v.schemaVersion = ver

	v.baseSchemas = make(map[string]record.Schema, len(v.def.From))
	v.colIdx = make(map[string]map[string]int, len(v.def.From))
	for _, rel := range v.def.From {
		schema, ok := v.cat.SchemaOfLocked(rel)
		if !ok {
			continue
		}
		v.baseSchemas[rel] = schema
		idx := make(map[string]int, schema.NumCols())
		for i, col := range schema.Cols {
			idx[col.Name] = i
		}
		v.colIdx[rel] = idx
	}
}

// arityHintLocked is the fallback arity when resolution degrades: the last
// known good arity, else the definition's own output width.
func (v *View) arityHintLocked() int {
	if n := v.schema.Arity(); n > 0 {
		return n
	}
	if !v.def.Wildcard {
		return len(v.def.Select)
	}
	n := 0
	for _, schema := range v.baseSchemas {
		n += schema.NumCols()
	}
	return n
}

// Apply folds the supplied base-relation deltas through the view's operator
// chain and returns the view's output delta. It operates only on the deltas,
// never on full base relations.
func (v *View) Apply(inputs map[string]*delta.Delta) (*delta.Delta, error) {
	for rel, d := range inputs {
		if !v.DependsOn(rel) {
			return nil, fmt.Errorf("%w: view %q got delta for %q", ErrUnknownDependency, v.name, rel)
		}
		if d == nil {
			return nil, fmt.Errorf("%w: view %q relation %q", ErrNilDependency, v.name, rel)
		}
	}

	// Schema refresh touches the catalog, so it happens before the view
	// lock, keeping the catalog-before-view order.
	v.cat.ReadLock()
	v.mu.Lock()
	v.lc.Acquired(locking.RankView)
	v.refreshSchemaLocked()
	v.lc.Released(locking.RankView)
	v.mu.Unlock()
	v.cat.ReadUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.lc.Acquired(locking.RankView)
	defer v.lc.Released(locking.RankView)

	out := delta.New(v.name)

	// Deterministic per-commit ordering: from-clause order, then the
	// first-affected order inside each delta.
	for _, rel := range v.def.From {
		d, ok := inputs[rel]
		if !ok {
			continue // relation untouched this transaction
		}
		for _, ch := range d.Changes() {
			var err error
			if v.def.Aggregated() {
				err = v.applyAggregatedLocked(out, rel, ch)
			} else {
				err = v.applyLinearLocked(out, rel, ch)
			}
			if err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

func (v *View) allocRowIDLocked() int64 {
	v.nextRowID++
	return v.nextRowID
}
