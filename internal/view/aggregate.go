package view

import (
	"encoding/json"
	"fmt"

	"github.com/tuannm99/novaview/internal/catalog"
	"github.com/tuannm99/novaview/internal/delta"
	"github.com/tuannm99/novaview/internal/record"
)

// groupAcc is the persistent accumulator for one group of an aggregated
// view. It survives across transactions so deltas can be applied without
// rescanning the base relation; retraction of the current MIN/MAX recomputes
// from the retained per-group multiset, bounded by group membership.
type groupAcc struct {
	vid     int64
	n       int64 // live rows in the group
	keyVals record.Row
	cols    []aggState
}

type aggState struct {
	count    int64
	isum     int64
	fsum     float64
	sawFloat bool
	vals     map[string]*valEntry // min/max multiset
}

type valEntry struct {
	val any
	n   int
}

// applyAggregatedLocked folds one base change into the view's group state
// and emits the affected group row's Insert/Update/Delete.
func (v *View) applyAggregatedLocked(out *delta.Delta, rel string, ch delta.Change) error {
	switch ch.Kind {
	case delta.KindInsert:
		return v.applySignedLocked(out, rel, ch.New, +1)
	case delta.KindDelete:
		return v.applySignedLocked(out, rel, ch.Old, -1)
	case delta.KindUpdate:
		// Retract the old image, assert the new one. When both land in the
		// same group the two emitted updates collapse in the output delta.
		if err := v.applySignedLocked(out, rel, ch.Old, -1); err != nil {
			return err
		}
		return v.applySignedLocked(out, rel, ch.New, +1)
	}
	return nil
}

func (v *View) applySignedLocked(out *delta.Delta, rel string, row record.Row, sign int64) error {
	if !v.matchLocked(rel, row) {
		return nil
	}

	keyVals := v.groupKeyValsLocked(rel, row)
	gk, err := encodeGroupKey(keyVals)
	if err != nil {
		return fmt.Errorf("view %q: group key: %w", v.name, err)
	}

	acc := v.groups[gk]
	var before record.Row
	if acc != nil {
		before = v.groupRowLocked(acc)
	} else {
		if sign < 0 {
			// Retraction for a group the view never saw; nothing to repoint.
			v.log.Warnw("retraction for unknown group", "view", v.name, "relation", rel)
			return nil
		}
		acc = &groupAcc{keyVals: keyVals.Clone(), cols: make([]aggState, len(v.def.Select))}
		v.groups[gk] = acc
	}

	v.accumulateLocked(acc, rel, row, sign)

	if acc.n <= 0 {
		delete(v.groups, gk)
		if before != nil {
			return out.RecordDelete(acc.vid, before)
		}
		return nil
	}

	after := v.groupRowLocked(acc)
	if before == nil {
		acc.vid = v.allocRowIDLocked()
		return out.RecordInsert(acc.vid, after)
	}
	return out.RecordUpdate(acc.vid, before, after)
}

func (v *View) accumulateLocked(acc *groupAcc, rel string, row record.Row, sign int64) {
	acc.n += sign
	idx := v.colIdx[rel]

	for i, item := range v.def.Select {
		st := &acc.cols[i]
		switch item.Agg {
		case catalog.AggNone:
			// Group-by column; value lives in keyVals.
		case catalog.AggCount:
			if item.Column != "" {
				if pos, ok := idx[item.Column]; !ok || pos >= len(row) || row[pos] == nil {
					continue // COUNT(col) skips NULLs
				}
			}
			st.count += sign
		case catalog.AggSum, catalog.AggAvg:
			val, ok := columnValue(idx, item.Column, row)
			if !ok || val == nil {
				continue
			}
			f, isNum := asNumber(val)
			if !isNum {
				continue
			}
			st.count += sign
			st.fsum += float64(sign) * f
			switch val.(type) {
			case float32, float64:
				st.sawFloat = true
			default:
				st.isum += sign * int64(f)
			}
		case catalog.AggMin, catalog.AggMax:
			val, ok := columnValue(idx, item.Column, row)
			if !ok || val == nil {
				continue
			}
			if st.vals == nil {
				st.vals = make(map[string]*valEntry)
			}
			key, err := encodeGroupKey(record.Row{val})
			if err != nil {
				continue
			}
			entry := st.vals[key]
			if entry == nil {
				if sign < 0 {
					continue
				}
				entry = &valEntry{val: val}
				st.vals[key] = entry
			}
			entry.n += int(sign)
			if entry.n <= 0 {
				delete(st.vals, key)
			}
		}
	}
}

// groupRowLocked materializes the group's current output row.
func (v *View) groupRowLocked(acc *groupAcc) record.Row {
	out := make(record.Row, len(v.def.Select))
	for i, item := range v.def.Select {
		st := &acc.cols[i]
		switch item.Agg {
		case catalog.AggNone:
			out[i] = v.keyValFor(acc, item.Column)
		case catalog.AggCount:
			out[i] = st.count
		case catalog.AggSum:
			if st.count == 0 {
				out[i] = nil
			} else if st.sawFloat {
				out[i] = st.fsum
			} else {
				out[i] = st.isum
			}
		case catalog.AggAvg:
			if st.count == 0 {
				out[i] = nil
			} else {
				out[i] = st.fsum / float64(st.count)
			}
		case catalog.AggMin:
			out[i] = extremum(st.vals, true)
		case catalog.AggMax:
			out[i] = extremum(st.vals, false)
		}
	}
	return out
}

func (v *View) keyValFor(acc *groupAcc, column string) any {
	for i, name := range v.def.GroupBy {
		if name == column && i < len(acc.keyVals) {
			return acc.keyVals[i]
		}
	}
	return nil
}

// groupKeyValsLocked extracts the group-by column values of a row.
func (v *View) groupKeyValsLocked(rel string, row record.Row) record.Row {
	idx := v.colIdx[rel]
	out := make(record.Row, len(v.def.GroupBy))
	for i, name := range v.def.GroupBy {
		if pos, ok := idx[name]; ok && pos < len(row) {
			out[i] = row[pos]
		}
	}
	return out
}

func columnValue(idx map[string]int, column string, row record.Row) (any, bool) {
	pos, ok := idx[column]
	if !ok || pos >= len(row) {
		return nil, false
	}
	return row[pos], true
}

// encodeGroupKey builds a comparable map key for a value tuple. JSON keeps
// equal values equal regardless of container identity.
func encodeGroupKey(vals record.Row) (string, error) {
	b, err := json.Marshal([]any(vals))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func extremum(vals map[string]*valEntry, min bool) any {
	var best any
	for _, e := range vals {
		if best == nil {
			best = e.val
			continue
		}
		c, ok := compareValues(e.val, best)
		if !ok {
			continue
		}
		if (min && c < 0) || (!min && c > 0) {
			best = e.val
		}
	}
	return best
}
