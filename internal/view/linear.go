package view

import (
	"bytes"
	"fmt"

	"github.com/tuannm99/novaview/internal/catalog"
	"github.com/tuannm99/novaview/internal/delta"
	"github.com/tuannm99/novaview/internal/record"
)

// applyLinearLocked pushes one base change through filter and projection for
// a non-aggregated view. Row identity is the (relation, base rowid) pair; the
// ident map carries it to the view rowid assigned when the row first entered
// the view.
func (v *View) applyLinearLocked(out *delta.Delta, rel string, ch delta.Change) error {
	key := identKey(rel, ch.RowID)

	switch ch.Kind {
	case delta.KindInsert:
		if !v.matchLocked(rel, ch.New) {
			return nil
		}
		vid := v.allocRowIDLocked()
		v.ident[key] = vid
		return out.RecordInsert(vid, v.projectLocked(rel, ch.New))

	case delta.KindUpdate:
		oldIn := v.matchLocked(rel, ch.Old)
		newIn := v.matchLocked(rel, ch.New)
		switch {
		case oldIn && newIn:
			vid, ok := v.ident[key]
			if !ok {
				// Row predates the view; first sight behaves as an insert.
				vid = v.allocRowIDLocked()
				v.ident[key] = vid
				return out.RecordInsert(vid, v.projectLocked(rel, ch.New))
			}
			return out.RecordUpdate(vid, v.projectLocked(rel, ch.Old), v.projectLocked(rel, ch.New))
		case oldIn && !newIn:
			// Row falls out of the filter.
			vid, ok := v.ident[key]
			if !ok {
				return nil
			}
			delete(v.ident, key)
			return out.RecordDelete(vid, v.projectLocked(rel, ch.Old))
		case !oldIn && newIn:
			// Row enters the filter.
			vid := v.allocRowIDLocked()
			v.ident[key] = vid
			return out.RecordInsert(vid, v.projectLocked(rel, ch.New))
		default:
			return nil
		}

	case delta.KindDelete:
		if !v.matchLocked(rel, ch.Old) {
			return nil
		}
		vid, ok := v.ident[key]
		if !ok {
			v.log.Warnw("delete for row unknown to view", "view", v.name, "relation", rel, "rowid", ch.RowID)
			return nil
		}
		delete(v.ident, key)
		return out.RecordDelete(vid, v.projectLocked(rel, ch.Old))
	}
	return nil
}

// matchLocked evaluates the ANDed filter predicates against a row of rel.
func (v *View) matchLocked(rel string, row record.Row) bool {
	if row == nil {
		return false
	}
	idx := v.colIdx[rel]
	for _, f := range v.def.Filters {
		pos, ok := idx[f.Column]
		if !ok || pos >= len(row) {
			return false
		}
		if !evalCmp(f.Op, row[pos], f.Value) {
			return false
		}
	}
	return true
}

// projectLocked builds the view's output row for one base row.
func (v *View) projectLocked(rel string, row record.Row) record.Row {
	if v.def.Wildcard {
		return row.Clone()
	}
	idx := v.colIdx[rel]
	out := make(record.Row, len(v.def.Select))
	for i, item := range v.def.Select {
		pos, ok := idx[item.Column]
		if !ok || pos >= len(row) {
			out[i] = nil
			continue
		}
		out[i] = row[pos]
	}
	return out.Clone()
}

func identKey(rel string, rowid int64) string {
	return fmt.Sprintf("%s/%d", rel, rowid)
}

// evalCmp applies op to a row value and a filter literal. Values of
// incomparable types never match except through inequality.
func evalCmp(op catalog.CmpOp, a, b any) bool {
	if a == nil || b == nil {
		switch op {
		case catalog.CmpEq:
			return a == nil && b == nil
		case catalog.CmpNe:
			return (a == nil) != (b == nil)
		default:
			return false
		}
	}
	c, ok := compareValues(a, b)
	if !ok {
		return op == catalog.CmpNe
	}
	switch op {
	case catalog.CmpEq:
		return c == 0
	case catalog.CmpNe:
		return c != 0
	case catalog.CmpLt:
		return c < 0
	case catalog.CmpLe:
		return c <= 0
	case catalog.CmpGt:
		return c > 0
	case catalog.CmpGe:
		return c >= 0
	default:
		return false
	}
}

// compareValues orders two values with numeric promotion. The bool result is
// false when the values are not comparable.
func compareValues(a, b any) (int, bool) {
	if af, aok := asNumber(a); aok {
		bf, bok := asNumber(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		default:
			return 0, true
		}
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	case []byte:
		bv, ok := b.([]byte)
		if !ok {
			return 0, false
		}
		return bytes.Compare(av, bv), true
	}
	return 0, false
}

func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
