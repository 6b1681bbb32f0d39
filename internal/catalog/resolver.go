package catalog

import (
	"fmt"

	"github.com/tuannm99/novaview/internal/record"
)

// ResolvedSchema is the ordered output column list of a view. When full
// resolution succeeds, Typed carries per-column types with the same arity as
// Columns; a degraded resolution leaves Typed empty and flags Degraded.
type ResolvedSchema struct {
	Columns  []string
	Typed    record.Schema
	Degraded bool
}

// Arity returns the number of output columns.
func (rs ResolvedSchema) Arity() int { return len(rs.Columns) }

// ResolutionError reports why a view schema could not be fully resolved. It
// always accompanies a usable fallback schema; callers log it and continue.
type ResolutionError struct {
	View   string
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("catalog: resolve schema for view %q: %s", e.View, e.Reason)
}

// ResolveViewSchema derives the ordered column-name list for a view
// definition. Explicit select lists resolve to their declared or inferred
// aliases in ordinal order; a wildcard flattens every From relation's columns
// in from-clause order. On failure it still returns a schema of the correct
// arity, synthesizing col_<ordinal> names from arityHint, together with a
// *ResolutionError; resolution never fails the surrounding operation.
func (c *Catalog) ResolveViewSchema(def ViewDef, arityHint int) (ResolvedSchema, error) {
	c.ReadLock()
	defer c.ReadUnlock()
	return c.ResolveViewSchemaLocked(def, arityHint)
}

// ResolveViewSchemaLocked is ResolveViewSchema for callers already holding
// the catalog reader lock (the commit-time notification path).
func (c *Catalog) ResolveViewSchemaLocked(def ViewDef, arityHint int) (ResolvedSchema, error) {
	if def.Wildcard {
		return c.resolveWildcardLocked(def, arityHint)
	}
	return c.resolveSelectListLocked(def)
}

func (c *Catalog) resolveWildcardLocked(def ViewDef, arityHint int) (ResolvedSchema, error) {
	var (
		names []string
		typed record.Schema
	)
	for _, rel := range def.From {
		schema, ok := c.schemaOfLocked(rel)
		if !ok {
			return synthesize(arityHint), &ResolutionError{
				View:   def.Name,
				Reason: fmt.Sprintf("wildcard over unknown relation %q", rel),
			}
		}
		names = append(names, schema.ColumnNames()...)
		typed.Cols = append(typed.Cols, schema.Cols...)
	}
	return ResolvedSchema{Columns: names, Typed: typed}, nil
}

func (c *Catalog) resolveSelectListLocked(def ViewDef) (ResolvedSchema, error) {
	names := make([]string, len(def.Select))
	typed := record.Schema{Cols: make([]record.Column, len(def.Select))}
	var firstErr *ResolutionError

	for i, item := range def.Select {
		// Names come from the select list itself and survive any lookup
		// failure below.
		names[i] = item.OutputName()

		col, err := c.outputColumnLocked(def, item)
		if err != nil {
			if firstErr == nil {
				firstErr = &ResolutionError{View: def.Name, Reason: err.Error()}
			}
			continue
		}
		col.Name = names[i]
		typed.Cols[i] = col
	}

	if firstErr != nil {
		// Column names are still authoritative; only type information is lost.
		return ResolvedSchema{Columns: names, Degraded: true}, firstErr
	}
	return ResolvedSchema{Columns: names, Typed: typed}, nil
}

// outputColumnLocked derives the typed output column for one select item.
func (c *Catalog) outputColumnLocked(def ViewDef, item SelectItem) (record.Column, error) {
	if item.Agg == AggCount {
		return record.Column{Type: record.ColInt64}, nil
	}

	src, ok := c.baseColumnLocked(def.From, item.Column)
	if !ok {
		return record.Column{}, fmt.Errorf("column %q not found in %v", item.Column, def.From)
	}

	switch item.Agg {
	case AggNone, AggMin, AggMax:
		return record.Column{Type: src.Type, Nullable: src.Nullable}, nil
	case AggAvg:
		return record.Column{Type: record.ColFloat64}, nil
	case AggSum:
		if src.Type == record.ColFloat64 {
			return record.Column{Type: record.ColFloat64}, nil
		}
		return record.Column{Type: record.ColInt64}, nil
	default:
		return record.Column{}, fmt.Errorf("unsupported aggregate %v", item.Agg)
	}
}

func (c *Catalog) baseColumnLocked(from []string, name string) (record.Column, bool) {
	for _, rel := range from {
		schema, ok := c.schemaOfLocked(rel)
		if !ok {
			continue
		}
		for _, col := range schema.Cols {
			if col.Name == name {
				return col, true
			}
		}
	}
	return record.Column{}, false
}

// synthesize builds the col_<ordinal> placeholder schema used when
// resolution degrades.
func synthesize(arity int) ResolvedSchema {
	if arity < 0 {
		arity = 0
	}
	names := make([]string, arity)
	for i := range names {
		names[i] = fmt.Sprintf("col_%d", i+1)
	}
	return ResolvedSchema{Columns: names, Degraded: true}
}
