package catalog

import "fmt"

// ViewDef is the pre-planned defining query of a view. The parser/planner is
// an external collaborator; it hands definitions over in this structural form
// rather than as SQL text.
type ViewDef struct {
	Name string
	// From lists referenced base relations in from-clause order.
	From []string
	// Wildcard selects every column of every From relation, in order.
	Wildcard bool
	// Select is the explicit select list; ignored when Wildcard is set.
	Select []SelectItem
	// Filters are ANDed row predicates applied before grouping.
	Filters []FilterDef
	// GroupBy names the grouping columns; non-empty makes this an
	// aggregated view.
	GroupBy []string
}

// Aggregated reports whether the view groups rows.
func (d ViewDef) Aggregated() bool { return len(d.GroupBy) > 0 }

// SelectItem is one output column of a view.
type SelectItem struct {
	// Column is the referenced base column. Empty for COUNT(*).
	Column string
	// Agg is AggNone for a plain column reference.
	Agg AggFunc
	// Alias overrides the inferred output name when non-empty.
	Alias string
}

// OutputName returns the declared or inferred column name for the item.
func (it SelectItem) OutputName() string {
	if it.Alias != "" {
		return it.Alias
	}
	if it.Agg == AggNone {
		return it.Column
	}
	col := it.Column
	if col == "" {
		col = "*"
	}
	return fmt.Sprintf("%s(%s)", it.Agg, col)
}

type AggFunc int

const (
	AggNone AggFunc = iota
	AggCount
	AggSum
	AggMin
	AggMax
	AggAvg
)

func (f AggFunc) String() string {
	switch f {
	case AggNone:
		return ""
	case AggCount:
		return "count"
	case AggSum:
		return "sum"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggAvg:
		return "avg"
	default:
		return fmt.Sprintf("agg(%d)", int(f))
	}
}

type CmpOp int

const (
	CmpEq CmpOp = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

// FilterDef is one simple comparison predicate: <column> <op> <literal>.
type FilterDef struct {
	Column string
	Op     CmpOp
	Value  any
}
