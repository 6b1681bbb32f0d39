package record

// Row is one positional tuple. Arity must match the schema of the relation it
// belongs to; values are the decoded Go forms produced by DecodeRow.
type Row []any

type ColumnType uint8

const (
	ColInt32 ColumnType = iota
	ColInt64
	ColBool
	ColFloat64
	ColText  // UTF-8
	ColBytes // opaque bytes
)

type Column struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Nullable bool       `json:"nullable"`
}

type Schema struct {
	Cols []Column `json:"cols"`
}

func (s Schema) NumCols() int { return len(s.Cols) }

// ColumnNames returns the column names in ordinal order.
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s.Cols))
	for i, c := range s.Cols {
		names[i] = c.Name
	}
	return names
}

// InferSchema derives a schema from a row's runtime values. Used for change
// payloads when a view's resolved schema carries no type information; a nil
// value infers a nullable bytes column so the row still encodes.
func InferSchema(names []string, row Row) Schema {
	cols := make([]Column, len(names))
	for i, name := range names {
		col := Column{Name: name}
		var v any
		if i < len(row) {
			v = row[i]
		}
		switch v.(type) {
		case int32:
			col.Type = ColInt32
		case int, int64:
			col.Type = ColInt64
		case bool:
			col.Type = ColBool
		case float32, float64:
			col.Type = ColFloat64
		case string:
			col.Type = ColText
		case []byte:
			col.Type = ColBytes
		default:
			col.Type = ColBytes
			col.Nullable = true
		}
		cols[i] = col
	}
	return Schema{Cols: cols}
}

// Clone returns a copy of the row that shares no mutable state with the
// receiver. []byte values are copied; everything else is a value type.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	copy(out, r)
	for i, v := range r {
		if b, ok := v.([]byte); ok {
			cp := make([]byte, len(b))
			copy(cp, b)
			out[i] = cp
		}
	}
	return out
}
