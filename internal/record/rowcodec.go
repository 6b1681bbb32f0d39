package record

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	ErrArityMismatch   = errors.New("record: schema/values arity mismatch")
	ErrNullViolation   = errors.New("record: NULL for non-nullable column")
	ErrTypeMismatch    = errors.New("record: value type does not match column type")
	ErrBadBuffer       = errors.New("record: buffer underflow/overflow")
	ErrVarTooLong      = errors.New("record: variable length exceeds u16")
	ErrUnsupportedType = errors.New("record: unsupported column type")
)

// EncodeRow serializes a row as the change-payload format:
// [nullmap: ceil(N/8) bytes, bit=1 => NULL] | [field0?] [field1?] ...
// Fixed-width fields are little-endian; TEXT/BYTES carry a u16 length prefix.
func EncodeRow(s Schema, row Row) ([]byte, error) {
	nc := s.NumCols()
	if len(row) != nc {
		return nil, ErrArityMismatch
	}

	nbBytes := (nc + 7) / 8
	out := make([]byte, nbBytes) // nullmap first

	for i, col := range s.Cols {
		v := row[i]
		if v == nil {
			if !col.Nullable {
				return nil, ErrNullViolation
			}
			out[i/8] |= 1 << (uint(i) & 7)
			continue
		}

		switch col.Type {
		case ColInt32:
			x, ok := asInt32(v)
			if !ok {
				return nil, ErrTypeMismatch
			}
			out = binary.LittleEndian.AppendUint32(out, uint32(x))

		case ColInt64:
			x, ok := asInt64(v)
			if !ok {
				return nil, ErrTypeMismatch
			}
			out = binary.LittleEndian.AppendUint64(out, uint64(x))

		case ColBool:
			x, ok := v.(bool)
			if !ok {
				return nil, ErrTypeMismatch
			}
			if x {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}

		case ColFloat64:
			x, ok := asFloat64(v)
			if !ok {
				return nil, ErrTypeMismatch
			}
			out = binary.LittleEndian.AppendUint64(out, math.Float64bits(x))

		case ColText:
			str, ok := v.(string)
			if !ok {
				return nil, ErrTypeMismatch
			}
			if len(str) > math.MaxUint16 {
				return nil, ErrVarTooLong
			}
			out = binary.LittleEndian.AppendUint16(out, uint16(len(str)))
			out = append(out, str...)

		case ColBytes:
			bs, ok := v.([]byte)
			if !ok {
				return nil, ErrTypeMismatch
			}
			if len(bs) > math.MaxUint16 {
				return nil, ErrVarTooLong
			}
			out = binary.LittleEndian.AppendUint16(out, uint16(len(bs)))
			out = append(out, bs...)

		default:
			return nil, ErrUnsupportedType
		}
	}
	return out, nil
}

// DecodeRow is the inverse of EncodeRow.
func DecodeRow(s Schema, buf []byte) (Row, error) {
	nc := s.NumCols()
	nbBytes := (nc + 7) / 8
	if len(buf) < nbBytes {
		return nil, ErrBadBuffer
	}
	nullmap := buf[:nbBytes]
	i := nbBytes

	out := make(Row, nc)
	for colIdx, col := range s.Cols {
		if (nullmap[colIdx/8]>>(uint(colIdx)&7))&1 == 1 {
			out[colIdx] = nil
			continue
		}

		switch col.Type {
		case ColInt32:
			if i+4 > len(buf) {
				return nil, ErrBadBuffer
			}
			out[colIdx] = int32(binary.LittleEndian.Uint32(buf[i : i+4]))
			i += 4

		case ColInt64:
			if i+8 > len(buf) {
				return nil, ErrBadBuffer
			}
			out[colIdx] = int64(binary.LittleEndian.Uint64(buf[i : i+8]))
			i += 8

		case ColBool:
			if i+1 > len(buf) {
				return nil, ErrBadBuffer
			}
			out[colIdx] = buf[i] != 0
			i++

		case ColFloat64:
			if i+8 > len(buf) {
				return nil, ErrBadBuffer
			}
			out[colIdx] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i : i+8]))
			i += 8

		case ColText:
			if i+2 > len(buf) {
				return nil, ErrBadBuffer
			}
			l := int(binary.LittleEndian.Uint16(buf[i : i+2]))
			i += 2
			if i+l > len(buf) {
				return nil, ErrBadBuffer
			}
			out[colIdx] = string(buf[i : i+l])
			i += l

		case ColBytes:
			if i+2 > len(buf) {
				return nil, ErrBadBuffer
			}
			l := int(binary.LittleEndian.Uint16(buf[i : i+2]))
			i += 2
			if i+l > len(buf) {
				return nil, ErrBadBuffer
			}
			// copy to avoid aliasing the input buffer
			cp := make([]byte, l)
			copy(cp, buf[i:i+l])
			out[colIdx] = cp
			i += l

		default:
			return nil, ErrUnsupportedType
		}
	}

	return out, nil
}

// ---- accept multiple numeric widths on encode ----

func asInt32(v any) (int32, bool) {
	switch x := v.(type) {
	case int32:
		return x, true
	case int:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return int32(x), true
		}
	case int64:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return int32(x), true
		}
	}
	return 0, false
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}
