package record

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// makeTestSchema builds a simple schema used across tests.
func makeTestSchema() Schema {
	return Schema{
		Cols: []Column{
			{Name: "id32", Type: ColInt32, Nullable: false},
			{Name: "id64", Type: ColInt64, Nullable: false},
			{Name: "active", Type: ColBool, Nullable: false},
			{Name: "score", Type: ColFloat64, Nullable: false},
			{Name: "name", Type: ColText, Nullable: true},
			{Name: "blob", Type: ColBytes, Nullable: true},
		},
	}
}

func TestEncodeDecodeRow_RoundTrip(t *testing.T) {
	schema := makeTestSchema()

	row := Row{
		int32(42),
		int64(123456789),
		true,
		3.14159,
		"hello",
		[]byte{0x01, 0x02, 0x03},
	}

	buf, err := EncodeRow(schema, row)
	require.NoError(t, err)
	require.NotEmpty(t, buf)

	got, err := DecodeRow(schema, buf)
	require.NoError(t, err)

	require.Len(t, got, len(row))
	require.Equal(t, int32(42), got[0].(int32))
	require.Equal(t, int64(123456789), got[1].(int64))
	require.True(t, got[2].(bool))
	require.InDelta(t, 3.14159, got[3].(float64), 1e-9)
	require.Equal(t, "hello", got[4].(string))
	require.Equal(t, []byte{0x01, 0x02, 0x03}, got[5].([]byte))
}

func TestEncodeDecodeRow_Nullable(t *testing.T) {
	schema := makeTestSchema()

	row := Row{
		int32(1),
		int64(2),
		false,
		1.5,
		nil, // name
		nil, // blob
	}

	buf, err := EncodeRow(schema, row)
	require.NoError(t, err)

	got, err := DecodeRow(schema, buf)
	require.NoError(t, err)

	require.Nil(t, got[4])
	require.Nil(t, got[5])
}

func TestEncodeRow_SchemaMismatch(t *testing.T) {
	schema := makeTestSchema()

	t.Run("wrong number of values", func(t *testing.T) {
		_, err := EncodeRow(schema, Row{1, 2, 3})
		require.Error(t, err)
		require.ErrorIs(t, err, ErrArityMismatch)
	})

	t.Run("non-nullable column is nil", func(t *testing.T) {
		row := Row{
			nil, // id32 is not nullable
			int64(1),
			true,
			1.0,
			"ok",
			[]byte("abcd"),
		}
		_, err := EncodeRow(schema, row)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrNullViolation)
	})

	t.Run("wrong type for column", func(t *testing.T) {
		row := Row{
			"not-int32", // id32
			int64(1),
			true,
			1.0,
			"ok",
			[]byte("abcd"),
		}
		_, err := EncodeRow(schema, row)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrTypeMismatch)
	})
}

func TestEncodeRow_VarTooLong(t *testing.T) {
	schema := Schema{
		Cols: []Column{
			{Name: "name", Type: ColText, Nullable: false},
		},
	}

	longStr := strings.Repeat("a", math.MaxUint16+1)

	_, err := EncodeRow(schema, Row{longStr})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrVarTooLong)
}

func TestDecodeRow_BadBuffer(t *testing.T) {
	schema := makeTestSchema()

	row := Row{
		int32(42),
		int64(99),
		true,
		2.71828,
		"test",
		[]byte{0xAA, 0xBB},
	}

	buf, err := EncodeRow(schema, row)
	require.NoError(t, err)

	t.Run("truncated buffer", func(t *testing.T) {
		truncated := buf[:len(buf)-3]
		_, err := DecodeRow(schema, truncated)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrBadBuffer)
	})

	t.Run("too short for nullmap", func(t *testing.T) {
		_, err := DecodeRow(schema, []byte{0x00})
		require.Error(t, err)
		require.ErrorIs(t, err, ErrBadBuffer)
	})
}

func TestRowClone_NoAliasing(t *testing.T) {
	row := Row{int64(1), "x", []byte{1, 2, 3}}
	cp := row.Clone()

	cp[0] = int64(2)
	cp[2].([]byte)[0] = 9

	require.Equal(t, int64(1), row[0])
	require.Equal(t, byte(1), row[2].([]byte)[0])
}
