package delta

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novaview/internal/record"
)

func row(vals ...any) record.Row { return record.Row(vals) }

func TestDelta_NetStateMachine(t *testing.T) {
	t.Run("insert then delete cancels out", func(t *testing.T) {
		d := New("users")
		require.NoError(t, d.RecordInsert(1, row(int64(1), "a")))
		require.NoError(t, d.RecordDelete(1, row(int64(1), "a")))

		require.True(t, d.IsEmpty())
		require.Empty(t, d.Changes())
	})

	t.Run("insert then update collapses to insert of final row", func(t *testing.T) {
		d := New("users")
		require.NoError(t, d.RecordInsert(1, row(int64(1), "a")))
		require.NoError(t, d.RecordUpdate(1, row(int64(1), "a"), row(int64(1), "b")))

		changes := d.Changes()
		require.Len(t, changes, 1)
		require.Equal(t, KindInsert, changes[0].Kind)
		require.Equal(t, row(int64(1), "b"), changes[0].New)
		require.Nil(t, changes[0].Old)
	})

	t.Run("update then delete collapses to delete of original row", func(t *testing.T) {
		d := New("users")
		require.NoError(t, d.RecordUpdate(7, row(int64(7), "a"), row(int64(7), "b")))
		require.NoError(t, d.RecordDelete(7, row(int64(7), "b")))

		changes := d.Changes()
		require.Len(t, changes, 1)
		require.Equal(t, KindDelete, changes[0].Kind)
		require.Equal(t, row(int64(7), "a"), changes[0].Old)
		require.Nil(t, changes[0].New)
	})

	t.Run("update then update keeps original old and final new", func(t *testing.T) {
		d := New("users")
		require.NoError(t, d.RecordUpdate(7, row("a"), row("b")))
		require.NoError(t, d.RecordUpdate(7, row("b"), row("c")))

		changes := d.Changes()
		require.Len(t, changes, 1)
		require.Equal(t, KindUpdate, changes[0].Kind)
		require.Equal(t, row("a"), changes[0].Old)
		require.Equal(t, row("c"), changes[0].New)
	})

	t.Run("insert after delete is rejected as rowid reuse", func(t *testing.T) {
		d := New("users")
		require.NoError(t, d.RecordDelete(3, row("gone")))

		err := d.RecordInsert(3, row("back"))
		require.Error(t, err)
		require.ErrorIs(t, err, ErrRowIDReused)
	})

	t.Run("any record after full cancellation is rejected", func(t *testing.T) {
		d := New("users")
		require.NoError(t, d.RecordInsert(3, row("a")))
		require.NoError(t, d.RecordDelete(3, row("a")))

		err := d.RecordInsert(3, row("b"))
		require.ErrorIs(t, err, ErrRowIDReused)
		err = d.RecordUpdate(3, row("a"), row("b"))
		require.ErrorIs(t, err, ErrRowIDReused)
	})

	t.Run("insert over live rowid is an invalid transition", func(t *testing.T) {
		d := New("users")
		require.NoError(t, d.RecordInsert(1, row("a")))

		err := d.RecordInsert(1, row("b"))
		require.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestDelta_FirstAffectedOrder(t *testing.T) {
	d := New("users")
	require.NoError(t, d.RecordDelete(1, row("one")))
	require.NoError(t, d.RecordUpdate(2, row("two"), row("two'")))
	require.NoError(t, d.RecordInsert(4, row("four")))

	changes := d.Changes()
	require.Len(t, changes, 3)
	require.Equal(t, KindDelete, changes[0].Kind)
	require.EqualValues(t, 1, changes[0].RowID)
	require.Equal(t, KindUpdate, changes[1].Kind)
	require.EqualValues(t, 2, changes[1].RowID)
	require.Equal(t, KindInsert, changes[2].Kind)
	require.EqualValues(t, 4, changes[2].RowID)
}

func TestDelta_ChangesIsSnapshot(t *testing.T) {
	d := New("users")
	require.NoError(t, d.RecordInsert(1, row("a")))

	snap := d.Changes()
	require.NoError(t, d.RecordUpdate(1, row("a"), row("b")))

	// first snapshot still shows the pre-update record
	require.Equal(t, row("a"), snap[0].New)
	require.Equal(t, row("b"), d.Changes()[0].New)
}

func TestDelta_Merge(t *testing.T) {
	t.Run("collapses across deltas", func(t *testing.T) {
		a := New("users")
		require.NoError(t, a.RecordInsert(1, row("a")))
		require.NoError(t, a.RecordUpdate(2, row("b"), row("b'")))

		b := New("users")
		require.NoError(t, b.RecordDelete(1, row("a")))
		require.NoError(t, b.RecordDelete(2, row("b'")))
		require.NoError(t, b.RecordInsert(3, row("c")))

		require.NoError(t, a.Merge(b))

		changes := a.Changes()
		require.Len(t, changes, 2)
		// rowid 1 cancelled entirely; rowid 2 nets to a delete of the original image
		require.Equal(t, KindDelete, changes[0].Kind)
		require.EqualValues(t, 2, changes[0].RowID)
		require.Equal(t, row("b"), changes[0].Old)
		require.Equal(t, KindInsert, changes[1].Kind)
		require.EqualValues(t, 3, changes[1].RowID)
	})

	t.Run("propagates retired rowids", func(t *testing.T) {
		a := New("users")
		b := New("users")
		require.NoError(t, b.RecordInsert(5, row("x")))
		require.NoError(t, b.RecordDelete(5, row("x")))

		require.NoError(t, a.Merge(b))
		require.ErrorIs(t, a.RecordInsert(5, row("y")), ErrRowIDReused)
	})

	t.Run("merge with nil is a no-op", func(t *testing.T) {
		a := New("users")
		require.NoError(t, a.RecordInsert(1, row("a")))
		require.NoError(t, a.Merge(nil))
		require.Equal(t, 1, a.Len())
	})
}
