package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novaview/internal/catalog"
	"github.com/tuannm99/novaview/internal/delta"
	"github.com/tuannm99/novaview/internal/record"
)

func newUsersEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(WithLockChecking())
	require.NoError(t, e.CreateRelation("users", record.Schema{Cols: []record.Column{
		{Name: "id", Type: record.ColInt64},
		{Name: "name", Type: record.ColText},
	}}))
	require.NoError(t, e.CreateView(catalog.ViewDef{Name: "all_users", From: []string{"users"}, Wildcard: true}))
	return e
}

// collector accumulates delivered events; handlers run on committing
// goroutines, so it locks.
type collector struct {
	mu     sync.Mutex
	events []RelationChangeEvent
}

func (c *collector) handle(ev RelationChangeEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) all() []RelationChangeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]RelationChangeEvent(nil), c.events...)
}

func TestCommit_DeliversBatchesAcrossTransactions(t *testing.T) {
	e := newUsersEngine(t)
	var col collector
	e.Subscribe(col.handle)

	tx1 := e.Begin()
	require.NoError(t, tx1.Insert("users", 1, record.Row{int64(1), "ann"}))
	require.NoError(t, tx1.Insert("users", 2, record.Row{int64(2), "bob"}))
	require.NoError(t, tx1.Insert("users", 3, record.Row{int64(3), "cyd"}))
	require.NoError(t, tx1.Commit())

	events := col.all()
	require.Len(t, events, 1, "one event per affected view per commit")
	ev := events[0]
	require.Equal(t, "all_users", ev.Relation)
	require.Equal(t, []string{"id", "name"}, ev.Columns)
	require.Len(t, ev.Changes, 3)
	for i, rec := range ev.Changes {
		require.Equal(t, delta.KindInsert, rec.Kind)
		require.EqualValues(t, i+1, rec.RowID)
		require.NotEmpty(t, rec.Payload)
	}

	tx2 := e.Begin()
	require.NoError(t, tx2.Delete("users", 1, record.Row{int64(1), "ann"}))
	require.NoError(t, tx2.Update("users", 2, record.Row{int64(2), "bob"}, record.Row{int64(2), "rob"}))
	require.NoError(t, tx2.Insert("users", 4, record.Row{int64(4), "dee"}))
	require.NoError(t, tx2.Commit())

	events = col.all()
	require.Len(t, events, 2)
	ev = events[1]
	require.Len(t, ev.Changes, 3)

	require.Equal(t, delta.KindDelete, ev.Changes[0].Kind)
	require.EqualValues(t, 1, ev.Changes[0].RowID)
	require.Empty(t, ev.Changes[0].Payload, "deletes carry no payload")

	require.Equal(t, delta.KindUpdate, ev.Changes[1].Kind)
	require.EqualValues(t, 2, ev.Changes[1].RowID)

	require.Equal(t, delta.KindInsert, ev.Changes[2].Kind)
	require.EqualValues(t, 4, ev.Changes[2].RowID, "retired rowid 1 is never reissued")

	// change ids are globally monotonic across the two commits
	var prev int64
	for _, ev := range events {
		for _, rec := range ev.Changes {
			require.Greater(t, rec.ChangeID, prev)
			prev = rec.ChangeID
		}
	}
}

func TestCommit_EmptyNetDeltaSkipsNotification(t *testing.T) {
	e := newUsersEngine(t)
	var col collector
	e.Subscribe(col.handle)

	t.Run("insert then delete in one transaction", func(t *testing.T) {
		tx := e.Begin()
		require.NoError(t, tx.Insert("users", 1, record.Row{int64(1), "ann"}))
		require.NoError(t, tx.Delete("users", 1, record.Row{int64(1), "ann"}))
		require.NoError(t, tx.Commit())
		require.Empty(t, col.all())
	})

	t.Run("transaction touching no dependency", func(t *testing.T) {
		tx := e.Begin()
		require.NoError(t, tx.Commit())
		require.Empty(t, col.all())
	})
}

func TestAbort_NeverNotifies(t *testing.T) {
	e := newUsersEngine(t)
	var col collector
	e.Subscribe(col.handle)

	tx := e.Begin()
	require.NoError(t, tx.Insert("users", 1, record.Row{int64(1), "ann"}))
	tx.Abort()
	require.Empty(t, col.all())

	require.ErrorIs(t, tx.Commit(), ErrTxnDone)
	require.ErrorIs(t, tx.Insert("users", 2, record.Row{int64(2), "bob"}), ErrTxnDone)
}

func TestCommit_InconsistentViewStateIsSkipped(t *testing.T) {
	e := newUsersEngine(t)
	require.NoError(t, e.CreateRelation("orders", record.Schema{Cols: []record.Column{
		{Name: "id", Type: record.ColInt64},
	}}))
	require.NoError(t, e.CreateView(catalog.ViewDef{Name: "all_orders", From: []string{"orders"}, Wildcard: true}))

	var col collector
	e.Subscribe(col.handle)

	tx := e.Begin()
	require.NoError(t, tx.Insert("users", 1, record.Row{int64(1), "ann"}))
	require.NoError(t, tx.Insert("orders", 1, record.Row{int64(1)}))

	// Doctor the order view's state so finalization reports an inconsistency.
	require.NoError(t, tx.states["all_orders"].RecordInsert("users", 9, record.Row{int64(9), "zed"}))

	require.NoError(t, tx.Commit(), "commit proceeds; the broken view is skipped")

	events := col.all()
	require.Len(t, events, 1)
	require.Equal(t, "all_users", events[0].Relation)
}

func TestCommit_ReentrantCallbackDoesNotDeadlock(t *testing.T) {
	e := newUsersEngine(t)

	var reentered bool
	e.Subscribe(func(ev RelationChangeEvent) error {
		// Reads and subscription changes from inside a callback must work;
		// the notifier holds no locks here.
		_, ok := e.Catalog().SchemaOf("users")
		require.True(t, ok)
		id := e.Subscribe(func(RelationChangeEvent) error { return nil })
		require.True(t, e.Unsubscribe(id))
		reentered = true
		return nil
	})

	tx := e.Begin()
	require.NoError(t, tx.Insert("users", 1, record.Row{int64(1), "ann"}))
	require.NoError(t, tx.Commit())
	require.True(t, reentered)
}

func TestCommit_ConcurrentTransactionsOnDisjointViews(t *testing.T) {
	e := New(WithLockChecking())
	require.NoError(t, e.CreateRelation("a", record.Schema{Cols: []record.Column{{Name: "x", Type: record.ColInt64}}}))
	require.NoError(t, e.CreateRelation("b", record.Schema{Cols: []record.Column{{Name: "y", Type: record.ColInt64}}}))
	require.NoError(t, e.CreateView(catalog.ViewDef{Name: "va", From: []string{"a"}, Wildcard: true}))
	require.NoError(t, e.CreateView(catalog.ViewDef{Name: "vb", From: []string{"b"}, Wildcard: true}))

	var col collector
	e.Subscribe(col.handle)

	const commits = 50
	var wg sync.WaitGroup
	for _, rel := range []string{"a", "b"} {
		wg.Add(1)
		go func(rel string) {
			defer wg.Done()
			for i := 0; i < commits; i++ {
				tx := e.Begin()
				if err := tx.Insert(rel, int64(i+1), record.Row{int64(i)}); err != nil {
					t.Error(err)
					return
				}
				if err := tx.Commit(); err != nil {
					t.Error(err)
					return
				}
			}
		}(rel)
	}
	wg.Wait()

	events := col.all()
	require.Len(t, events, 2*commits)

	// per view: rowids 1..commits in order, no interleaving corruption
	next := map[string]int64{"va": 1, "vb": 1}
	for _, ev := range events {
		require.Len(t, ev.Changes, 1)
		require.Equal(t, next[ev.Relation], ev.Changes[0].RowID)
		next[ev.Relation]++
	}
}

func TestDropView_StopsMaintenance(t *testing.T) {
	e := newUsersEngine(t)
	var col collector
	e.Subscribe(col.handle)

	require.NoError(t, e.DropView("all_users"))
	require.ErrorIs(t, e.DropView("all_users"), ErrViewNotFound)

	tx := e.Begin()
	require.NoError(t, tx.Insert("users", 1, record.Row{int64(1), "ann"}))
	require.NoError(t, tx.Commit())
	require.Empty(t, col.all())
}
