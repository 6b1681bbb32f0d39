package engine

import (
	"sort"

	"go.uber.org/multierr"

	"github.com/tuannm99/novaview/internal/record"
	"github.com/tuannm99/novaview/internal/view"
)

// Txn accumulates one transaction's base-relation mutations for every view
// that depends on them. The upstream execution layer reports each row
// mutation with its relation, rowid and row images before signaling Commit.
// All methods run inline on the driving goroutine; nothing here suspends.
type Txn struct {
	id     int64
	eng    *Engine
	states map[string]*view.TxnState
	done   bool
}

func (t *Txn) ID() int64 { return t.id }

// state returns the per-(transaction, view) scratch state, created lazily on
// the first write touching one of the view's dependencies.
func (t *Txn) state(v *view.View) *view.TxnState {
	s, ok := t.states[v.Name()]
	if !ok {
		s = view.NewTxnState(v)
		t.states[v.Name()] = s
	}
	return s
}

// Insert reports a newly inserted base row.
func (t *Txn) Insert(relation string, rowid int64, row record.Row) error {
	if t.done {
		return ErrTxnDone
	}
	for _, v := range t.eng.viewsDependingOn(relation) {
		if err := t.state(v).RecordInsert(relation, rowid, row.Clone()); err != nil {
			return err
		}
	}
	return nil
}

// Update reports an in-place base row change with before and after images.
func (t *Txn) Update(relation string, rowid int64, old, new record.Row) error {
	if t.done {
		return ErrTxnDone
	}
	for _, v := range t.eng.viewsDependingOn(relation) {
		if err := t.state(v).RecordUpdate(relation, rowid, old.Clone(), new.Clone()); err != nil {
			return err
		}
	}
	return nil
}

// Delete reports removal of a base row, with its last image.
func (t *Txn) Delete(relation string, rowid int64, old record.Row) error {
	if t.done {
		return ErrTxnDone
	}
	for _, v := range t.eng.viewsDependingOn(relation) {
		if err := t.state(v).RecordDelete(relation, rowid, old.Clone()); err != nil {
			return err
		}
	}
	return nil
}

// Commit finalizes every touched view's state and delivers the non-empty
// output deltas to subscribers. A view whose finalization reports an
// inconsistency is skipped with a warning; the commit itself proceeds.
// Subscriber callback errors are returned joined, but by then the commit is
// durable; notification failure is not transactional failure.
func (t *Txn) Commit() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true

	// Deterministic order across views within the commit.
	names := make([]string, 0, len(t.states))
	for name := range t.states {
		names = append(names, name)
	}
	sort.Strings(names)

	var cbErr error
	for _, name := range names {
		s := t.states[name]

		out, err := s.Finalize()
		if err != nil {
			// ViewStateInconsistency: skip notification for this view only.
			t.eng.log.Warnw("view state inconsistent, skipping notification",
				"txn", t.id, "view", name, "err", err)
			s.Discard()
			continue
		}

		if out != nil && !out.IsEmpty() {
			if err := t.eng.notifier.Publish(s.View(), out, t.eng.subs); err != nil {
				cbErr = multierr.Append(cbErr, err)
			}
		}
		s.Discard()
	}
	t.states = nil

	return cbErr
}

// Abort discards all accumulated state without reaching notification.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	for _, s := range t.states {
		s.Discard()
	}
	t.states = nil
}
