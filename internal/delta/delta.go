// Package delta accumulates the net row-level changes for one relation within
// one transaction. Changes for the same rowid collapse according to a fixed
// state machine, so at most one record per rowid survives a merge.
package delta

import (
	"errors"
	"fmt"

	"github.com/tuannm99/novaview/internal/record"
)

var (
	ErrRowIDReused       = errors.New("delta: rowid recorded again after delete")
	ErrInvalidTransition = errors.New("delta: invalid change transition for rowid")
)

// Kind discriminates change records. Values are persisted on the wire, so
// they are fixed instead of iota-from-zero.
type Kind int

const (
	KindInsert Kind = 1
	KindUpdate Kind = 2
	KindDelete Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Change is the net record for one rowid. Old is set for updates and deletes,
// New for inserts and updates.
type Change struct {
	Kind  Kind
	RowID int64
	Old   record.Row
	New   record.Row
}

// Delta is the change accumulator for one relation. Not safe for concurrent
// use; a delta is owned by a single transaction.
type Delta struct {
	relation string
	order    []int64           // rowids in first-affected order
	byRow    map[int64]*Change // net record per live rowid
	retired  map[int64]bool    // rowids that have seen a delete (or full cancellation)
}

func New(relation string) *Delta {
	return &Delta{
		relation: relation,
		byRow:    make(map[int64]*Change),
		retired:  make(map[int64]bool),
	}
}

func (d *Delta) Relation() string { return d.relation }

// Len reports the number of surviving net records.
func (d *Delta) Len() int { return len(d.byRow) }

func (d *Delta) IsEmpty() bool { return len(d.byRow) == 0 }

// RecordInsert registers a newly inserted row under a fresh rowid.
func (d *Delta) RecordInsert(rowid int64, row record.Row) error {
	if d.retired[rowid] {
		return fmt.Errorf("%w: relation %q rowid %d", ErrRowIDReused, d.relation, rowid)
	}
	if _, live := d.byRow[rowid]; live {
		return fmt.Errorf("%w: insert over live rowid %d in relation %q", ErrInvalidTransition, rowid, d.relation)
	}
	d.put(rowid, &Change{Kind: KindInsert, RowID: rowid, New: row})
	return nil
}

// RecordUpdate registers an in-place change of an existing row.
func (d *Delta) RecordUpdate(rowid int64, old, new record.Row) error {
	if d.retired[rowid] {
		return fmt.Errorf("%w: relation %q rowid %d", ErrRowIDReused, d.relation, rowid)
	}
	cur, live := d.byRow[rowid]
	if !live {
		d.put(rowid, &Change{Kind: KindUpdate, RowID: rowid, Old: old, New: new})
		return nil
	}
	switch cur.Kind {
	case KindInsert:
		// Insert + Update => Insert(final row)
		cur.New = new
	case KindUpdate:
		// Update + Update => Update(original, final)
		cur.New = new
	default:
		return fmt.Errorf("%w: update after %s for rowid %d", ErrInvalidTransition, cur.Kind, rowid)
	}
	return nil
}

// RecordDelete registers removal of an existing row.
func (d *Delta) RecordDelete(rowid int64, old record.Row) error {
	if d.retired[rowid] {
		return fmt.Errorf("%w: relation %q rowid %d", ErrRowIDReused, d.relation, rowid)
	}
	cur, live := d.byRow[rowid]
	d.retired[rowid] = true
	if !live {
		d.put(rowid, &Change{Kind: KindDelete, RowID: rowid, Old: old})
		return nil
	}
	switch cur.Kind {
	case KindInsert:
		// Insert + Delete => net nothing
		delete(d.byRow, rowid)
	case KindUpdate:
		// Update + Delete => Delete(original row)
		cur.Kind = KindDelete
		cur.New = nil
	default:
		return fmt.Errorf("%w: delete after %s for rowid %d", ErrInvalidTransition, cur.Kind, rowid)
	}
	return nil
}

// Merge folds the other delta into the receiver, collapsing per-rowid records.
// The receiver keeps first-affected order across both deltas.
func (d *Delta) Merge(other *Delta) error {
	if other == nil {
		return nil
	}
	for _, ch := range other.Changes() {
		var err error
		switch ch.Kind {
		case KindInsert:
			err = d.RecordInsert(ch.RowID, ch.New)
		case KindUpdate:
			err = d.RecordUpdate(ch.RowID, ch.Old, ch.New)
		case KindDelete:
			err = d.RecordDelete(ch.RowID, ch.Old)
		default:
			err = fmt.Errorf("%w: unknown kind %d", ErrInvalidTransition, ch.Kind)
		}
		if err != nil {
			return err
		}
	}
	// Rowids fully cancelled in other must still be unusable after the merge.
	for rowid := range other.retired {
		d.retired[rowid] = true
	}
	return nil
}

// Changes returns the surviving net records in first-affected order. The
// result is a fresh snapshot; mutating the delta afterwards does not change
// an already-returned slice.
func (d *Delta) Changes() []Change {
	out := make([]Change, 0, len(d.byRow))
	for _, rowid := range d.order {
		if ch, ok := d.byRow[rowid]; ok {
			out = append(out, *ch)
		}
	}
	return out
}

func (d *Delta) put(rowid int64, ch *Change) {
	d.byRow[rowid] = ch
	d.order = append(d.order, rowid)
}
