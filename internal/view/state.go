package view

import (
	"errors"
	"fmt"

	"github.com/tuannm99/novaview/internal/delta"
	"github.com/tuannm99/novaview/internal/record"
)

var ErrStateClosed = errors.New("view: transaction state no longer accepts writes")

// TxnPhase is the lifecycle of a per-(transaction, view) scratch state.
type TxnPhase int

const (
	PhaseActive TxnPhase = iota // accumulating input deltas
	PhaseFinalized              // output computed and cached
	PhaseDiscarded              // consumed by notification or abandoned on abort
)

func (p TxnPhase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseFinalized:
		return "finalized"
	case PhaseDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// TxnState holds one transaction's accumulated input deltas for one view,
// plus the memoized output delta once finalized. Owned exclusively by the
// transaction; no locking.
type TxnState struct {
	view   *View
	phase  TxnPhase
	inputs map[string]*delta.Delta

	output    *delta.Delta
	outputErr error
}

func NewTxnState(v *View) *TxnState {
	return &TxnState{
		view:   v,
		inputs: make(map[string]*delta.Delta),
	}
}

func (s *TxnState) View() *View     { return s.view }
func (s *TxnState) Phase() TxnPhase { return s.phase }

// input returns the accumulating delta for a base relation, creating it on
// first touch.
func (s *TxnState) input(relation string) *delta.Delta {
	d, ok := s.inputs[relation]
	if !ok {
		d = delta.New(relation)
		s.inputs[relation] = d
	}
	return d
}

func (s *TxnState) RecordInsert(relation string, rowid int64, row record.Row) error {
	if s.phase != PhaseActive {
		return fmt.Errorf("%w: view %q is %s", ErrStateClosed, s.view.Name(), s.phase)
	}
	return s.input(relation).RecordInsert(rowid, row)
}

func (s *TxnState) RecordUpdate(relation string, rowid int64, old, new record.Row) error {
	if s.phase != PhaseActive {
		return fmt.Errorf("%w: view %q is %s", ErrStateClosed, s.view.Name(), s.phase)
	}
	return s.input(relation).RecordUpdate(rowid, old, new)
}

func (s *TxnState) RecordDelete(relation string, rowid int64, old record.Row) error {
	if s.phase != PhaseActive {
		return fmt.Errorf("%w: view %q is %s", ErrStateClosed, s.view.Name(), s.phase)
	}
	return s.input(relation).RecordDelete(rowid, old)
}

// Finalize folds the accumulated input deltas into the view's output delta.
// Idempotent: repeated calls return the cached result without re-evaluating,
// so no view is finalized twice for one transaction.
func (s *TxnState) Finalize() (*delta.Delta, error) {
	switch s.phase {
	case PhaseFinalized:
		return s.output, s.outputErr
	case PhaseDiscarded:
		return nil, fmt.Errorf("%w: view %q is %s", ErrStateClosed, s.view.Name(), s.phase)
	}

	s.output, s.outputErr = s.view.Apply(s.inputs)
	s.phase = PhaseFinalized
	return s.output, s.outputErr
}

// Discard releases the state. Valid from any phase; an aborting transaction
// goes straight here without ever reaching notification.
func (s *TxnState) Discard() {
	s.phase = PhaseDiscarded
	s.inputs = nil
	s.output = nil
}
