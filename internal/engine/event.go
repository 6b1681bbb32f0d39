package engine

import (
	"github.com/tuannm99/novaview/internal/delta"
)

// ChangeRecord is the wire unit for one net row change. Payload is the
// encoded row (record.EncodeRow) for inserts and updates, empty for deletes.
type ChangeRecord struct {
	ChangeID   int64      `json:"change_id"`
	ChangeTime int64      `json:"change_time"` // unix micros
	Kind       delta.Kind `json:"kind"`
	RowID      int64      `json:"rowid"`
	Payload    []byte     `json:"payload,omitempty"`
}

// RelationChangeEvent is one commit's batch of changes for one view, with
// the resolved column schema. It is an immutable snapshot: nothing in it
// aliases engine state, so subscribers may hold it indefinitely.
type RelationChangeEvent struct {
	Relation string         `json:"relation"`
	Columns  []string       `json:"columns"`
	Changes  []ChangeRecord `json:"changes"`
}
