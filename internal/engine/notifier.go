package engine

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tuannm99/novaview/internal/catalog"
	"github.com/tuannm99/novaview/internal/delta"
	"github.com/tuannm99/novaview/internal/locking"
	"github.com/tuannm99/novaview/internal/record"
	"github.com/tuannm99/novaview/internal/view"
)

// Handler receives one RelationChangeEvent per affected view per commit,
// synchronously on the committing goroutine. A non-nil error is propagated
// to the Commit caller; the commit itself is already durable by then.
type Handler func(RelationChangeEvent) error

type SubscriptionID int64

// Registry holds the engine's subscriptions. It is an explicit object owned
// by the engine and handed to the notifier, never ambient global state.
type Registry struct {
	mu       sync.Mutex
	next     SubscriptionID
	handlers map[SubscriptionID]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[SubscriptionID]Handler)}
}

func (r *Registry) Subscribe(h Handler) SubscriptionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := r.next
	r.handlers[id] = h
	return id
}

// Unsubscribe reports whether the id was registered.
func (r *Registry) Unsubscribe(id SubscriptionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[id]
	delete(r.handlers, id)
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// snapshot returns the handlers in subscription order. Callbacks run against
// the snapshot, so handlers may subscribe or unsubscribe re-entrantly.
func (r *Registry) snapshot() []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]SubscriptionID, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Handler, len(ids))
	for i, id := range ids {
		out[i] = r.handlers[id]
	}
	return out
}

// Notifier turns finalized output deltas into wire batches and drives the
// subscriber callbacks under the fixed locking protocol: catalog reader lock,
// then view lock for the schema snapshot, both released before any callback.
type Notifier struct {
	log *zap.SugaredLogger
	lc  *locking.Checker
	cat *catalog.Catalog

	changeID atomic.Int64
	now      func() int64 // unix-micro clock, swappable in tests
}

func NewNotifier(cat *catalog.Catalog, log *zap.SugaredLogger, lc *locking.Checker) *Notifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Notifier{
		log: log,
		lc:  lc,
		cat: cat,
		now: func() int64 { return time.Now().UnixMicro() },
	}
}

// Publish delivers one view's output delta to every subscriber as a single
// atomic batch. With no subscribers the batch is never even computed.
func (n *Notifier) Publish(v *view.View, out *delta.Delta, reg *Registry) error {
	handlers := reg.snapshot()
	if len(handlers) == 0 {
		return nil
	}

	// 1-3: snapshot the schema under catalog lock then view lock, release
	// both before building or delivering anything.
	n.cat.ReadLock()
	schema := v.SchemaSnapshot()
	n.cat.ReadUnlock()

	event := n.buildEvent(v.Name(), schema, out)

	// The central reentrancy-safety rule: a callback may re-enter the
	// engine, so it must never run under the catalog or a view lock.
	n.lc.AssertNoneHeld()

	var errs error
	for _, h := range handlers {
		if err := h(event); err != nil {
			errs = multierr.Append(errs, pkgerrors.Wrapf(err, "subscriber callback for view %q", v.Name()))
		}
	}
	return errs
}

// buildEvent translates the delta into an ordered ChangeRecord sequence with
// globally monotonic change ids. Runs outside all locks.
func (n *Notifier) buildEvent(relation string, schema catalog.ResolvedSchema, out *delta.Delta) RelationChangeEvent {
	changes := out.Changes()
	records := make([]ChangeRecord, 0, len(changes))
	for _, ch := range changes {
		rec := ChangeRecord{
			ChangeID:   n.changeID.Add(1),
			ChangeTime: n.now(),
			Kind:       ch.Kind,
			RowID:      ch.RowID,
		}
		if ch.Kind != delta.KindDelete {
			rec.Payload = n.encodePayload(relation, schema, ch.New)
		}
		records = append(records, rec)
	}
	return RelationChangeEvent{
		Relation: relation,
		Columns:  append([]string(nil), schema.Columns...),
		Changes:  records,
	}
}

// encodePayload encodes a row against the resolved schema, fitting the row
// to the schema arity so len(columns) always equals the payload arity.
func (n *Notifier) encodePayload(relation string, schema catalog.ResolvedSchema, row record.Row) []byte {
	arity := schema.Arity()
	if len(row) != arity {
		n.log.Warnw("row arity does not match resolved schema",
			"view", relation, "row", len(row), "schema", arity)
		fitted := make(record.Row, arity)
		copy(fitted, row)
		row = fitted
	}

	typed := schema.Typed
	if typed.NumCols() != arity {
		typed = record.InferSchema(schema.Columns, row)
	}

	payload, err := record.EncodeRow(typed, row)
	if err != nil {
		// Typed encode can fail when DDL raced the payload; the inferred
		// schema always fits the values it was derived from.
		payload, err = record.EncodeRow(record.InferSchema(schema.Columns, row), row)
		if err != nil {
			n.log.Warnw("payload encode failed", "view", relation, "err", err)
			return nil
		}
	}
	return payload
}
