// Package engine ties the maintenance subsystem together: the catalog, the
// set of live incremental views, transactions, commit-time coordination and
// change notification.
package engine

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tuannm99/novaview/internal/catalog"
	"github.com/tuannm99/novaview/internal/locking"
	"github.com/tuannm99/novaview/internal/record"
	"github.com/tuannm99/novaview/internal/view"
)

var (
	ErrViewNotFound = errors.New("engine: view not found")
	ErrTxnDone      = errors.New("engine: transaction already committed or aborted")
)

// Engine is the transactional core: it routes base-relation mutations into
// per-view transaction states and, at commit, folds them into output deltas
// and notifies subscribers.
type Engine struct {
	log *zap.SugaredLogger
	lc  *locking.Checker
	cat *catalog.Catalog

	mu    sync.RWMutex
	views map[string]*view.View

	subs     *Registry
	notifier *Notifier

	nextTxnID atomic.Int64
}

type Option func(*Engine)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(e *Engine) { e.log = log }
}

// WithLockChecking enables the lock-order checker on every catalog/view
// acquisition. Meant for tests and debug builds.
func WithLockChecking() Option {
	return func(e *Engine) { e.lc.Enable() }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		log:   zap.NewNop().Sugar(),
		lc:    locking.NewChecker(),
		views: make(map[string]*view.View),
		subs:  NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cat = catalog.New(e.log, e.lc)
	e.notifier = NewNotifier(e.cat, e.log, e.lc)
	return e
}

// Catalog exposes the schema store for DDL and lookups.
func (e *Engine) Catalog() *catalog.Catalog { return e.cat }

// CreateRelation registers a base relation with the catalog.
func (e *Engine) CreateRelation(name string, schema record.Schema) error {
	return e.cat.CreateRelation(name, schema)
}

// CreateView defines a view in the catalog and starts maintaining it.
func (e *Engine) CreateView(def catalog.ViewDef) error {
	if err := e.cat.DefineView(def); err != nil {
		return err
	}

	v := view.New(def, e.cat, e.log, e.lc)

	e.mu.Lock()
	e.views[def.Name] = v
	e.mu.Unlock()

	return nil
}

// DropView stops maintaining a view and removes its definition.
func (e *Engine) DropView(name string) error {
	e.mu.Lock()
	_, ok := e.views[name]
	delete(e.views, name)
	e.mu.Unlock()
	if !ok {
		return ErrViewNotFound
	}
	return e.cat.DropView(name)
}

// Subscribe registers a change handler; the returned id deregisters it.
func (e *Engine) Subscribe(h Handler) SubscriptionID {
	return e.subs.Subscribe(h)
}

func (e *Engine) Unsubscribe(id SubscriptionID) bool {
	return e.subs.Unsubscribe(id)
}

// Subscribers returns the number of registered handlers.
func (e *Engine) Subscribers() int {
	return e.subs.Len()
}

// Begin opens a transaction handle. The handle is driven by one goroutine;
// distinct transactions on distinct handles may run concurrently.
func (e *Engine) Begin() *Txn {
	return &Txn{
		id:     e.nextTxnID.Add(1),
		eng:    e,
		states: make(map[string]*view.TxnState),
	}
}

// viewsDependingOn returns the views reading a base relation, ordered by
// name so commit processing is deterministic.
func (e *Engine) viewsDependingOn(relation string) []*view.View {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*view.View
	for _, v := range e.views {
		if v.DependsOn(relation) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
