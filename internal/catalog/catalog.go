// Package catalog is the schema store for the maintenance engine: base
// relation schemas and view definitions, behind a reader-writer lock.
// Readers (commit-time notification, view re-resolution) share the lock; DDL
// takes it exclusively and bumps the catalog version so cached view schemas
// know to re-resolve.
package catalog

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tuannm99/novaview/internal/locking"
	"github.com/tuannm99/novaview/internal/record"
)

var (
	ErrRelationExists   = errors.New("catalog: relation already exists")
	ErrRelationNotFound = errors.New("catalog: relation not found")
	ErrViewExists       = errors.New("catalog: view already exists")
	ErrViewNotFound     = errors.New("catalog: view not found")
	ErrEmptyFrom        = errors.New("catalog: view definition has no from-relations")
)

type RelationMeta struct {
	Name      string        `json:"name"`
	Schema    record.Schema `json:"schema"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type ViewMeta struct {
	Name      string    `json:"name"`
	Def       ViewDef   `json:"def"`
	CreatedAt time.Time `json:"created_at"`
}

type Catalog struct {
	mu  sync.RWMutex
	lc  *locking.Checker
	log *zap.SugaredLogger

	relations map[string]*RelationMeta
	views     map[string]*ViewMeta

	// version counts DDL operations; cached view schemas re-resolve when
	// their recorded version is stale.
	version atomic.Uint64
}

func New(log *zap.SugaredLogger, lc *locking.Checker) *Catalog {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Catalog{
		lc:        lc,
		log:       log,
		relations: make(map[string]*RelationMeta),
		views:     make(map[string]*ViewMeta),
	}
}

// Version returns the current DDL version counter.
func (c *Catalog) Version() uint64 { return c.version.Load() }

// ReadLock takes the catalog reader lock. The fixed engine-wide order is
// catalog before view; callers must not already hold a view lock.
func (c *Catalog) ReadLock() {
	c.mu.RLock()
	c.lc.Acquired(locking.RankCatalog)
}

func (c *Catalog) ReadUnlock() {
	c.lc.Released(locking.RankCatalog)
	c.mu.RUnlock()
}

// CreateRelation registers a base relation.
func (c *Catalog) CreateRelation(name string, schema record.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.relations[name]; ok {
		return ErrRelationExists
	}
	now := time.Now()
	c.relations[name] = &RelationMeta{Name: name, Schema: schema, CreatedAt: now, UpdatedAt: now}
	c.version.Add(1)
	c.log.Infow("relation created", "relation", name, "cols", schema.NumCols())
	return nil
}

// AlterRelation replaces a base relation's schema. Views referencing it pick
// the change up lazily via the version counter.
func (c *Catalog) AlterRelation(name string, schema record.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta, ok := c.relations[name]
	if !ok {
		return ErrRelationNotFound
	}
	meta.Schema = schema
	meta.UpdatedAt = time.Now()
	c.version.Add(1)
	c.log.Infow("relation altered", "relation", name, "cols", schema.NumCols())
	return nil
}

func (c *Catalog) DropRelation(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.relations[name]; !ok {
		return ErrRelationNotFound
	}
	delete(c.relations, name)
	c.version.Add(1)
	c.log.Infow("relation dropped", "relation", name)
	return nil
}

// DefineView stores a view's defining query.
func (c *Catalog) DefineView(def ViewDef) error {
	if len(def.From) == 0 {
		return ErrEmptyFrom
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.views[def.Name]; ok {
		return ErrViewExists
	}
	c.views[def.Name] = &ViewMeta{Name: def.Name, Def: def, CreatedAt: time.Now()}
	c.version.Add(1)
	c.log.Infow("view defined", "view", def.Name, "from", def.From)
	return nil
}

func (c *Catalog) DropView(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.views[name]; !ok {
		return ErrViewNotFound
	}
	delete(c.views, name)
	c.version.Add(1)
	c.log.Infow("view dropped", "view", name)
	return nil
}

// SchemaOf looks up a base relation schema.
func (c *Catalog) SchemaOf(name string) (record.Schema, bool) {
	c.ReadLock()
	defer c.ReadUnlock()
	return c.schemaOfLocked(name)
}

// SchemaOfLocked is SchemaOf for callers already holding the reader lock.
func (c *Catalog) SchemaOfLocked(name string) (record.Schema, bool) {
	return c.schemaOfLocked(name)
}

// schemaOfLocked requires the caller to hold the reader lock.
func (c *Catalog) schemaOfLocked(name string) (record.Schema, bool) {
	meta, ok := c.relations[name]
	if !ok {
		return record.Schema{}, false
	}
	return meta.Schema, true
}

// ViewDefOf looks up a view's defining query.
func (c *Catalog) ViewDefOf(name string) (ViewDef, bool) {
	c.ReadLock()
	defer c.ReadUnlock()
	meta, ok := c.views[name]
	if !ok {
		return ViewDef{}, false
	}
	return meta.Def, true
}

// Relations returns the base relation names, unordered.
func (c *Catalog) Relations() []string {
	c.ReadLock()
	defer c.ReadUnlock()
	out := make([]string, 0, len(c.relations))
	for name := range c.relations {
		out = append(out, name)
	}
	return out
}
