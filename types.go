// Package novaview is the top-level facade for the NovaView incremental
// materialized-view engine.
package novaview

import (
	"github.com/tuannm99/novaview/internal"
	"github.com/tuannm99/novaview/internal/catalog"
	"github.com/tuannm99/novaview/internal/delta"
	"github.com/tuannm99/novaview/internal/engine"
	"github.com/tuannm99/novaview/internal/record"

	"go.uber.org/zap"
)

type (
	Engine = engine.Engine
	Txn    = engine.Txn

	Handler             = engine.Handler
	SubscriptionID      = engine.SubscriptionID
	ChangeRecord        = engine.ChangeRecord
	RelationChangeEvent = engine.RelationChangeEvent

	Row        = record.Row
	Column     = record.Column
	ColumnType = record.ColumnType
	Schema     = record.Schema

	ViewDef    = catalog.ViewDef
	SelectItem = catalog.SelectItem
	FilterDef  = catalog.FilterDef

	ChangeKind = delta.Kind
)

const (
	ColInt32   = record.ColInt32
	ColInt64   = record.ColInt64
	ColBool    = record.ColBool
	ColFloat64 = record.ColFloat64
	ColText    = record.ColText
	ColBytes   = record.ColBytes

	AggNone  = catalog.AggNone
	AggCount = catalog.AggCount
	AggSum   = catalog.AggSum
	AggMin   = catalog.AggMin
	AggMax   = catalog.AggMax
	AggAvg   = catalog.AggAvg

	CmpEq = catalog.CmpEq
	CmpNe = catalog.CmpNe
	CmpLt = catalog.CmpLt
	CmpLe = catalog.CmpLe
	CmpGt = catalog.CmpGt
	CmpGe = catalog.CmpGe

	ChangeInsert = delta.KindInsert
	ChangeUpdate = delta.KindUpdate
	ChangeDelete = delta.KindDelete
)

// New builds an engine with the given options.
func New(opts ...engine.Option) *Engine { return engine.New(opts...) }

// Open builds an engine from a yaml config file.
func Open(cfgPath string) (*Engine, error) {
	cfg, err := internal.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	var opts []engine.Option
	if cfg.Engine.Debug {
		log, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithLogger(log.Sugar()), engine.WithLockChecking())
	}
	return engine.New(opts...), nil
}
