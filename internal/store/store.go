// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/simtrade/ledger-engine/internal/model"
)

// ErrLotNotFound is returned when a lot update targets an unknown lot ID.
var ErrLotNotFound = errors.New("store: lot not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// The store does not serialize the ledger's read-modify-write sell sequence;
// that is the ledger's job (per-key locking). The store only guarantees that
// each individual operation is atomic and that GetOpenLots returns lots in
// deterministic FIFO order: acquired_at ascending, insertion seq breaking ties.
type Store interface {
	// --- Lots ---

	// CreateLot persists a new lot and assigns its insertion sequence.
	// The assigned Seq is written back to lot.
	CreateLot(ctx context.Context, lot *model.Lot) error

	// GetOpenLots returns all lots for (owner, asset) with remaining > 0,
	// in FIFO order.
	GetOpenLots(ctx context.Context, owner, asset string) ([]model.Lot, error)

	// GetLots returns all lots for (owner, asset) including fully consumed
	// ones, in FIFO order. Used for audit history.
	GetLots(ctx context.Context, owner, asset string) ([]model.Lot, error)

	// GetOpenLotsByOwner returns every open lot for the owner across all
	// assets, in FIFO order per asset.
	GetOpenLotsByOwner(ctx context.Context, owner string) ([]model.Lot, error)

	// UpdateLotRemaining sets the remaining quantity of a lot.
	UpdateLotRemaining(ctx context.Context, lotID string, remaining decimal.Decimal) error

	// --- Sales ---

	// InsertSale appends an immutable sale transaction.
	InsertSale(ctx context.Context, sale *model.SaleTransaction) error

	// GetSales returns all sales for the owner, newest last. asset == ""
	// means all assets.
	GetSales(ctx context.Context, owner, asset string) ([]model.SaleTransaction, error)

	// --- Derived queries ---

	// OpenAssets returns the distinct assets for which the owner holds any
	// lot with remaining > 0.
	OpenAssets(ctx context.Context, owner string) ([]string, error)
}
