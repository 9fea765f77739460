// Package ledger implements the append-only FIFO cost-basis ledger: recording
// buys as lots, consuming lots oldest-first on sells, and computing realized
// PnL per consumed fragment.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simtrade/ledger-engine/internal/asset"
	"github.com/simtrade/ledger-engine/internal/model"
	"github.com/simtrade/ledger-engine/internal/store"
)

var (
	// ErrInvalidQuantity is returned when a trade quantity is zero or negative.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")

	// ErrInvalidPrice is returned when a unit price is negative.
	ErrInvalidPrice = errors.New("ledger: unit price must not be negative")

	// ErrInvalidFees is returned when fees are negative.
	ErrInvalidFees = errors.New("ledger: fees must not be negative")
)

// Ledger owns all lot mutation. Sells are a read-modify-write sequence
// (read open lots, decrement remaining, insert sale), so the ledger
// serializes RecordBuy/RecordSell per (owner, asset) key. Read-only
// derivations run concurrently against the store without taking the key lock.
type Ledger struct {
	store store.Store

	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

// New creates a ledger backed by the given store.
func New(st store.Store) *Ledger {
	return &Ledger{
		store: st,
		keys:  make(map[string]*sync.Mutex),
	}
}

// Store exposes the underlying store for read-only collaborators.
func (l *Ledger) Store() store.Store {
	return l.store
}

// lockKey acquires the per-(owner, asset) mutex and returns its unlock func.
// Key mutexes are created on first use and retained; the set of traded
// (owner, asset) pairs is expected to stay small per instance.
func (l *Ledger) lockKey(owner, assetID string) func() {
	key := owner + "\x00" + assetID
	l.mu.Lock()
	km, ok := l.keys[key]
	if !ok {
		km = &sync.Mutex{}
		l.keys[key] = km
	}
	l.mu.Unlock()

	km.Lock()
	return km.Unlock
}

func validateTrade(owner, assetID string, quantity, unitPrice, fees decimal.Decimal) error {
	if err := asset.ValidateOwner(owner); err != nil {
		return err
	}
	if err := asset.ValidateSymbol(assetID); err != nil {
		return err
	}
	if !quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if unitPrice.IsNegative() {
		return ErrInvalidPrice
	}
	if fees.IsNegative() {
		return ErrInvalidFees
	}
	return nil
}

// RecordBuy creates a new lot with remaining = quantity. Buy-side fees are
// recorded on the lot but excluded from its cost basis; cost basis is always
// quantity × unit price.
func (l *Ledger) RecordBuy(ctx context.Context, owner, assetID string, quantity, unitPrice, fees decimal.Decimal, at time.Time) (*model.Lot, error) {
	if err := validateTrade(owner, assetID, quantity, unitPrice, fees); err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	unlock := l.lockKey(owner, assetID)
	defer unlock()

	lot := &model.Lot{
		ID:         uuid.New().String(),
		Owner:      owner,
		Asset:      assetID,
		Quantity:   quantity,
		Remaining:  quantity,
		UnitPrice:  unitPrice,
		CostBasis:  quantity.Mul(unitPrice),
		Fees:       fees,
		AcquiredAt: at,
	}

	if err := l.store.CreateLot(ctx, lot); err != nil {
		return nil, err
	}

	slog.Info("buy recorded",
		"lot_id", lot.ID,
		"owner", owner,
		"asset", assetID,
		"qty", quantity.String(),
		"unit_price", unitPrice.String(),
	)
	return lot, nil
}

// SellResult is the outcome of RecordSell: the persisted sale transaction
// and the lot fragments it consumed, oldest first.
type SellResult struct {
	Sale      model.SaleTransaction `json:"sale"`
	Fragments []model.LotFragment   `json:"fragments"`
}

// RecordSell consumes open lots FIFO and records the sale. The ledger is
// deliberately permissive about incomplete cost history: selling more than
// the open quantity (or with no lots at all) still records the transaction.
// With zero lots consumed the realized PnL is nil; a partial match records
// the partial PnL and flags the unmatched remainder as Shortfall.
func (l *Ledger) RecordSell(ctx context.Context, owner, assetID string, quantity, unitPrice, fees decimal.Decimal, at time.Time) (*SellResult, error) {
	if err := validateTrade(owner, assetID, quantity, unitPrice, fees); err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	unlock := l.lockKey(owner, assetID)
	defer unlock()

	lots, err := l.store.GetOpenLots(ctx, owner, assetID)
	if err != nil {
		return nil, err
	}

	walk := walkFIFO(lots, quantity, unitPrice, fees)

	// Persist lot decrements before the sale so a crash between the two
	// leaves remaining quantities conservative, never double-countable.
	for _, u := range walk.updates {
		if err := l.store.UpdateLotRemaining(ctx, u.lotID, u.remaining); err != nil {
			return nil, err
		}
	}

	sale := model.SaleTransaction{
		ID:           uuid.New().String(),
		Owner:        owner,
		Asset:        assetID,
		Quantity:     quantity,
		QuantitySold: walk.quantitySold,
		UnitPrice:    unitPrice,
		Proceeds:     quantity.Mul(unitPrice),
		Fees:         fees,
		Shortfall:    walk.shortfall,
		ExecutedAt:   at,
	}
	if walk.quantitySold.IsPositive() {
		realized := walk.realized
		sale.RealizedPnL = &realized
	}

	if err := l.store.InsertSale(ctx, &sale); err != nil {
		return nil, err
	}

	logArgs := []any{
		"sale_id", sale.ID,
		"owner", owner,
		"asset", assetID,
		"qty", quantity.String(),
		"qty_sold", walk.quantitySold.String(),
		"lots_touched", len(walk.fragments),
	}
	if sale.RealizedPnL != nil {
		logArgs = append(logArgs, "realized_pnl", sale.RealizedPnL.String())
	}
	if walk.shortfall.IsPositive() {
		logArgs = append(logArgs, "shortfall", walk.shortfall.String())
		slog.Warn("sell recorded with shortfall", logArgs...)
	} else {
		slog.Info("sell recorded", logArgs...)
	}

	return &SellResult{Sale: sale, Fragments: walk.fragments}, nil
}

// lotUpdate is a pending remaining-quantity decrement for one lot.
type lotUpdate struct {
	lotID     string
	remaining decimal.Decimal
}

// walkResult carries everything a FIFO walk produces. RecordSell persists
// the updates; SimulateSale discards them.
type walkResult struct {
	fragments    []model.LotFragment
	updates      []lotUpdate
	quantitySold decimal.Decimal
	shortfall    decimal.Decimal
	costConsumed decimal.Decimal
	realized     decimal.Decimal
}

// walkFIFO consumes min(lot.Remaining, outstanding) from each open lot in
// order. For each fragment: cost consumed = fragment × lot unit price, the
// sell fee is apportioned by fragment / total requested quantity, and
// fragment PnL = fragment × sell price − cost − apportioned fee.
//
// lots must already be in FIFO order (acquired_at asc, seq breaking ties);
// the store guarantees that ordering.
func walkFIFO(lots []model.Lot, quantity, unitPrice, fees decimal.Decimal) walkResult {
	res := walkResult{
		quantitySold: decimal.Zero,
		shortfall:    decimal.Zero,
		costConsumed: decimal.Zero,
		realized:     decimal.Zero,
	}

	outstanding := quantity
	for _, lot := range lots {
		if !outstanding.IsPositive() {
			break
		}

		consumed := decimal.Min(lot.Remaining, outstanding)
		cost := consumed.Mul(lot.UnitPrice)
		fee := fees.Mul(consumed).Div(quantity)
		pnl := consumed.Mul(unitPrice).Sub(cost).Sub(fee)

		res.fragments = append(res.fragments, model.LotFragment{
			LotID:      lot.ID,
			Quantity:   consumed,
			CostBasis:  cost,
			Fee:        fee,
			PnL:        pnl,
			AcquiredAt: lot.AcquiredAt,
		})
		res.updates = append(res.updates, lotUpdate{
			lotID:     lot.ID,
			remaining: lot.Remaining.Sub(consumed),
		})

		res.quantitySold = res.quantitySold.Add(consumed)
		res.costConsumed = res.costConsumed.Add(cost)
		res.realized = res.realized.Add(pnl)
		outstanding = outstanding.Sub(consumed)
	}

	res.shortfall = outstanding
	return res
}
