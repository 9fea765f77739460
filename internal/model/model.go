// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade. It is a closed type: every switch over
// a Side must handle exactly SideBuy and SideSell.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ErrInvalidSide is returned when a trade side is neither BUY nor SELL.
var ErrInvalidSide = errors.New("model: side must be BUY or SELL")

// Validate returns ErrInvalidSide unless s is SideBuy or SideSell.
func (s Side) Validate() error {
	switch s {
	case SideBuy, SideSell:
		return nil
	}
	return ErrInvalidSide
}

// Lot is an open slice of a purchased position. Lots are append-only:
// a fully consumed lot (Remaining = 0) is kept for audit and tax history,
// never deleted. Invariant: 0 <= Remaining <= Quantity.
type Lot struct {
	ID         string          `json:"id" db:"id"`
	Owner      string          `json:"owner" db:"owner"`
	Asset      string          `json:"asset" db:"asset"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	Remaining  decimal.Decimal `json:"remaining" db:"remaining"`
	UnitPrice  decimal.Decimal `json:"unit_price" db:"unit_price"`
	CostBasis  decimal.Decimal `json:"cost_basis" db:"cost_basis"` // quantity × unit price; fees tracked separately
	Fees       decimal.Decimal `json:"fees" db:"fees"`
	AcquiredAt time.Time       `json:"acquired_at" db:"acquired_at"`

	// Seq is the store-assigned insertion sequence. FIFO consumption orders
	// lots by AcquiredAt ascending with Seq breaking timestamp ties, so two
	// runs over the same lots always consume in the same order.
	Seq int64 `json:"seq" db:"seq"`
}

// SaleTransaction is the immutable record of a sell execution.
type SaleTransaction struct {
	ID       string          `json:"id" db:"id"`
	Owner    string          `json:"owner" db:"owner"`
	Asset    string          `json:"asset" db:"asset"`
	Quantity decimal.Decimal `json:"quantity" db:"quantity"` // requested sell quantity
	// QuantitySold is the portion actually matched against open lots.
	// QuantitySold < Quantity flags an oversell.
	QuantitySold decimal.Decimal `json:"quantity_sold" db:"quantity_sold"`
	UnitPrice    decimal.Decimal `json:"unit_price" db:"unit_price"`
	Proceeds     decimal.Decimal `json:"proceeds" db:"proceeds"`
	Fees         decimal.Decimal `json:"fees" db:"fees"`
	// RealizedPnL is nil when no cost-basis history existed to compute it
	// (e.g. a migrated position sold before any recorded buy).
	RealizedPnL *decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	// Shortfall is the unsatisfied sell quantity after all open lots were
	// exhausted. Zero for a fully matched sell.
	Shortfall  decimal.Decimal `json:"shortfall" db:"shortfall"`
	ExecutedAt time.Time       `json:"executed_at" db:"executed_at"`
}

// LotFragment records the consumption of part (or all) of one lot by a sell.
type LotFragment struct {
	LotID      string          `json:"lot_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	CostBasis  decimal.Decimal `json:"cost_basis"` // quantity × lot unit price
	Fee        decimal.Decimal `json:"fee"`        // sell fee apportioned to this fragment
	PnL        decimal.Decimal `json:"pnl"`
	AcquiredAt time.Time       `json:"acquired_at"`
}

// PositionSummary is a derived (never persisted) aggregate of all open lots
// for one (owner, asset) pair.
type PositionSummary struct {
	Owner          string          `json:"owner"`
	Asset          string          `json:"asset"`
	TotalQuantity  decimal.Decimal `json:"total_quantity"`
	TotalCostBasis decimal.Decimal `json:"total_cost_basis"`
	AvgPrice       decimal.Decimal `json:"avg_price"`
	// Mark-to-market fields, set only when a current price was supplied.
	CurrentPrice  *decimal.Decimal `json:"current_price,omitempty"`
	UnrealizedPnL *decimal.Decimal `json:"unrealized_pnl,omitempty"`
	// UnrealizedPnLPct is nil when cost basis is zero (percent undefined).
	UnrealizedPnLPct *decimal.Decimal `json:"unrealized_pnl_pct,omitempty"`
}

// RealizedPnLSummary aggregates statistics over closed sales with a known
// realized PnL. Breakeven trades count toward neither wins nor losses.
type RealizedPnLSummary struct {
	Owner            string          `json:"owner"`
	Asset            string          `json:"asset,omitempty"` // empty = all assets
	TotalRealizedPnL decimal.Decimal `json:"total_realized_pnl"`
	WinCount         int             `json:"win_count"`
	LossCount        int             `json:"loss_count"`
	AvgWin           decimal.Decimal `json:"avg_win"`
	AvgLoss          decimal.Decimal `json:"avg_loss"` // absolute value
	WinRate          decimal.Decimal `json:"win_rate"` // percent of decided trades
}

// TaxLot is one open lot classified by holding duration.
type TaxLot struct {
	Lot      Lot  `json:"lot"`
	LongTerm bool `json:"long_term"`
	HeldDays int  `json:"held_days"`
}

// TaxLotReport partitions open lots into short-term and long-term buckets.
type TaxLotReport struct {
	Owner              string          `json:"owner"`
	Asset              string          `json:"asset,omitempty"`
	Year               int             `json:"year,omitempty"` // 0 = all acquisition years
	ShortTerm          []TaxLot        `json:"short_term"`
	LongTerm           []TaxLot        `json:"long_term"`
	ShortTermCostBasis decimal.Decimal `json:"short_term_cost_basis"`
	LongTermCostBasis  decimal.Decimal `json:"long_term_cost_basis"`
}
