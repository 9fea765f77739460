// Package intpnl recomputes realized and unrealized PnL from a full fill
// history using arbitrary-precision integer arithmetic over base units (the
// smallest indivisible unit of the asset and of the settlement currency).
// It never touches floating point and never rounds mid-computation, so the
// result carries no drift regardless of how many fills it processes.
//
// The engine is self-contained: it reads nothing from the ledger's persisted
// state. Callers hand it fills, a mark price, and a current exchange rate.
package intpnl

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/simtrade/ledger-engine/internal/model"
)

var (
	// ErrNilAmount is returned when a fill carries a nil quantity, price,
	// or fee.
	ErrNilAmount = errors.New("intpnl: fill amount must not be nil")

	// ErrNonPositiveQuantity is returned when a fill quantity is zero or
	// negative.
	ErrNonPositiveQuantity = errors.New("intpnl: fill quantity must be positive")

	// ErrNegativeAmount is returned when a fill price or fee is negative.
	ErrNegativeAmount = errors.New("intpnl: fill price and fee must not be negative")
)

// Fill is one execution in base units. Price is settlement base units per
// asset base unit; cost of a buy is quantity × price + fee.
type Fill struct {
	ID       string          `json:"id"`
	Side     model.Side      `json:"side"`
	Quantity *big.Int        `json:"quantity"`
	Price    *big.Int        `json:"price"`
	Fee      *big.Int        `json:"fee"`
	Time     time.Time       `json:"time"`
	// ExchangeRate is the secondary-currency rate in effect at this fill.
	// For sells it freezes the rate used to report the realized gain.
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
}

// OpenLot is one still-open slice of inventory after processing all fills.
type OpenLot struct {
	FillID       string          `json:"fill_id"`
	Quantity     *big.Int        `json:"quantity"`
	Cost         *big.Int        `json:"cost"` // includes the apportioned buy fee
	AcquiredAt   time.Time       `json:"acquired_at"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"` // rate at acquisition
}

// Result is the full recomputation output.
type Result struct {
	RealizedPnL            *big.Int        `json:"realized_pnl"`
	RealizedPnLSecondary   decimal.Decimal `json:"realized_pnl_secondary"`
	UnrealizedPnL          *big.Int        `json:"unrealized_pnl"`
	UnrealizedPnLSecondary decimal.Decimal `json:"unrealized_pnl_secondary"`
	OpenQuantity           *big.Int        `json:"open_quantity"`
	TotalCostBasis         *big.Int        `json:"total_cost_basis"`
	// AvgCost is TotalCostBasis / OpenQuantity truncated to base units,
	// zero when nothing is open.
	AvgCost *big.Int `json:"avg_cost"`
	// UnmatchedSellQuantity is sell quantity that found no open lot to
	// consume (short position / history gap). Non-fatal by design.
	UnmatchedSellQuantity *big.Int  `json:"unmatched_sell_quantity"`
	OpenLots              []OpenLot `json:"open_lots"`
}

// Compute processes fills in timestamp order (stable: ties keep input order),
// enqueuing buys as open lots and consuming lots front-first on sells.
// Partial consumption apportions lot cost by the consumed fraction using the
// residual method — the consumed cost is subtracted from the lot, so the sum
// of all fragments plus the residual always equals the original cost exactly.
//
// markPrice values the remaining open lots; currentRate converts the
// unrealized PnL to the secondary currency at present conditions (realized
// PnL instead uses each sell's own rate, frozen at sale time).
func Compute(fills []Fill, markPrice *big.Int, currentRate decimal.Decimal) (*Result, error) {
	if markPrice == nil || markPrice.Sign() < 0 {
		return nil, fmt.Errorf("intpnl: invalid mark price")
	}
	for i, f := range fills {
		if err := f.Side.Validate(); err != nil {
			return nil, fmt.Errorf("fill %d (%s): %w", i, f.ID, err)
		}
		if f.Quantity == nil || f.Price == nil || f.Fee == nil {
			return nil, fmt.Errorf("fill %d (%s): %w", i, f.ID, ErrNilAmount)
		}
		if f.Quantity.Sign() <= 0 {
			return nil, fmt.Errorf("fill %d (%s): %w", i, f.ID, ErrNonPositiveQuantity)
		}
		if f.Price.Sign() < 0 || f.Fee.Sign() < 0 {
			return nil, fmt.Errorf("fill %d (%s): %w", i, f.ID, ErrNegativeAmount)
		}
	}

	ordered := make([]Fill, len(fills))
	copy(ordered, fills)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Time.Before(ordered[j].Time)
	})

	var queue []OpenLot
	realized := new(big.Int)
	realizedSecondary := decimal.Zero
	unmatched := new(big.Int)

	for _, f := range ordered {
		switch f.Side {
		case model.SideBuy:
			cost := new(big.Int).Mul(f.Quantity, f.Price)
			cost.Add(cost, f.Fee)
			queue = append(queue, OpenLot{
				FillID:       f.ID,
				Quantity:     new(big.Int).Set(f.Quantity),
				Cost:         cost,
				AcquiredAt:   f.Time,
				ExchangeRate: f.ExchangeRate,
			})

		case model.SideSell:
			fillRealized := sellFIFO(&queue, f, unmatched)
			realized.Add(realized, fillRealized)
			realizedSecondary = realizedSecondary.Add(
				decimal.NewFromBigInt(fillRealized, 0).Mul(f.ExchangeRate))
		}
	}

	result := &Result{
		RealizedPnL:           realized,
		RealizedPnLSecondary:  realizedSecondary,
		UnrealizedPnL:         new(big.Int),
		OpenQuantity:          new(big.Int),
		TotalCostBasis:        new(big.Int),
		AvgCost:               new(big.Int),
		UnmatchedSellQuantity: unmatched,
		OpenLots:              queue,
	}

	for _, lot := range queue {
		value := new(big.Int).Mul(lot.Quantity, markPrice)
		result.UnrealizedPnL.Add(result.UnrealizedPnL, value.Sub(value, lot.Cost))
		result.OpenQuantity.Add(result.OpenQuantity, lot.Quantity)
		result.TotalCostBasis.Add(result.TotalCostBasis, lot.Cost)
	}
	if result.OpenQuantity.Sign() > 0 {
		result.AvgCost.Quo(result.TotalCostBasis, result.OpenQuantity)
	}
	result.UnrealizedPnLSecondary = decimal.NewFromBigInt(result.UnrealizedPnL, 0).Mul(currentRate)

	return result, nil
}

// sellFIFO consumes open lots from the front of the queue for one sell fill
// and returns the realized PnL of that fill. The sell fee is apportioned
// across consumed fragments by the residual method; quantity that finds no
// lot is added to unmatched instead of aborting.
func sellFIFO(queue *[]OpenLot, f Fill, unmatched *big.Int) *big.Int {
	realized := new(big.Int)
	remainingQty := new(big.Int).Set(f.Quantity)
	remainingFee := new(big.Int).Set(f.Fee)

	for remainingQty.Sign() > 0 && len(*queue) > 0 {
		lot := &(*queue)[0]

		consumed := new(big.Int).Set(lot.Quantity)
		if consumed.Cmp(remainingQty) > 0 {
			consumed.Set(remainingQty)
		}

		// Residual apportionment: consumedCost = lot.Cost × consumed / lot.Quantity,
		// then both shrink together so truncation remainders stay in the lot.
		consumedCost := new(big.Int).Mul(lot.Cost, consumed)
		consumedCost.Quo(consumedCost, lot.Quantity)
		lot.Cost.Sub(lot.Cost, consumedCost)
		lot.Quantity.Sub(lot.Quantity, consumed)

		feePortion := new(big.Int).Mul(remainingFee, consumed)
		feePortion.Quo(feePortion, remainingQty)
		remainingFee.Sub(remainingFee, feePortion)

		proceeds := new(big.Int).Mul(consumed, f.Price)
		fragment := proceeds.Sub(proceeds, consumedCost)
		fragment.Sub(fragment, feePortion)
		realized.Add(realized, fragment)

		remainingQty.Sub(remainingQty, consumed)
		if lot.Quantity.Sign() == 0 {
			*queue = (*queue)[1:]
		}
	}

	unmatched.Add(unmatched, remainingQty)
	return realized
}
