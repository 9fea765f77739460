// Package position derives read-only views over the lot ledger: position
// summaries with optional mark-to-market PnL, and tax-lot classification by
// holding duration. It holds no state of its own; current prices always come
// from the caller (the price oracle is an external collaborator).
package position

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/simtrade/ledger-engine/internal/asset"
	"github.com/simtrade/ledger-engine/internal/model"
	"github.com/simtrade/ledger-engine/internal/store"
)

// ErrNoPosition is returned when (owner, asset) has no open lots. Callers
// get an explicit sentinel, never a zero-valued summary.
var ErrNoPosition = errors.New("position: no open position")

var hundred = decimal.NewFromInt(100)

// Calculator computes cost-basis aggregates from open lots.
type Calculator struct {
	store store.Store
}

// NewCalculator creates a calculator reading from the given store.
func NewCalculator(st store.Store) *Calculator {
	return &Calculator{store: st}
}

// ComputePosition aggregates all open lots for (owner, asset). currentPrice
// is optional: when non-nil the summary includes unrealized PnL, and the PnL
// percent when the cost basis is non-zero (percent is undefined on a
// zero-cost position).
func (c *Calculator) ComputePosition(ctx context.Context, owner, assetID string, currentPrice *decimal.Decimal) (*model.PositionSummary, error) {
	if err := asset.ValidateOwner(owner); err != nil {
		return nil, err
	}
	if err := asset.ValidateSymbol(assetID); err != nil {
		return nil, err
	}

	lots, err := c.store.GetOpenLots(ctx, owner, assetID)
	if err != nil {
		return nil, err
	}

	return summarize(owner, assetID, lots, currentPrice)
}

// ComputeAllPositions returns one summary per asset with any open lot.
// priceMap supplies current prices by asset; assets without a price entry
// get a summary without mark-to-market fields.
func (c *Calculator) ComputeAllPositions(ctx context.Context, owner string, priceMap map[string]decimal.Decimal) ([]model.PositionSummary, error) {
	if err := asset.ValidateOwner(owner); err != nil {
		return nil, err
	}

	assets, err := c.store.OpenAssets(ctx, owner)
	if err != nil {
		return nil, err
	}

	summaries := make([]model.PositionSummary, 0, len(assets))
	for _, a := range assets {
		lots, err := c.store.GetOpenLots(ctx, owner, a)
		if err != nil {
			return nil, err
		}

		var price *decimal.Decimal
		if p, ok := priceMap[a]; ok {
			price = &p
		}

		summary, err := summarize(owner, a, lots, price)
		if err != nil {
			// A concurrent sell can drain the last lot between OpenAssets
			// and GetOpenLots; skip rather than fail the whole portfolio.
			if errors.Is(err, ErrNoPosition) {
				continue
			}
			return nil, err
		}
		summaries = append(summaries, *summary)
	}
	return summaries, nil
}

func summarize(owner, assetID string, lots []model.Lot, currentPrice *decimal.Decimal) (*model.PositionSummary, error) {
	totalQty := decimal.Zero
	totalCost := decimal.Zero
	for _, lot := range lots {
		totalQty = totalQty.Add(lot.Remaining)
		totalCost = totalCost.Add(lot.Remaining.Mul(lot.UnitPrice))
	}

	if !totalQty.IsPositive() {
		return nil, ErrNoPosition
	}

	summary := &model.PositionSummary{
		Owner:          owner,
		Asset:          assetID,
		TotalQuantity:  totalQty,
		TotalCostBasis: totalCost,
		AvgPrice:       totalCost.Div(totalQty),
	}

	if currentPrice != nil {
		price := *currentPrice
		pnl := totalQty.Mul(price).Sub(totalCost)
		summary.CurrentPrice = &price
		summary.UnrealizedPnL = &pnl
		if totalCost.IsPositive() {
			pct := pnl.Div(totalCost).Mul(hundred)
			summary.UnrealizedPnLPct = &pct
		}
	}
	return summary, nil
}
