package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/simtrade/ledger-engine/internal/asset"
	"github.com/simtrade/ledger-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// ComputeRealizedPnL summarizes win/loss statistics over recorded sales.
// Sales without a realized PnL (orphan sells with no cost history) are
// skipped. assetID == "" aggregates across all assets. Breakeven trades
// count toward neither wins nor losses, so the win rate is over decided
// trades only.
func (l *Ledger) ComputeRealizedPnL(ctx context.Context, owner, assetID string) (*model.RealizedPnLSummary, error) {
	if err := asset.ValidateOwner(owner); err != nil {
		return nil, err
	}
	if assetID != "" {
		if err := asset.ValidateSymbol(assetID); err != nil {
			return nil, err
		}
	}

	sales, err := l.store.GetSales(ctx, owner, assetID)
	if err != nil {
		return nil, err
	}

	summary := &model.RealizedPnLSummary{
		Owner:            owner,
		Asset:            assetID,
		TotalRealizedPnL: decimal.Zero,
		AvgWin:           decimal.Zero,
		AvgLoss:          decimal.Zero,
		WinRate:          decimal.Zero,
	}

	winSum := decimal.Zero
	lossSum := decimal.Zero // sum of |losses|

	for _, sale := range sales {
		if sale.RealizedPnL == nil {
			continue
		}
		pnl := *sale.RealizedPnL
		summary.TotalRealizedPnL = summary.TotalRealizedPnL.Add(pnl)

		switch {
		case pnl.IsPositive():
			summary.WinCount++
			winSum = winSum.Add(pnl)
		case pnl.IsNegative():
			summary.LossCount++
			lossSum = lossSum.Add(pnl.Abs())
		}
	}

	if summary.WinCount > 0 {
		summary.AvgWin = winSum.Div(decimal.NewFromInt(int64(summary.WinCount)))
	}
	if summary.LossCount > 0 {
		summary.AvgLoss = lossSum.Div(decimal.NewFromInt(int64(summary.LossCount)))
	}
	if decided := summary.WinCount + summary.LossCount; decided > 0 {
		summary.WinRate = decimal.NewFromInt(int64(summary.WinCount)).
			Div(decimal.NewFromInt(int64(decided))).
			Mul(hundred)
	}

	return summary, nil
}
