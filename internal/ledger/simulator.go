package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInsufficientLots is returned by SimulateSale when the position has no
// open lots. Simulation is advisory and must signal infeasibility loudly;
// RecordSell never returns this error because a real sell must be recorded
// for audit continuity even with incomplete history.
var ErrInsufficientLots = errors.New("ledger: no open lots for position")

// TouchedLot describes one lot a simulated sale would consume from.
type TouchedLot struct {
	LotID      string          `json:"lot_id"`
	Quantity   decimal.Decimal `json:"quantity"`   // contributed quantity
	UnitPrice  decimal.Decimal `json:"unit_price"` // lot acquisition price
	AcquiredAt time.Time       `json:"acquired_at"`
	AgeDays    int             `json:"age_days"`
}

// SimulationResult is the dry-run outcome of a hypothetical sale.
type SimulationResult struct {
	Owner             string          `json:"owner"`
	Asset             string          `json:"asset"`
	QuantityRequested decimal.Decimal `json:"quantity_requested"`
	QuantitySold      decimal.Decimal `json:"quantity_sold"` // min(requested, available)
	Revenue           decimal.Decimal `json:"revenue"`
	CostBasisConsumed decimal.Decimal `json:"cost_basis_consumed"`
	RealizedPnL       decimal.Decimal `json:"realized_pnl"`
	// RealizedPnLPct is nil when the consumed cost basis is zero.
	RealizedPnLPct *decimal.Decimal `json:"realized_pnl_pct,omitempty"`
	TouchedLots    []TouchedLot     `json:"touched_lots"`
}

// SimulateSale performs the identical FIFO walk as RecordSell without
// mutating storage. RecordSell with the same parameters immediately after
// yields the same realized PnL and consumed-lot breakdown.
func (l *Ledger) SimulateSale(ctx context.Context, owner, assetID string, quantity, hypotheticalPrice decimal.Decimal) (*SimulationResult, error) {
	if err := validateTrade(owner, assetID, quantity, hypotheticalPrice, decimal.Zero); err != nil {
		return nil, err
	}

	lots, err := l.store.GetOpenLots(ctx, owner, assetID)
	if err != nil {
		return nil, err
	}
	if len(lots) == 0 {
		return nil, ErrInsufficientLots
	}

	walk := walkFIFO(lots, quantity, hypotheticalPrice, decimal.Zero)

	now := time.Now().UTC()
	touched := make([]TouchedLot, 0, len(walk.fragments))
	for i, frag := range walk.fragments {
		touched = append(touched, TouchedLot{
			LotID:      frag.LotID,
			Quantity:   frag.Quantity,
			UnitPrice:  lots[i].UnitPrice,
			AcquiredAt: frag.AcquiredAt,
			AgeDays:    int(now.Sub(frag.AcquiredAt).Hours() / 24),
		})
	}

	result := &SimulationResult{
		Owner:             owner,
		Asset:             assetID,
		QuantityRequested: quantity,
		QuantitySold:      walk.quantitySold,
		Revenue:           walk.quantitySold.Mul(hypotheticalPrice),
		CostBasisConsumed: walk.costConsumed,
		RealizedPnL:       walk.realized,
		TouchedLots:       touched,
	}
	if walk.costConsumed.IsPositive() {
		pct := walk.realized.Div(walk.costConsumed).Mul(decimal.NewFromInt(100))
		result.RealizedPnLPct = &pct
	}
	return result, nil
}
