package position

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/simtrade/ledger-engine/internal/asset"
	"github.com/simtrade/ledger-engine/internal/model"
)

// longTermThresholdDays is the holding duration above which a lot is
// classified long-term. Held exactly 365 days is still short-term.
const longTermThresholdDays = 365

// TaxLots classifies every open lot by holding duration measured from asOf
// (elapsed time, not a filing-year boundary). assetID == "" includes all
// assets; year > 0 restricts to lots acquired in that calendar year (UTC).
func (c *Calculator) TaxLots(ctx context.Context, owner, assetID string, year int, asOf time.Time) (*model.TaxLotReport, error) {
	if err := asset.ValidateOwner(owner); err != nil {
		return nil, err
	}
	if assetID != "" {
		if err := asset.ValidateSymbol(assetID); err != nil {
			return nil, err
		}
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	var lots []model.Lot
	var err error
	if assetID != "" {
		lots, err = c.store.GetOpenLots(ctx, owner, assetID)
	} else {
		lots, err = c.store.GetOpenLotsByOwner(ctx, owner)
	}
	if err != nil {
		return nil, err
	}

	report := &model.TaxLotReport{
		Owner:              owner,
		Asset:              assetID,
		Year:               year,
		ShortTermCostBasis: decimal.Zero,
		LongTermCostBasis:  decimal.Zero,
	}

	for _, lot := range lots {
		if year > 0 && lot.AcquiredAt.UTC().Year() != year {
			continue
		}

		heldDays := int(asOf.Sub(lot.AcquiredAt).Hours() / 24)
		tl := model.TaxLot{
			Lot:      lot,
			LongTerm: heldDays > longTermThresholdDays,
			HeldDays: heldDays,
		}

		// Bucket cost basis is over the still-open portion of the lot.
		openCost := lot.Remaining.Mul(lot.UnitPrice)
		if tl.LongTerm {
			report.LongTerm = append(report.LongTerm, tl)
			report.LongTermCostBasis = report.LongTermCostBasis.Add(openCost)
		} else {
			report.ShortTerm = append(report.ShortTerm, tl)
			report.ShortTermCostBasis = report.ShortTermCostBasis.Add(openCost)
		}
	}

	return report, nil
}
