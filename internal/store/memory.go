package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/simtrade/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory slices. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	lots    []model.Lot
	sales   []model.SaleTransaction
	nextSeq int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) CreateLot(_ context.Context, lot *model.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	lot.Seq = s.nextSeq
	s.lots = append(s.lots, *lot)
	return nil
}

// fifoSort orders lots by acquisition time ascending, insertion seq breaking
// ties. Sort is over a caller-owned slice of copies.
func fifoSort(lots []model.Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		if !lots[i].AcquiredAt.Equal(lots[j].AcquiredAt) {
			return lots[i].AcquiredAt.Before(lots[j].AcquiredAt)
		}
		return lots[i].Seq < lots[j].Seq
	})
}

func (s *MemoryStore) GetOpenLots(_ context.Context, owner, asset string) ([]model.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Lot
	for _, l := range s.lots {
		if l.Owner == owner && l.Asset == asset && l.Remaining.IsPositive() {
			result = append(result, l)
		}
	}
	fifoSort(result)
	return result, nil
}

func (s *MemoryStore) GetLots(_ context.Context, owner, asset string) ([]model.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Lot
	for _, l := range s.lots {
		if l.Owner == owner && l.Asset == asset {
			result = append(result, l)
		}
	}
	fifoSort(result)
	return result, nil
}

func (s *MemoryStore) GetOpenLotsByOwner(_ context.Context, owner string) ([]model.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Lot
	for _, l := range s.lots {
		if l.Owner == owner && l.Remaining.IsPositive() {
			result = append(result, l)
		}
	}
	fifoSort(result)
	return result, nil
}

func (s *MemoryStore) UpdateLotRemaining(_ context.Context, lotID string, remaining decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lots {
		if s.lots[i].ID == lotID {
			s.lots[i].Remaining = remaining
			return nil
		}
	}
	return ErrLotNotFound
}

func (s *MemoryStore) InsertSale(_ context.Context, sale *model.SaleTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *sale
	if sale.RealizedPnL != nil {
		pnl := *sale.RealizedPnL
		copied.RealizedPnL = &pnl
	}
	s.sales = append(s.sales, copied)
	return nil
}

func (s *MemoryStore) GetSales(_ context.Context, owner, asset string) ([]model.SaleTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SaleTransaction
	for _, tx := range s.sales {
		if tx.Owner != owner {
			continue
		}
		if asset != "" && tx.Asset != asset {
			continue
		}
		copied := tx
		if tx.RealizedPnL != nil {
			pnl := *tx.RealizedPnL
			copied.RealizedPnL = &pnl
		}
		result = append(result, copied)
	}
	return result, nil
}

func (s *MemoryStore) OpenAssets(_ context.Context, owner string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var assets []string
	for _, l := range s.lots {
		if l.Owner == owner && l.Remaining.IsPositive() && !seen[l.Asset] {
			seen[l.Asset] = true
			assets = append(assets, l.Asset)
		}
	}
	sort.Strings(assets)
	return assets, nil
}
