package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/simtrade/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: open lots and sale history. Writes go to the
// primary store and invalidate the affected keys; reads check Redis first
// then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateLot(ctx context.Context, l *model.Lot) error {
	if err := s.primary.CreateLot(ctx, l); err != nil {
		return err
	}
	s.rdb.Del(ctx, openLotsKey(l.Owner, l.Asset))
	return nil
}

func (s *CachedStore) UpdateLotRemaining(ctx context.Context, lotID string, remaining decimal.Decimal) error {
	if err := s.primary.UpdateLotRemaining(ctx, lotID, remaining); err != nil {
		return err
	}
	// The lot's (owner, asset) is not known here; the ledger always pairs
	// remaining updates with an InsertSale, which invalidates by owner.
	return nil
}

func (s *CachedStore) InsertSale(ctx context.Context, tx *model.SaleTransaction) error {
	if err := s.primary.InsertSale(ctx, tx); err != nil {
		return err
	}
	s.rdb.Del(ctx,
		openLotsKey(tx.Owner, tx.Asset),
		salesKey(tx.Owner, tx.Asset),
		salesKey(tx.Owner, ""),
	)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetOpenLots(ctx context.Context, owner, asset string) ([]model.Lot, error) {
	data, err := s.rdb.Get(ctx, openLotsKey(owner, asset)).Bytes()
	if err == nil {
		var lots []model.Lot
		if json.Unmarshal(data, &lots) == nil {
			return lots, nil
		}
	}

	lots, err := s.primary.GetOpenLots(ctx, owner, asset)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(lots); err == nil {
		s.rdb.Set(ctx, openLotsKey(owner, asset), data, s.ttl)
	}
	return lots, nil
}

func (s *CachedStore) GetSales(ctx context.Context, owner, asset string) ([]model.SaleTransaction, error) {
	data, err := s.rdb.Get(ctx, salesKey(owner, asset)).Bytes()
	if err == nil {
		var sales []model.SaleTransaction
		if json.Unmarshal(data, &sales) == nil {
			return sales, nil
		}
	}

	sales, err := s.primary.GetSales(ctx, owner, asset)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(sales); err == nil {
		s.rdb.Set(ctx, salesKey(owner, asset), data, s.ttl)
	}
	return sales, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetLots(ctx context.Context, owner, asset string) ([]model.Lot, error) {
	return s.primary.GetLots(ctx, owner, asset)
}

func (s *CachedStore) GetOpenLotsByOwner(ctx context.Context, owner string) ([]model.Lot, error) {
	return s.primary.GetOpenLotsByOwner(ctx, owner)
}

func (s *CachedStore) OpenAssets(ctx context.Context, owner string) ([]string, error) {
	return s.primary.OpenAssets(ctx, owner)
}

// --- Cache keys ---

func openLotsKey(owner, asset string) string { return fmt.Sprintf("openlots:%s:%s", owner, asset) }
func salesKey(owner, asset string) string    { return fmt.Sprintf("sales:%s:%s", owner, asset) }
