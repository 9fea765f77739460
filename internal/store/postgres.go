package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/simtrade/ledger-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Lot insertion order is captured by a BIGSERIAL seq column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateLot(ctx context.Context, l *model.Lot) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO lots (id, owner, asset, quantity, remaining, unit_price, cost_basis, fees, acquired_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)
		 RETURNING seq`,
		l.ID, l.Owner, l.Asset,
		l.Quantity.String(), l.Remaining.String(), l.UnitPrice.String(),
		l.CostBasis.String(), l.Fees.String(),
		l.AcquiredAt,
	).Scan(&l.Seq)
	if err != nil {
		return fmt.Errorf("create lot %s: %w", l.ID, err)
	}
	return nil
}

const lotColumns = `id, owner, asset,
       quantity::TEXT, remaining::TEXT, unit_price::TEXT,
       cost_basis::TEXT, fees::TEXT, acquired_at, seq`

func (s *PostgresStore) GetOpenLots(ctx context.Context, owner, asset string) ([]model.Lot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+lotColumns+`
		 FROM lots
		 WHERE owner = $1 AND asset = $2 AND remaining > 0
		 ORDER BY acquired_at, seq`, owner, asset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLots(rows)
}

func (s *PostgresStore) GetLots(ctx context.Context, owner, asset string) ([]model.Lot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+lotColumns+`
		 FROM lots
		 WHERE owner = $1 AND asset = $2
		 ORDER BY acquired_at, seq`, owner, asset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLots(rows)
}

func (s *PostgresStore) GetOpenLotsByOwner(ctx context.Context, owner string) ([]model.Lot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+lotColumns+`
		 FROM lots
		 WHERE owner = $1 AND remaining > 0
		 ORDER BY asset, acquired_at, seq`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLots(rows)
}

func (s *PostgresStore) UpdateLotRemaining(ctx context.Context, lotID string, remaining decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE lots SET remaining = $2::NUMERIC WHERE id = $1`,
		lotID, remaining.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLotNotFound
	}
	return nil
}

func (s *PostgresStore) InsertSale(ctx context.Context, tx *model.SaleTransaction) error {
	var realized *string
	if tx.RealizedPnL != nil {
		v := tx.RealizedPnL.String()
		realized = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sale_transactions
		   (id, owner, asset, quantity, quantity_sold, unit_price, proceeds, fees, realized_pnl, shortfall, executed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)`,
		tx.ID, tx.Owner, tx.Asset,
		tx.Quantity.String(), tx.QuantitySold.String(), tx.UnitPrice.String(),
		tx.Proceeds.String(), tx.Fees.String(),
		realized, tx.Shortfall.String(),
		tx.ExecutedAt,
	)
	return err
}

func (s *PostgresStore) GetSales(ctx context.Context, owner, asset string) ([]model.SaleTransaction, error) {
	query := `SELECT id, owner, asset,
	                 quantity::TEXT, quantity_sold::TEXT, unit_price::TEXT,
	                 proceeds::TEXT, fees::TEXT, realized_pnl::TEXT, shortfall::TEXT,
	                 executed_at
	          FROM sale_transactions
	          WHERE owner = $1`
	args := []interface{}{owner}
	if asset != "" {
		query += ` AND asset = $2`
		args = append(args, asset)
	}
	query += ` ORDER BY executed_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []model.SaleTransaction
	for rows.Next() {
		var tx model.SaleTransaction
		var qtyS, soldS, priceS, proceedsS, feesS, shortfallS string
		var realizedS *string

		if err := rows.Scan(&tx.ID, &tx.Owner, &tx.Asset,
			&qtyS, &soldS, &priceS,
			&proceedsS, &feesS, &realizedS, &shortfallS,
			&tx.ExecutedAt); err != nil {
			return nil, err
		}

		tx.Quantity, _ = decimal.NewFromString(qtyS)
		tx.QuantitySold, _ = decimal.NewFromString(soldS)
		tx.UnitPrice, _ = decimal.NewFromString(priceS)
		tx.Proceeds, _ = decimal.NewFromString(proceedsS)
		tx.Fees, _ = decimal.NewFromString(feesS)
		tx.Shortfall, _ = decimal.NewFromString(shortfallS)
		if realizedS != nil {
			pnl, _ := decimal.NewFromString(*realizedS)
			tx.RealizedPnL = &pnl
		}

		sales = append(sales, tx)
	}
	return sales, rows.Err()
}

func (s *PostgresStore) OpenAssets(ctx context.Context, owner string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT asset FROM lots
		 WHERE owner = $1 AND remaining > 0
		 ORDER BY asset`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// scanLots reads pgx rows into Lot slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanLots(rows pgxRows) ([]model.Lot, error) {
	var lots []model.Lot
	for rows.Next() {
		var l model.Lot
		var qtyS, remS, priceS, costS, feesS string

		if err := rows.Scan(&l.ID, &l.Owner, &l.Asset,
			&qtyS, &remS, &priceS,
			&costS, &feesS, &l.AcquiredAt, &l.Seq); err != nil {
			return nil, err
		}

		l.Quantity, _ = decimal.NewFromString(qtyS)
		l.Remaining, _ = decimal.NewFromString(remS)
		l.UnitPrice, _ = decimal.NewFromString(priceS)
		l.CostBasis, _ = decimal.NewFromString(costS)
		l.Fees, _ = decimal.NewFromString(feesS)

		lots = append(lots, l)
	}
	return lots, rows.Err()
}
