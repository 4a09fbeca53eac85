package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/ecomlabs/order-pipeline/internal/dal/postgres"
	"github.com/ecomlabs/order-pipeline/internal/service/models/currency"
	"github.com/ecomlabs/order-pipeline/internal/service/models/product"
	"github.com/jackc/pgx/v5"
)

// LedgerRepository owns the per-product stock counters. Every stock mutation
// in the system goes through Reserve/Release (or their tx variants); no other
// component reads-modifies-writes stock.
type LedgerRepository struct {
	client *postgres.Client
}

// NewLedgerRepository creates a new inventory ledger repository.
func NewLedgerRepository(client *postgres.Client) *LedgerRepository {
	return &LedgerRepository{
		client: client,
	}
}

// GetProduct returns the product row without taking any lock. Used by the
// admission pre-check, which must not mutate anything.
func (r *LedgerRepository) GetProduct(ctx context.Context, productID int64) (*product.Product, error) {
	query, args, err := sq.Select(
		"product_id",
		"name",
		"price_cents",
		"currency",
		"stock",
		"created_at",
		"updated_at",
	).
		From("products").
		Where(sq.Eq{"product_id": productID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build product select query: %w", err)
	}

	var (
		p   product.Product
		cur string
	)
	err = r.client.Pool().QueryRow(ctx, query, args...).Scan(
		&p.ID,
		&p.Name,
		&p.PriceCents,
		&cur,
		&p.Stock,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrProductNotFound
		}

		return nil, fmt.Errorf("failed to query product: %w", err)
	}

	p.Currency, err = currency.ParseCurrency(cur)
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// Reserve atomically checks stock >= quantity and decrements it. Returns
// product.ErrInsufficientStock when the check fails and leaves stock intact.
func (r *LedgerRepository) Reserve(ctx context.Context, productID int64, quantity int) error {
	tx, err := r.client.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin reserve transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, _, err := AdjustStockTx(ctx, tx, productID, quantity); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Release atomically credits quantity back to the product's stock.
func (r *LedgerRepository) Release(ctx context.Context, productID int64, quantity int) error {
	tx, err := r.client.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin release transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, _, err := AdjustStockTx(ctx, tx, productID, -quantity); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// AdjustStockTx applies a stock delta inside the caller's transaction. A
// positive delta is a reservation (decrement, guarded by availability), a
// negative delta is a release (increment). The row lock serializes concurrent
// adjustments on the same product, so the sum of successful reservations can
// never exceed the stock that was available.
//
// The current unit price is returned so callers creating or resizing an order
// can fix its total inside the same transaction.
func AdjustStockTx(ctx context.Context, tx pgx.Tx, productID int64, delta int) (int64, currency.Currency, error) {
	var (
		stock      int
		priceCents int64
		cur        string
	)
	err := tx.QueryRow(ctx,
		`SELECT stock, price_cents, currency FROM products WHERE product_id = $1 FOR UPDATE`,
		productID,
	).Scan(&stock, &priceCents, &cur)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, "", product.ErrProductNotFound
		}

		return 0, "", fmt.Errorf("failed to lock product row: %w", err)
	}

	parsed, err := currency.ParseCurrency(cur)
	if err != nil {
		return 0, "", err
	}

	if delta == 0 {
		return priceCents, parsed, nil
	}

	if delta > 0 && stock < delta {
		return 0, "", product.ErrInsufficientStock
	}

	ct, err := tx.Exec(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = now() WHERE product_id = $1`,
		productID, delta,
	)
	if err != nil {
		return 0, "", fmt.Errorf("failed to adjust stock: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return 0, "", product.ErrProductNotFound
	}

	return priceCents, parsed, nil
}
