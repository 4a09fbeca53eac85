package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ecomlabs/order-pipeline/internal/dal/postgres"
	productrepo "github.com/ecomlabs/order-pipeline/internal/dal/repositories/product/postgres"
	"github.com/ecomlabs/order-pipeline/internal/service/models/currency"
	"github.com/ecomlabs/order-pipeline/internal/service/models/order"
	"github.com/jackc/pgx/v5"
)

// OrderDal represents the order data access layer model.
type OrderDal struct {
	Id              int64     `db:"order_id"`
	UserId          int64     `db:"user_id"`
	ProductId       int64     `db:"product_id"`
	Quantity        int       `db:"quantity"`
	TotalPriceCents int64     `db:"total_price_cents"`
	Currency        string    `db:"currency"`
	Status          string    `db:"status"`
	DedupKey        string    `db:"dedup_key"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// ToModel converts OrderDal to the service layer Order model.
func (o *OrderDal) ToModel() (*order.Order, error) {
	cur, err := currency.ParseCurrency(o.Currency)
	if err != nil {
		return nil, err
	}

	return &order.Order{
		ID:              o.Id,
		UserID:          o.UserId,
		ProductID:       o.ProductId,
		Quantity:        o.Quantity,
		TotalPriceCents: o.TotalPriceCents,
		Currency:        cur,
		Status:          order.Status(o.Status),
		DedupKey:        o.DedupKey,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}, nil
}

var orderColumns = []string{
	"order_id",
	"user_id",
	"product_id",
	"quantity",
	"total_price_cents",
	"currency",
	"status",
	"dedup_key",
	"created_at",
	"updated_at",
}

// OrderRepository implements the order store for PostgreSQL.
type OrderRepository struct {
	client *postgres.Client
}

// NewOrderRepository creates a new order repository.
func NewOrderRepository(client *postgres.Client) *OrderRepository {
	return &OrderRepository{
		client: client,
	}
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var dal OrderDal
	err := row.Scan(
		&dal.Id,
		&dal.UserId,
		&dal.ProductId,
		&dal.Quantity,
		&dal.TotalPriceCents,
		&dal.Currency,
		&dal.Status,
		&dal.DedupKey,
		&dal.CreatedAt,
		&dal.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}

		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	return dal.ToModel()
}

// CreateReserved is the authoritative fulfillment path: inside one
// transaction it reserves stock for the order and inserts the order row in
// PENDING with its total fixed from the current unit price. The dedup key has
// a unique index, so a redelivered message inserts nothing and the whole
// transaction, stock decrement included, rolls back. Returns false when the
// order already existed for this dedup key.
func (r *OrderRepository) CreateReserved(ctx context.Context, o *order.Order) (bool, error) {
	tx, err := r.client.Pool().Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin create transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	priceCents, cur, err := productrepo.AdjustStockTx(ctx, tx, o.ProductID, o.Quantity)
	if err != nil {
		return false, err
	}

	o.TotalPriceCents = priceCents * int64(o.Quantity)
	o.Currency = cur
	o.Status = order.StatusPending

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (user_id, product_id, quantity, total_price_cents, currency, status, dedup_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING order_id, created_at, updated_at`,
		o.UserID, o.ProductID, o.Quantity, o.TotalPriceCents, o.Currency.String(), o.Status.String(), o.DedupKey,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Already processed under this dedup key; rollback undoes the
			// stock decrement taken above.
			return false, nil
		}

		return false, fmt.Errorf("failed to insert order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit create transaction: %w", err)
	}

	return true, nil
}

// ExistsByDedupKey reports whether an order was already created for the key.
func (r *OrderRepository) ExistsByDedupKey(ctx context.Context, key string) (bool, error) {
	query, args, err := sq.Select("1").
		From("orders").
		Where(sq.Eq{"dedup_key": key}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build dedup query: %w", err)
	}

	var one int
	err = r.client.Pool().QueryRow(ctx, query, args...).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}

		return false, fmt.Errorf("failed to query dedup key: %w", err)
	}

	return true, nil
}

// GetByID returns a single order or order.ErrOrderNotFound.
func (r *OrderRepository) GetByID(ctx context.Context, orderID int64) (*order.Order, error) {
	query, args, err := sq.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"order_id": orderID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build order select query: %w", err)
	}

	return scanOrder(r.client.Pool().QueryRow(ctx, query, args...))
}

// ListByUser returns the user's order history, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID int64) ([]order.Order, error) {
	return r.list(ctx, sq.Eq{"user_id": userID})
}

// ListByProduct returns all orders referencing a product, newest first.
func (r *OrderRepository) ListByProduct(ctx context.Context, productID int64) ([]order.Order, error) {
	return r.list(ctx, sq.Eq{"product_id": productID})
}

func (r *OrderRepository) list(ctx context.Context, where sq.Eq) ([]order.Order, error) {
	query, args, err := sq.Select(orderColumns...).
		From("orders").
		Where(where).
		OrderBy("created_at DESC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build orders list query: %w", err)
	}

	rows, err := r.client.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var result []order.Order
	for rows.Next() {
		model, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *model)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}

func (r *OrderRepository) lockOrderTx(ctx context.Context, tx pgx.Tx, orderID int64) (*order.Order, error) {
	return scanOrder(tx.QueryRow(ctx, `
		SELECT order_id, user_id, product_id, quantity, total_price_cents, currency, status, dedup_key, created_at, updated_at
		FROM orders WHERE order_id = $1 FOR UPDATE`,
		orderID,
	))
}

// UpdateQuantity resizes a PENDING order. The stock delta runs through the
// ledger inside the same transaction, so a failed delta leaves both the order
// and the stock untouched. The total is recomputed from the current unit
// price, matching how the order would price if placed now.
func (r *OrderRepository) UpdateQuantity(ctx context.Context, orderID int64, newQuantity int) (*order.Order, error) {
	tx, err := r.client.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin quantity update transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := r.lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	if o.Status != order.StatusPending {
		return nil, order.ErrInvalidTransition
	}

	delta := newQuantity - o.Quantity
	priceCents, cur, err := productrepo.AdjustStockTx(ctx, tx, o.ProductID, delta)
	if err != nil {
		return nil, err
	}

	o.Quantity = newQuantity
	o.TotalPriceCents = priceCents * int64(newQuantity)
	o.Currency = cur

	err = tx.QueryRow(ctx, `
		UPDATE orders SET quantity = $2, total_price_cents = $3, currency = $4, updated_at = now()
		WHERE order_id = $1
		RETURNING updated_at`,
		orderID, o.Quantity, o.TotalPriceCents, o.Currency.String(),
	).Scan(&o.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update order quantity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit quantity update transaction: %w", err)
	}

	return o, nil
}

// UpdateStatus moves an order along the state machine. Cancellation releases
// the reserved stock in the same transaction; other transitions never touch
// stock.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID int64, newStatus order.Status) (*order.Order, error) {
	tx, err := r.client.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin status update transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := r.lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	if !order.CanTransition(o.Status, newStatus) {
		return nil, order.ErrInvalidTransition
	}

	if newStatus == order.StatusCancelled {
		if _, _, err := productrepo.AdjustStockTx(ctx, tx, o.ProductID, -o.Quantity); err != nil {
			return nil, err
		}
	}

	o.Status = newStatus

	err = tx.QueryRow(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE order_id = $1
		RETURNING updated_at`,
		orderID, newStatus.String(),
	).Scan(&o.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit status update transaction: %w", err)
	}

	return o, nil
}

// Cancel marks an order CANCELLED and credits its quantity back to stock.
func (r *OrderRepository) Cancel(ctx context.Context, orderID int64) (*order.Order, error) {
	return r.UpdateStatus(ctx, orderID, order.StatusCancelled)
}

// Remove deletes an order. While stock accounting is outstanding (order not
// terminal) the quantity is credited back in the same transaction, the same
// path cancellation takes.
func (r *OrderRepository) Remove(ctx context.Context, orderID int64) error {
	tx, err := r.client.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin remove transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := r.lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return err
	}

	if !o.Status.IsTerminal() {
		if _, _, err := productrepo.AdjustStockTx(ctx, tx, o.ProductID, -o.Quantity); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}

	return tx.Commit(ctx)
}
