package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/payments"
)

// Repository persists orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	read *txRepository
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, read: &txRepository{db: pool}}
}

type txRepository struct {
	db db.DBTX
}

type (
	stockTx   = inventory.TxRepository
	paymentTx = payments.TxRepository
)

type orderTx struct {
	*txRepository
	stockTx
	paymentTx
}

// WithTx executes the callback inside a repeatable-read transaction shared by
// orders, stock and payments.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, orderTx{
			txRepository: &txRepository{db: tx},
			stockTx:      inventory.NewTxRepository(tx),
			paymentTx:    payments.NewTxRepository(tx),
		})
	})
}

const orderColumns = `id, code, customer_id, promotion_id, status, total_amount, discount_amount, paid_amount,
order_date, is_deleted, created_by, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Code, &o.CustomerID, &o.PromotionID, &o.Status, &o.TotalAmount, &o.DiscountAmount,
		&o.PaidAmount, &o.OrderDate, &o.IsDeleted, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, err
}

// GetProduct reads a product outside of any transaction.
func (r *Repository) GetProduct(ctx context.Context, id int64) (inventory.Product, error) {
	return inventory.NewTxRepository(r.pool).GetProduct(ctx, id)
}

// GetOrder loads an order with its active items.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
		}
		return Order{}, err
	}
	o.Items, err = r.read.ListOrderItems(ctx, id)
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

// ListOrders returns a page of orders and the total number of matches.
func (r *Repository) ListOrders(ctx context.Context, filter ListFilter) ([]Order, int, error) {
	where := `WHERE ($1::text IS NULL OR status = $1)
AND ($2::bigint IS NULL OR customer_id = $2)
AND ($3 OR NOT is_deleted)`
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}
	args := []any{status, filter.CustomerID, filter.IncludeDeleted}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders `+where+`
ORDER BY order_date DESC, id DESC
LIMIT $4 OFFSET $5`, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

func (r *txRepository) CustomerExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM customers WHERE id = $1 AND NOT is_deleted)`, id).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertOrder(ctx context.Context, o Order) (Order, error) {
	return scanOrder(r.db.QueryRow(ctx, `INSERT INTO orders
(code, customer_id, promotion_id, status, total_amount, discount_amount, paid_amount, order_date, is_deleted, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10, $11)
RETURNING `+orderColumns,
		o.Code, o.CustomerID, o.PromotionID, o.Status, o.TotalAmount, o.DiscountAmount, o.PaidAmount,
		o.OrderDate, o.CreatedBy, o.CreatedAt, o.UpdatedAt))
}

func (r *txRepository) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, ErrOrderNotFound) {
		return Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return o, err
}

func (r *txRepository) UpdateOrder(ctx context.Context, o Order) error {
	tag, err := r.db.Exec(ctx, `UPDATE orders
SET customer_id = $2, promotion_id = $3, status = $4, total_amount = $5, discount_amount = $6,
    paid_amount = $7, is_deleted = $8, updated_at = $9
WHERE id = $1`, o.ID, o.CustomerID, o.PromotionID, o.Status, o.TotalAmount, o.DiscountAmount,
		o.PaidAmount, o.IsDeleted, o.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, o.ID)
	}
	return nil
}

func (r *txRepository) ListOrderItems(ctx context.Context, orderID int64) ([]Item, error) {
	rows, err := r.db.Query(ctx, `SELECT id, order_id, product_id, quantity, unit_price, subtotal, is_deleted
FROM order_items
WHERE order_id = $1 AND NOT is_deleted
ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.Subtotal, &it.IsDeleted); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *txRepository) InsertOrderItems(ctx context.Context, orderID int64, items []Item) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		it.OrderID = orderID
		err := r.db.QueryRow(ctx, `INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`, orderID, it.ProductID, it.Quantity, it.UnitPrice, it.Subtotal).Scan(&it.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func (r *txRepository) SoftDeleteOrderItems(ctx context.Context, orderID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE order_items SET is_deleted = TRUE WHERE order_id = $1 AND NOT is_deleted`, orderID)
	return err
}
