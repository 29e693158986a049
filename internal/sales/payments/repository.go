package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	sales "github.com/odyssey-erp/odyssey-retail/internal/sales/shared"
)

// Repository persists payments in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	read *txRepository
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, read: &txRepository{db: pool}}
}

// NewTxRepository binds payment persistence to an open transaction.
func NewTxRepository(q db.DBTX) TxRepository {
	return &txRepository{db: q}
}

type txRepository struct {
	db db.DBTX
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const paymentColumns = `id, order_id, amount, method, status, COALESCE(transaction_ref, ''), COALESCE(redirect_url, ''),
expires_at, paid_at, note, is_deleted, created_by, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Status, &p.TransactionRef, &p.RedirectURL,
		&p.ExpiresAt, &p.PaidAt, &p.Note, &p.IsDeleted, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound
	}
	return p, err
}

func collectPayments(rows pgx.Rows, err error) ([]Payment, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *txRepository) getOrderBalance(ctx context.Context, orderID int64, lock bool) (OrderBalance, error) {
	query := `SELECT id, code, status, total_amount, discount_amount, paid_amount, is_deleted FROM orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var b OrderBalance
	err := r.db.QueryRow(ctx, query, orderID).
		Scan(&b.OrderID, &b.Code, &b.Status, &b.Total, &b.Discount, &b.Paid, &b.IsDeleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return OrderBalance{}, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	return b, err
}

// GetOrderBalance reads the order balance without locking.
func (r *Repository) GetOrderBalance(ctx context.Context, orderID int64) (OrderBalance, error) {
	return r.read.getOrderBalance(ctx, orderID, false)
}

// GetPaymentByRef reads a payment by transaction reference without locking.
func (r *Repository) GetPaymentByRef(ctx context.Context, ref string) (Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_ref = $1`, ref))
}

// ListByOrder returns every payment of the order.
func (r *Repository) ListByOrder(ctx context.Context, orderID int64) ([]Payment, error) {
	return collectPayments(r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY id`, orderID))
}

// ListStalePending returns active pending payments whose checkout expired before the given time.
func (r *Repository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]Payment, error) {
	return collectPayments(r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments
WHERE status = 'PENDING' AND NOT is_deleted AND expires_at IS NOT NULL AND expires_at <= $1
ORDER BY expires_at
LIMIT $2`, before, limit))
}

func (r *txRepository) GetOrderBalanceForUpdate(ctx context.Context, orderID int64) (OrderBalance, error) {
	return r.getOrderBalance(ctx, orderID, true)
}

func (r *txRepository) SaveOrderSettlement(ctx context.Context, orderID int64, paid decimal.Decimal, status sales.OrderStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE orders SET paid_amount = $2, status = $3, updated_at = NOW() WHERE id = $1`, orderID, paid, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	return nil
}

func (r *txRepository) ListOrderPayments(ctx context.Context, orderID int64) ([]Payment, error) {
	return collectPayments(r.db.Query(ctx, `SELECT `+paymentColumns+` FROM payments
WHERE order_id = $1 AND NOT is_deleted ORDER BY id`, orderID))
}

func (r *txRepository) GetPaymentForUpdate(ctx context.Context, id int64) (Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) GetPaymentByRefForUpdate(ctx context.Context, ref string) (Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_ref = $1 FOR UPDATE`, ref))
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, `INSERT INTO payments
(order_id, amount, method, status, transaction_ref, redirect_url, expires_at, paid_at, note, is_deleted, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13)
RETURNING `+paymentColumns,
		p.OrderID, p.Amount, p.Method, p.Status, p.TransactionRef, p.RedirectURL, p.ExpiresAt, p.PaidAt,
		p.Note, p.IsDeleted, p.CreatedBy, p.CreatedAt, p.UpdatedAt))
}

func (r *txRepository) UpdatePayment(ctx context.Context, p Payment) error {
	tag, err := r.db.Exec(ctx, `UPDATE payments
SET amount = $2, method = $3, status = $4, paid_at = $5, note = $6, is_deleted = $7, updated_at = $8
WHERE id = $1`, p.ID, p.Amount, p.Method, p.Status, p.PaidAt, p.Note, p.IsDeleted, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}
