package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	tx   *txRepository
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, tx: &txRepository{db: pool}}
}

// NewTxRepository binds the stock accessor to an open transaction.
func NewTxRepository(q db.DBTX) TxRepository {
	return &txRepository{db: q}
}

type txRepository struct {
	db db.DBTX
}

// GetProduct reads a product outside of any transaction.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	return r.tx.GetProduct(ctx, id)
}

// ListLedger returns the most recent active ledger rows of a product.
func (r *Repository) ListLedger(ctx context.Context, productID int64, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, quantity, reason, ref_module, ref_id, actor_id, created_at
FROM inventory_ledger
WHERE product_id = $1 AND NOT is_deleted
ORDER BY id DESC
LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.Quantity, &e.Reason, &e.RefModule, &e.RefID, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListDrift returns products whose on-hand differs from the sum of their ledger.
func (r *Repository) ListDrift(ctx context.Context) ([]Drift, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.code, p.on_hand, COALESCE(SUM(l.quantity), 0)::int
FROM products p
LEFT JOIN inventory_ledger l ON l.product_id = p.id AND NOT l.is_deleted
GROUP BY p.id, p.code, p.on_hand
HAVING p.on_hand <> COALESCE(SUM(l.quantity), 0)
ORDER BY p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drifts []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.ProductID, &d.Code, &d.OnHand, &d.LedgerSum); err != nil {
			return nil, err
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

func (r *txRepository) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.db.QueryRow(ctx, `SELECT id, code, name, price, unit, on_hand, is_deleted FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Code, &p.Name, &p.Price, &p.Unit, &p.OnHand, &p.IsDeleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	return p, err
}

func (r *txRepository) AdjustOnHand(ctx context.Context, productID int64, delta int) (int, error) {
	var onHand int
	err := r.db.QueryRow(ctx, `UPDATE products SET on_hand = on_hand + $2, updated_at = NOW()
WHERE id = $1 AND on_hand + $2 >= 0
RETURNING on_hand`, productID, delta).Scan(&onHand)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, r.missingOrShort(ctx, productID)
	}
	return onHand, err
}

func (r *txRepository) DecrementOnHandClamped(ctx context.Context, productID int64, quantity int) (int, error) {
	var removed int
	err := r.db.QueryRow(ctx, `WITH cur AS (
	SELECT id, on_hand FROM products WHERE id = $1 FOR UPDATE
)
UPDATE products p SET on_hand = p.on_hand - LEAST(cur.on_hand, $2), updated_at = NOW()
FROM cur
WHERE p.id = cur.id
RETURNING LEAST(cur.on_hand, $2)`, productID, quantity).Scan(&removed)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %d", ErrProductNotFound, productID)
	}
	return removed, err
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) error {
	_, err := r.db.Exec(ctx, `INSERT INTO inventory_ledger (product_id, quantity, reason, ref_module, ref_id, actor_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ProductID, entry.Quantity, entry.Reason, entry.RefModule, entry.RefID, entry.ActorID, entry.CreatedAt)
	return err
}

func (r *txRepository) missingOrShort(ctx context.Context, productID int64) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %d", ErrProductNotFound, productID)
	}
	return ErrInsufficientStock
}
