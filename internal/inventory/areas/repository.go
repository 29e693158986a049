package areas

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
)

// Repository persists area inventory in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// NewTxRepository binds area stock rows to an open transaction.
func NewTxRepository(q db.DBTX) TxRepository {
	return &txRepository{db: q}
}

type txRepository struct {
	db db.DBTX
}

type stockTx = inventory.TxRepository

type transferTx struct {
	*txRepository
	stockTx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TransferTx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, transferTx{txRepository: &txRepository{db: tx}, stockTx: inventory.NewTxRepository(tx)})
	})
}

const stockColumns = `id, warehouse_area_id, product_id, quantity, is_deleted, updated_at`

func scanStock(row pgx.Row) (Stock, error) {
	var s Stock
	err := row.Scan(&s.ID, &s.AreaID, &s.ProductID, &s.Quantity, &s.IsDeleted, &s.UpdatedAt)
	return s, err
}

func (r *Repository) listStock(ctx context.Context, query string, arg int64) ([]Stock, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Stock
	for rows.Next() {
		s, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListByArea returns active rows of the area.
func (r *Repository) ListByArea(ctx context.Context, areaID int64) ([]Stock, error) {
	return r.listStock(ctx, `SELECT `+stockColumns+` FROM area_inventory
WHERE warehouse_area_id = $1 AND NOT is_deleted ORDER BY product_id`, areaID)
}

// ListByProduct returns active rows for the product.
func (r *Repository) ListByProduct(ctx context.Context, productID int64) ([]Stock, error) {
	return r.listStock(ctx, `SELECT `+stockColumns+` FROM area_inventory
WHERE product_id = $1 AND NOT is_deleted ORDER BY warehouse_area_id`, productID)
}

// ListDrift returns products whose active area rows hold more than on-hand.
func (r *Repository) ListDrift(ctx context.Context) ([]Drift, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.on_hand, COALESCE(SUM(ai.quantity), 0)::int
FROM products p
JOIN area_inventory ai ON ai.product_id = p.id AND NOT ai.is_deleted
GROUP BY p.id, p.on_hand
HAVING COALESCE(SUM(ai.quantity), 0) > p.on_hand
ORDER BY p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.ProductID, &d.OnHand, &d.AreaTotal); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *txRepository) GetArea(ctx context.Context, id int64) (Area, error) {
	var a Area
	err := r.db.QueryRow(ctx, `SELECT id, code, name, is_deleted FROM warehouse_areas WHERE id = $1`, id).
		Scan(&a.ID, &a.Code, &a.Name, &a.IsDeleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return Area{}, fmt.Errorf("%w: %d", ErrAreaNotFound, id)
	}
	return a, err
}

func (r *txRepository) GetAreaInventoryForUpdate(ctx context.Context, areaID, productID int64) (Stock, error) {
	s, err := scanStock(r.db.QueryRow(ctx, `SELECT `+stockColumns+` FROM area_inventory
WHERE warehouse_area_id = $1 AND product_id = $2
FOR UPDATE`, areaID, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{}, ErrStockRowNotFound
	}
	return s, err
}

func (r *txRepository) SaveAreaInventory(ctx context.Context, row Stock) (Stock, error) {
	return scanStock(r.db.QueryRow(ctx, `INSERT INTO area_inventory (warehouse_area_id, product_id, quantity, is_deleted, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (warehouse_area_id, product_id)
DO UPDATE SET quantity = EXCLUDED.quantity, is_deleted = EXCLUDED.is_deleted, updated_at = NOW()
RETURNING `+stockColumns, row.AreaID, row.ProductID, row.Quantity, row.IsDeleted))
}
