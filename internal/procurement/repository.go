package procurement

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/inventory/areas"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
	read *txRepo
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, read: &txRepo{db: pool}}
}

type txRepo struct {
	db db.DBTX
}

type (
	stockTx = inventory.TxRepository
	areaTx  = areas.TxRepository
)

type entryTx struct {
	*txRepo
	stockTx
	areaTx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, entryTx{
			txRepo:  &txRepo{db: tx},
			stockTx: inventory.NewTxRepository(tx),
			areaTx:  areas.NewTxRepository(tx),
		})
	})
}

const entryColumns = `id, code, supplier_id, status, total_cost, entry_date, note, is_deleted, created_by, created_at, updated_at`

func scanEntry(row pgx.Row) (StockEntry, error) {
	var e StockEntry
	err := row.Scan(&e.ID, &e.Code, &e.SupplierID, &e.Status, &e.TotalCost, &e.EntryDate, &e.Note,
		&e.IsDeleted, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockEntry{}, ErrStockEntryNotFound
	}
	return e, err
}

// GetStockEntry loads an entry with its active items.
func (r *Repository) GetStockEntry(ctx context.Context, id int64) (StockEntry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM stock_entries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, ErrStockEntryNotFound) {
			return StockEntry{}, fmt.Errorf("%w: %d", ErrStockEntryNotFound, id)
		}
		return StockEntry{}, err
	}
	e.Items, err = r.read.ListStockEntryItems(ctx, id)
	if err != nil {
		return StockEntry{}, err
	}
	return e, nil
}

// ListStockEntries returns a page of entries and the total number of matches.
func (r *Repository) ListStockEntries(ctx context.Context, filter ListFilter) ([]StockEntry, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.SupplierID != nil {
		args = append(args, *filter.SupplierID)
		where += ` AND supplier_id = $` + strconv.Itoa(len(args))
	}
	if !filter.IncludeDeleted {
		where += ` AND NOT is_deleted`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_entries`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	dataSQL := `SELECT ` + entryColumns + ` FROM stock_entries` + where +
		` ORDER BY ` + sortOrder(filter.SortBy, filter.SortDir) +
		` LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	rows, err := r.pool.Query(ctx, dataSQL, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []StockEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// sortOrder returns a safe ORDER BY clause for stock entry queries.
func sortOrder(sortBy, sortDir string) string {
	dir := "DESC"
	if sortDir == "asc" {
		dir = "ASC"
	}
	switch sortBy {
	case "code":
		return "code " + dir
	case "entry_date":
		return "entry_date " + dir + ", id " + dir
	case "total_cost":
		return "total_cost " + dir
	case "status":
		return "status " + dir
	default:
		return "created_at DESC, id DESC"
	}
}

func (tx *txRepo) SupplierExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := tx.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM suppliers WHERE id = $1 AND NOT is_deleted)`, id).Scan(&exists)
	return exists, err
}

func (tx *txRepo) InsertStockEntry(ctx context.Context, e StockEntry) (StockEntry, error) {
	return scanEntry(tx.db.QueryRow(ctx, `INSERT INTO stock_entries
(code, supplier_id, status, total_cost, entry_date, note, is_deleted, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8, $9)
RETURNING `+entryColumns,
		e.Code, e.SupplierID, e.Status, e.TotalCost, e.EntryDate, e.Note, e.CreatedBy, e.CreatedAt, e.UpdatedAt))
}

func (tx *txRepo) GetStockEntryForUpdate(ctx context.Context, id int64) (StockEntry, error) {
	e, err := scanEntry(tx.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM stock_entries WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, ErrStockEntryNotFound) {
		return StockEntry{}, fmt.Errorf("%w: %d", ErrStockEntryNotFound, id)
	}
	return e, err
}

func (tx *txRepo) UpdateStockEntry(ctx context.Context, e StockEntry) error {
	tag, err := tx.db.Exec(ctx, `UPDATE stock_entries
SET supplier_id = $2, status = $3, total_cost = $4, note = $5, is_deleted = $6, updated_at = $7
WHERE id = $1`, e.ID, e.SupplierID, e.Status, e.TotalCost, e.Note, e.IsDeleted, e.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrStockEntryNotFound, e.ID)
	}
	return nil
}

func (tx *txRepo) ListStockEntryItems(ctx context.Context, entryID int64) ([]EntryItem, error) {
	rows, err := tx.db.Query(ctx, `SELECT id, stock_entry_id, product_id, warehouse_area_id, quantity, unit_cost, subtotal, is_deleted
FROM stock_entry_items
WHERE stock_entry_id = $1 AND NOT is_deleted
ORDER BY id`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []EntryItem
	for rows.Next() {
		var it EntryItem
		if err := rows.Scan(&it.ID, &it.EntryID, &it.ProductID, &it.AreaID, &it.Quantity, &it.UnitCost, &it.Subtotal, &it.IsDeleted); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (tx *txRepo) InsertStockEntryItems(ctx context.Context, entryID int64, items []EntryItem) ([]EntryItem, error) {
	out := make([]EntryItem, 0, len(items))
	for _, it := range items {
		it.EntryID = entryID
		err := tx.db.QueryRow(ctx, `INSERT INTO stock_entry_items (stock_entry_id, product_id, warehouse_area_id, quantity, unit_cost, subtotal)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`, entryID, it.ProductID, it.AreaID, it.Quantity, it.UnitCost, it.Subtotal).Scan(&it.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func (tx *txRepo) SoftDeleteStockEntryItems(ctx context.Context, entryID int64) error {
	_, err := tx.db.Exec(ctx, `UPDATE stock_entry_items SET is_deleted = TRUE WHERE stock_entry_id = $1 AND NOT is_deleted`, entryID)
	return err
}
