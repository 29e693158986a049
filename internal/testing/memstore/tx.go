package memstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/inventory/areas"
	"github.com/odyssey-erp/odyssey-retail/internal/procurement"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/orders"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/payments"
	sales "github.com/odyssey-erp/odyssey-retail/internal/sales/shared"
)

// Tx implements the transactional repository of every module.
type Tx struct {
	st            *state
	failLedgerFor int64
}

// Products and ledger.

func (tx *Tx) GetProduct(ctx context.Context, id int64) (inventory.Product, error) {
	p, ok := tx.st.products[id]
	if !ok {
		return inventory.Product{}, fmt.Errorf("%w: %d", inventory.ErrProductNotFound, id)
	}
	return p, nil
}

func (tx *Tx) AdjustOnHand(ctx context.Context, productID int64, delta int) (int, error) {
	p, ok := tx.st.products[productID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", inventory.ErrProductNotFound, productID)
	}
	if p.OnHand+delta < 0 {
		return 0, inventory.ErrInsufficientStock
	}
	p.OnHand += delta
	tx.st.products[productID] = p
	return p.OnHand, nil
}

func (tx *Tx) DecrementOnHandClamped(ctx context.Context, productID int64, quantity int) (int, error) {
	p, ok := tx.st.products[productID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", inventory.ErrProductNotFound, productID)
	}
	removed := min(quantity, p.OnHand)
	p.OnHand -= removed
	tx.st.products[productID] = p
	return removed, nil
}

func (tx *Tx) InsertLedgerEntry(ctx context.Context, entry inventory.LedgerEntry) error {
	if tx.failLedgerFor != 0 && entry.ProductID == tx.failLedgerFor {
		return errors.New("memstore: ledger write failed")
	}
	entry.ID = tx.st.id()
	tx.st.ledger = append(tx.st.ledger, entry)
	return nil
}

// Warehouse areas.

func (tx *Tx) GetArea(ctx context.Context, id int64) (areas.Area, error) {
	a, ok := tx.st.areas[id]
	if !ok {
		return areas.Area{}, fmt.Errorf("%w: %d", areas.ErrAreaNotFound, id)
	}
	return a, nil
}

func (tx *Tx) GetAreaInventoryForUpdate(ctx context.Context, areaID, productID int64) (areas.Stock, error) {
	row, ok := tx.st.areaStock[stockKey{areaID, productID}]
	if !ok {
		return areas.Stock{}, areas.ErrStockRowNotFound
	}
	return row, nil
}

func (tx *Tx) SaveAreaInventory(ctx context.Context, row areas.Stock) (areas.Stock, error) {
	key := stockKey{row.AreaID, row.ProductID}
	if existing, ok := tx.st.areaStock[key]; ok {
		row.ID = existing.ID
	} else {
		row.ID = tx.st.id()
	}
	row.UpdatedAt = time.Now().UTC()
	tx.st.areaStock[key] = row
	return row, nil
}

// Orders.

func (tx *Tx) CustomerExists(ctx context.Context, id int64) (bool, error) {
	deleted, ok := tx.st.customers[id]
	return ok && !deleted, nil
}

func (tx *Tx) InsertOrder(ctx context.Context, o orders.Order) (orders.Order, error) {
	for _, existing := range tx.st.orders {
		if existing.Code == o.Code {
			return orders.Order{}, fmt.Errorf("memstore: duplicate order code %s", o.Code)
		}
	}
	o.ID = tx.st.id()
	o.Items = nil
	tx.st.orders[o.ID] = o
	return o, nil
}

func (tx *Tx) GetOrderForUpdate(ctx context.Context, id int64) (orders.Order, error) {
	o, ok := tx.st.orders[id]
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: %d", orders.ErrOrderNotFound, id)
	}
	return o, nil
}

func (tx *Tx) UpdateOrder(ctx context.Context, o orders.Order) error {
	if _, ok := tx.st.orders[o.ID]; !ok {
		return fmt.Errorf("%w: %d", orders.ErrOrderNotFound, o.ID)
	}
	o.Items = nil
	tx.st.orders[o.ID] = o
	return nil
}

func (tx *Tx) ListOrderItems(ctx context.Context, orderID int64) ([]orders.Item, error) {
	var out []orders.Item
	for _, it := range tx.st.orderItems {
		if it.OrderID == orderID && !it.IsDeleted {
			out = append(out, it)
		}
	}
	return out, nil
}

func (tx *Tx) InsertOrderItems(ctx context.Context, orderID int64, items []orders.Item) ([]orders.Item, error) {
	out := make([]orders.Item, 0, len(items))
	for _, it := range items {
		it.ID = tx.st.id()
		it.OrderID = orderID
		tx.st.orderItems = append(tx.st.orderItems, it)
		out = append(out, it)
	}
	return out, nil
}

func (tx *Tx) SoftDeleteOrderItems(ctx context.Context, orderID int64) error {
	for i := range tx.st.orderItems {
		if tx.st.orderItems[i].OrderID == orderID {
			tx.st.orderItems[i].IsDeleted = true
		}
	}
	return nil
}

// Payments.

func (tx *Tx) GetOrderBalanceForUpdate(ctx context.Context, orderID int64) (payments.OrderBalance, error) {
	o, ok := tx.st.orders[orderID]
	if !ok {
		return payments.OrderBalance{}, fmt.Errorf("%w: %d", payments.ErrOrderNotFound, orderID)
	}
	return balanceOf(o), nil
}

func (tx *Tx) SaveOrderSettlement(ctx context.Context, orderID int64, paid decimal.Decimal, status sales.OrderStatus) error {
	o, ok := tx.st.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %d", payments.ErrOrderNotFound, orderID)
	}
	o.PaidAmount = paid
	o.Status = status
	tx.st.orders[orderID] = o
	return nil
}

func (tx *Tx) ListOrderPayments(ctx context.Context, orderID int64) ([]payments.Payment, error) {
	var out []payments.Payment
	for _, p := range sortedPayments(tx.st.payments) {
		if p.OrderID == orderID && !p.IsDeleted {
			out = append(out, p)
		}
	}
	return out, nil
}

func (tx *Tx) GetPaymentForUpdate(ctx context.Context, id int64) (payments.Payment, error) {
	p, ok := tx.st.payments[id]
	if !ok {
		return payments.Payment{}, payments.ErrPaymentNotFound
	}
	return p, nil
}

func (tx *Tx) GetPaymentByRefForUpdate(ctx context.Context, ref string) (payments.Payment, error) {
	for _, p := range tx.st.payments {
		if ref != "" && p.TransactionRef == ref {
			return p, nil
		}
	}
	return payments.Payment{}, payments.ErrPaymentNotFound
}

func (tx *Tx) InsertPayment(ctx context.Context, p payments.Payment) (payments.Payment, error) {
	if p.TransactionRef != "" {
		if _, err := tx.GetPaymentByRefForUpdate(ctx, p.TransactionRef); err == nil {
			return payments.Payment{}, fmt.Errorf("memstore: duplicate transaction ref %s", p.TransactionRef)
		}
	}
	p.ID = tx.st.id()
	tx.st.payments[p.ID] = p
	return p, nil
}

func (tx *Tx) UpdatePayment(ctx context.Context, p payments.Payment) error {
	existing, ok := tx.st.payments[p.ID]
	if !ok {
		return payments.ErrPaymentNotFound
	}
	p.TransactionRef = existing.TransactionRef
	p.RedirectURL = existing.RedirectURL
	p.ExpiresAt = existing.ExpiresAt
	p.CreatedBy = existing.CreatedBy
	p.CreatedAt = existing.CreatedAt
	tx.st.payments[p.ID] = p
	return nil
}

// Stock entries.

func (tx *Tx) SupplierExists(ctx context.Context, id int64) (bool, error) {
	deleted, ok := tx.st.suppliers[id]
	return ok && !deleted, nil
}

func (tx *Tx) InsertStockEntry(ctx context.Context, e procurement.StockEntry) (procurement.StockEntry, error) {
	e.ID = tx.st.id()
	e.Items = nil
	tx.st.entries[e.ID] = e
	return e, nil
}

func (tx *Tx) GetStockEntryForUpdate(ctx context.Context, id int64) (procurement.StockEntry, error) {
	e, ok := tx.st.entries[id]
	if !ok {
		return procurement.StockEntry{}, fmt.Errorf("%w: %d", procurement.ErrStockEntryNotFound, id)
	}
	return e, nil
}

func (tx *Tx) UpdateStockEntry(ctx context.Context, e procurement.StockEntry) error {
	if _, ok := tx.st.entries[e.ID]; !ok {
		return fmt.Errorf("%w: %d", procurement.ErrStockEntryNotFound, e.ID)
	}
	e.Items = nil
	tx.st.entries[e.ID] = e
	return nil
}

func (tx *Tx) ListStockEntryItems(ctx context.Context, entryID int64) ([]procurement.EntryItem, error) {
	var out []procurement.EntryItem
	for _, it := range tx.st.entryItems {
		if it.EntryID == entryID && !it.IsDeleted {
			out = append(out, it)
		}
	}
	return out, nil
}

func (tx *Tx) InsertStockEntryItems(ctx context.Context, entryID int64, items []procurement.EntryItem) ([]procurement.EntryItem, error) {
	out := make([]procurement.EntryItem, 0, len(items))
	for _, it := range items {
		it.ID = tx.st.id()
		it.EntryID = entryID
		tx.st.entryItems = append(tx.st.entryItems, it)
		out = append(out, it)
	}
	return out, nil
}

func (tx *Tx) SoftDeleteStockEntryItems(ctx context.Context, entryID int64) error {
	for i := range tx.st.entryItems {
		if tx.st.entryItems[i].EntryID == entryID {
			tx.st.entryItems[i].IsDeleted = true
		}
	}
	return nil
}

func balanceOf(o orders.Order) payments.OrderBalance {
	return payments.OrderBalance{
		OrderID:   o.ID,
		Code:      o.Code,
		Status:    o.Status,
		Total:     o.TotalAmount,
		Discount:  o.DiscountAmount,
		Paid:      o.PaidAmount,
		IsDeleted: o.IsDeleted,
	}
}
