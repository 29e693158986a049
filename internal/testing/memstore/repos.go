package memstore

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/inventory/areas"
	"github.com/odyssey-erp/odyssey-retail/internal/procurement"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/orders"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/payments"
)

// Inventory returns the inventory.RepositoryPort view of the store.
func (s *Store) Inventory() inventory.RepositoryPort { return inventoryRepo{s} }

// Areas returns the areas.RepositoryPort view of the store.
func (s *Store) Areas() areas.RepositoryPort { return areasRepo{s} }

// Orders returns the orders.RepositoryPort view of the store.
func (s *Store) Orders() orders.RepositoryPort { return ordersRepo{s} }

// Payments returns the payments.RepositoryPort view of the store.
func (s *Store) Payments() payments.RepositoryPort { return paymentsRepo{s} }

// Procurement returns the procurement.RepositoryPort view of the store.
func (s *Store) Procurement() procurement.RepositoryPort { return procurementRepo{s} }

type inventoryRepo struct{ s *Store }

func (r inventoryRepo) GetProduct(ctx context.Context, id int64) (p inventory.Product, err error) {
	r.s.read(func(tx *Tx) { p, err = tx.GetProduct(ctx, id) })
	return p, err
}

func (r inventoryRepo) ListLedger(ctx context.Context, productID int64, limit int) ([]inventory.LedgerEntry, error) {
	entries := r.s.Ledger(productID)
	slices.Reverse(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (r inventoryRepo) ListDrift(ctx context.Context) ([]inventory.Drift, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sums := make(map[int64]int)
	for _, e := range r.s.st.ledger {
		sums[e.ProductID] += e.Quantity
	}
	var drifts []inventory.Drift
	for _, id := range slices.Sorted(maps.Keys(r.s.st.products)) {
		p := r.s.st.products[id]
		if p.OnHand != sums[id] {
			drifts = append(drifts, inventory.Drift{ProductID: id, Code: p.Code, OnHand: p.OnHand, LedgerSum: sums[id]})
		}
	}
	return drifts, nil
}

type areasRepo struct{ s *Store }

func (r areasRepo) WithTx(ctx context.Context, fn func(context.Context, areas.TransferTx) error) error {
	return r.s.withTx(func(tx *Tx) error { return fn(ctx, tx) })
}

func (r areasRepo) listStock(match func(areas.Stock) bool) []areas.Stock {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []areas.Stock
	for _, row := range r.s.st.areaStock {
		if !row.IsDeleted && match(row) {
			out = append(out, row)
		}
	}
	slices.SortFunc(out, func(a, b areas.Stock) int {
		if c := cmp.Compare(a.AreaID, b.AreaID); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return out
}

func (r areasRepo) ListByArea(ctx context.Context, areaID int64) ([]areas.Stock, error) {
	return r.listStock(func(row areas.Stock) bool { return row.AreaID == areaID }), nil
}

func (r areasRepo) ListByProduct(ctx context.Context, productID int64) ([]areas.Stock, error) {
	return r.listStock(func(row areas.Stock) bool { return row.ProductID == productID }), nil
}

func (r areasRepo) ListDrift(ctx context.Context) ([]areas.Drift, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	totals := make(map[int64]int)
	for _, row := range r.s.st.areaStock {
		if !row.IsDeleted {
			totals[row.ProductID] += row.Quantity
		}
	}
	var drifts []areas.Drift
	for _, id := range slices.Sorted(maps.Keys(totals)) {
		if onHand := r.s.st.products[id].OnHand; totals[id] > onHand {
			drifts = append(drifts, areas.Drift{ProductID: id, OnHand: onHand, AreaTotal: totals[id]})
		}
	}
	return drifts, nil
}

type ordersRepo struct{ s *Store }

func (r ordersRepo) WithTx(ctx context.Context, fn func(context.Context, orders.TxRepository) error) error {
	return r.s.withTx(func(tx *Tx) error { return fn(ctx, tx) })
}

func (r ordersRepo) GetProduct(ctx context.Context, id int64) (p inventory.Product, err error) {
	r.s.read(func(tx *Tx) { p, err = tx.GetProduct(ctx, id) })
	return p, err
}

func (r ordersRepo) GetOrder(ctx context.Context, id int64) (o orders.Order, err error) {
	r.s.read(func(tx *Tx) {
		o, err = tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return
		}
		o.Items, err = tx.ListOrderItems(ctx, id)
	})
	return o, err
}

func (r ordersRepo) ListOrders(ctx context.Context, filter orders.ListFilter) ([]orders.Order, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matched []orders.Order
	for _, o := range r.s.st.orders {
		if o.IsDeleted && !filter.IncludeDeleted {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		if filter.CustomerID != nil && (o.CustomerID == nil || *o.CustomerID != *filter.CustomerID) {
			continue
		}
		matched = append(matched, o)
	}
	slices.SortFunc(matched, func(a, b orders.Order) int { return cmp.Compare(b.ID, a.ID) })
	return page(matched, filter.Offset, filter.Limit), len(matched), nil
}

type paymentsRepo struct{ s *Store }

func (r paymentsRepo) WithTx(ctx context.Context, fn func(context.Context, payments.TxRepository) error) error {
	return r.s.withTx(func(tx *Tx) error { return fn(ctx, tx) })
}

func (r paymentsRepo) GetOrderBalance(ctx context.Context, orderID int64) (b payments.OrderBalance, err error) {
	r.s.read(func(tx *Tx) { b, err = tx.GetOrderBalanceForUpdate(ctx, orderID) })
	return b, err
}

func (r paymentsRepo) GetPaymentByRef(ctx context.Context, ref string) (p payments.Payment, err error) {
	r.s.read(func(tx *Tx) { p, err = tx.GetPaymentByRefForUpdate(ctx, ref) })
	return p, err
}

func (r paymentsRepo) ListByOrder(ctx context.Context, orderID int64) ([]payments.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []payments.Payment
	for _, p := range sortedPayments(r.s.st.payments) {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r paymentsRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]payments.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []payments.Payment
	for _, p := range sortedPayments(r.s.st.payments) {
		if !p.IsDeleted && p.Expired(before) {
			out = append(out, p)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type procurementRepo struct{ s *Store }

func (r procurementRepo) WithTx(ctx context.Context, fn func(context.Context, procurement.TxRepository) error) error {
	return r.s.withTx(func(tx *Tx) error { return fn(ctx, tx) })
}

func (r procurementRepo) GetStockEntry(ctx context.Context, id int64) (e procurement.StockEntry, err error) {
	r.s.read(func(tx *Tx) {
		e, err = tx.GetStockEntryForUpdate(ctx, id)
		if err != nil {
			return
		}
		e.Items, err = tx.ListStockEntryItems(ctx, id)
	})
	return e, err
}

func (r procurementRepo) ListStockEntries(ctx context.Context, filter procurement.ListFilter) ([]procurement.StockEntry, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matched []procurement.StockEntry
	for _, e := range r.s.st.entries {
		if e.IsDeleted && !filter.IncludeDeleted {
			continue
		}
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		if filter.SupplierID != nil && (e.SupplierID == nil || *e.SupplierID != *filter.SupplierID) {
			continue
		}
		matched = append(matched, e)
	}
	slices.SortFunc(matched, func(a, b procurement.StockEntry) int { return cmp.Compare(b.ID, a.ID) })
	return page(matched, filter.Offset, filter.Limit), len(matched), nil
}

func sortedPayments(all map[int64]payments.Payment) []payments.Payment {
	out := make([]payments.Payment, 0, len(all))
	for _, id := range slices.Sorted(maps.Keys(all)) {
		out = append(out, all[id])
	}
	return out
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
