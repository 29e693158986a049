// Package memstore is an in-memory implementation of every repository port,
// sharing one state so cross-module transactions behave like a single database
// transaction: a callback error restores the state from before the callback.
package memstore

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/inventory/areas"
	"github.com/odyssey-erp/odyssey-retail/internal/procurement"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/orders"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/payments"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

type stockKey struct {
	areaID    int64
	productID int64
}

type state struct {
	nextID     int64
	products   map[int64]inventory.Product
	ledger     []inventory.LedgerEntry
	customers  map[int64]bool
	suppliers  map[int64]bool
	areas      map[int64]areas.Area
	areaStock  map[stockKey]areas.Stock
	orders     map[int64]orders.Order
	orderItems []orders.Item
	entries    map[int64]procurement.StockEntry
	entryItems []procurement.EntryItem
	payments   map[int64]payments.Payment
}

func newState() *state {
	return &state{
		products:  make(map[int64]inventory.Product),
		customers: make(map[int64]bool),
		suppliers: make(map[int64]bool),
		areas:     make(map[int64]areas.Area),
		areaStock: make(map[stockKey]areas.Stock),
		orders:    make(map[int64]orders.Order),
		entries:   make(map[int64]procurement.StockEntry),
		payments:  make(map[int64]payments.Payment),
	}
}

func (s *state) clone() *state {
	return &state{
		nextID:     s.nextID,
		products:   maps.Clone(s.products),
		ledger:     slices.Clone(s.ledger),
		customers:  maps.Clone(s.customers),
		suppliers:  maps.Clone(s.suppliers),
		areas:      maps.Clone(s.areas),
		areaStock:  maps.Clone(s.areaStock),
		orders:     maps.Clone(s.orders),
		orderItems: slices.Clone(s.orderItems),
		entries:    maps.Clone(s.entries),
		entryItems: slices.Clone(s.entryItems),
		payments:   maps.Clone(s.payments),
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store holds the shared state. The zero value is not usable; call New.
type Store struct {
	mu    sync.Mutex
	st    *state
	audit []shared.AuditEntry

	// AuditErr, when set, is returned by the audit recorder instead of storing the entry.
	AuditErr error
	// FailLedgerFor makes InsertLedgerEntry fail for the given product id.
	FailLedgerFor int64
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) withTx(fn func(*Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(&Tx{st: s.st, failLedgerFor: s.FailLedgerFor}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) read(fn func(*Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Tx{st: s.st})
}

// AddProduct seeds a product. Its on-hand is booked as an OPENING ledger row so
// the ledger invariant holds from the start.
func (s *Store) AddProduct(p inventory.Product) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.st.id()
	} else if p.ID > s.st.nextID {
		s.st.nextID = p.ID
	}
	if p.Code == "" {
		p.Code = "P-" + strconv.FormatInt(p.ID, 10)
	}
	s.st.products[p.ID] = p
	if p.OnHand != 0 {
		s.st.ledger = append(s.st.ledger, inventory.LedgerEntry{
			ID:        s.st.id(),
			ProductID: p.ID,
			Quantity:  p.OnHand,
			Reason:    inventory.ReasonOpening,
			RefModule: "products",
			RefID:     p.ID,
			ActorID:   shared.SystemActorID,
			CreatedAt: time.Now().UTC(),
		})
	}
	return p.ID
}

// DeleteProduct tombstones a product.
func (s *Store) DeleteProduct(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.st.products[id]
	p.IsDeleted = true
	s.st.products[id] = p
}

// SetOnHand overwrites on-hand without a ledger row, simulating drift.
func (s *Store) SetOnHand(id int64, onHand int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.st.products[id]
	p.OnHand = onHand
	s.st.products[id] = p
}

// AddCustomer seeds an active customer.
func (s *Store) AddCustomer() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.st.id()
	s.st.customers[id] = false
	return id
}

// AddSupplier seeds an active supplier.
func (s *Store) AddSupplier() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.st.id()
	s.st.suppliers[id] = false
	return id
}

// AddArea seeds an active warehouse area.
func (s *Store) AddArea(code string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.st.id()
	s.st.areas[id] = areas.Area{ID: id, Code: code, Name: code}
	return id
}

// DeleteArea tombstones an area.
func (s *Store) DeleteArea(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.st.areas[id]
	a.IsDeleted = true
	s.st.areas[id] = a
}

// SetAreaStock seeds the quantity of a product in an area.
func (s *Store) SetAreaStock(areaID, productID int64, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stockKey{areaID, productID}
	row, ok := s.st.areaStock[key]
	if !ok {
		row = areas.Stock{ID: s.st.id(), AreaID: areaID, ProductID: productID}
	}
	row.Quantity = quantity
	row.IsDeleted = quantity == 0
	row.UpdatedAt = time.Now().UTC()
	s.st.areaStock[key] = row
}

// Product returns the stored product.
func (s *Store) Product(id int64) inventory.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.products[id]
}

// LedgerSum returns the sum of the product's ledger rows.
func (s *Store) LedgerSum(productID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := 0
	for _, e := range s.st.ledger {
		if e.ProductID == productID {
			sum += e.Quantity
		}
	}
	return sum
}

// Ledger returns the product's ledger rows in insertion order.
func (s *Store) Ledger(productID int64) []inventory.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.LedgerEntry
	for _, e := range s.st.ledger {
		if e.ProductID == productID {
			out = append(out, e)
		}
	}
	return out
}

// AreaStock returns the stored row for an area and product, and whether it exists.
func (s *Store) AreaStock(areaID, productID int64) (areas.Stock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.st.areaStock[stockKey{areaID, productID}]
	return row, ok
}

// Order returns the stored order without items.
func (s *Store) Order(id int64) orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.orders[id]
}

// Payment returns the stored payment.
func (s *Store) Payment(id int64) payments.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.payments[id]
}

// AuditEntries returns recorded audit entries in order.
func (s *Store) AuditEntries() []shared.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.audit)
}

// Audit returns a recorder appending to the store.
func (s *Store) Audit() shared.AuditRecorder {
	return auditRecorder{s}
}

type auditRecorder struct{ s *Store }

func (a auditRecorder) Record(ctx context.Context, entry shared.AuditEntry) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if a.s.AuditErr != nil {
		return a.s.AuditErr
	}
	a.s.audit = append(a.s.audit, entry)
	return nil
}
