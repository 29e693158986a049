package procurement_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/inventory/areas"
	"github.com/odyssey-erp/odyssey-retail/internal/procurement"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
	"github.com/odyssey-erp/odyssey-retail/internal/testing/memstore"
)

var receiver = shared.Actor{ID: "receiver-2"}

type fixture struct {
	store *memstore.Store
	svc   *procurement.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{store: store, svc: procurement.NewService(store.Procurement(), inventory.NewLedger(nil), store.Audit(), logger)}
}

func (f *fixture) product(onHand int) int64 {
	return f.store.AddProduct(inventory.Product{Name: "crate", Price: decimal.NewFromInt(900), Unit: "box", OnHand: onHand})
}

func ptr[T any](v T) *T { return &v }

func cost(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestCreateReceivesStockIntoProductsAndAreas(t *testing.T) {
	f := newFixture(t)
	supplier := f.store.AddSupplier()
	p1 := f.product(0)
	p2 := f.product(3)
	area := f.store.AddArea("RACK-1")

	view, err := f.svc.Create(context.Background(), procurement.CreateInput{
		SupplierID: &supplier,
		Note:       "  weekly delivery ",
		Items: []procurement.ItemInput{
			{ProductID: p1, AreaID: &area, Quantity: 10, UnitCost: cost(200)},
			{ProductID: p2, Quantity: 4, UnitCost: cost(50)},
		},
		Actor: receiver,
	})
	require.NoError(t, err)
	require.Equal(t, procurement.EntryStatusPending, view.Status)
	require.Regexp(t, `^SE-\d{8}-[0-9A-F]{8}$`, view.Code)
	require.Equal(t, "weekly delivery", view.Note)
	require.True(t, view.TotalCost.Equal(cost(2200)))
	require.Len(t, view.Items, 2)
	require.True(t, view.Actions.CanEditContent)
	require.True(t, view.Actions.CanComplete)

	require.Equal(t, 10, f.store.Product(p1).OnHand)
	require.Equal(t, 7, f.store.Product(p2).OnHand)
	require.Equal(t, f.store.Product(p1).OnHand, f.store.LedgerSum(p1))
	require.Equal(t, f.store.Product(p2).OnHand, f.store.LedgerSum(p2))
	ledger := f.store.Ledger(p1)
	require.Equal(t, inventory.ReasonReceipt, ledger[len(ledger)-1].Reason)
	require.Equal(t, "stock_entries", ledger[len(ledger)-1].RefModule)

	row, ok := f.store.AreaStock(area, p1)
	require.True(t, ok)
	require.Equal(t, 10, row.Quantity)
	_, ok = f.store.AreaStock(area, p2)
	require.False(t, ok)

	got, err := f.svc.Get(context.Background(), view.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
}

func TestCreateValidatesReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(0)
	gone := f.store.AddArea("OLD")
	f.store.DeleteArea(gone)
	deleted := f.product(0)
	f.store.DeleteProduct(deleted)

	cases := []struct {
		name  string
		input procurement.CreateInput
		want  error
	}{
		{"no items", procurement.CreateInput{Actor: receiver}, shared.ErrValidation},
		{"no actor", procurement.CreateInput{Items: []procurement.ItemInput{{ProductID: p, Quantity: 1}}}, shared.ErrUnauthorized},
		{"zero quantity", procurement.CreateInput{Items: []procurement.ItemInput{{ProductID: p, Quantity: 0}}, Actor: receiver}, shared.ErrValidation},
		{"negative cost", procurement.CreateInput{Items: []procurement.ItemInput{{ProductID: p, Quantity: 1, UnitCost: cost(-1)}}, Actor: receiver}, shared.ErrValidation},
		{"unknown supplier", procurement.CreateInput{SupplierID: ptr(int64(777)), Items: []procurement.ItemInput{{ProductID: p, Quantity: 1}}, Actor: receiver}, procurement.ErrSupplierNotFound},
		{"deleted area", procurement.CreateInput{Items: []procurement.ItemInput{{ProductID: p, AreaID: &gone, Quantity: 1}}, Actor: receiver}, areas.ErrAreaNotFound},
		{"deleted product", procurement.CreateInput{Items: []procurement.ItemInput{{ProductID: deleted, Quantity: 1}}, Actor: receiver}, inventory.ErrProductNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tc.input)
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Zero(t, f.store.Product(p).OnHand)
	require.Empty(t, f.store.AuditEntries())
}

func TestCompleteKeepsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(0)
	entry, err := f.svc.Create(ctx, procurement.CreateInput{Items: []procurement.ItemInput{{ProductID: p, Quantity: 6}}, Actor: receiver})
	require.NoError(t, err)

	done, err := f.svc.UpdateStatus(ctx, entry.ID, procurement.StatusInput{Status: "completed", Actor: receiver})
	require.NoError(t, err)
	require.Equal(t, procurement.EntryStatusCompleted, done.Status)
	require.False(t, done.Actions.CanEditContent)
	require.False(t, done.Actions.CanCancel)
	require.Equal(t, 6, f.store.Product(p).OnHand)

	_, err = f.svc.UpdateStatus(ctx, entry.ID, procurement.StatusInput{Status: "CANCELLED", Actor: receiver})
	require.ErrorIs(t, err, procurement.ErrInvalidTransition)
	_, err = f.svc.UpdateStatus(ctx, entry.ID, procurement.StatusInput{Status: "SHIPPED", Actor: receiver})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.UpdateContent(ctx, entry.ID, procurement.ContentInput{Items: []procurement.ItemInput{{ProductID: p, Quantity: 1}}, Actor: receiver})
	require.ErrorIs(t, err, procurement.ErrNotEditable)
}

func TestCancelRollsBackReceivedStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(2)
	area := f.store.AddArea("A")
	entry, err := f.svc.Create(ctx, procurement.CreateInput{
		Items: []procurement.ItemInput{{ProductID: p, AreaID: &area, Quantity: 8, UnitCost: cost(10)}},
		Actor: receiver,
	})
	require.NoError(t, err)
	require.Equal(t, 10, f.store.Product(p).OnHand)

	cancelled, err := f.svc.UpdateStatus(ctx, entry.ID, procurement.StatusInput{Status: "CANCELLED", Actor: receiver})
	require.NoError(t, err)
	require.Equal(t, procurement.EntryStatusCancelled, cancelled.Status)
	require.Equal(t, 2, f.store.Product(p).OnHand)
	require.Equal(t, f.store.Product(p).OnHand, f.store.LedgerSum(p))
	row, _ := f.store.AreaStock(area, p)
	require.Zero(t, row.Quantity)
	require.True(t, row.IsDeleted)

	ledger := f.store.Ledger(p)
	last := ledger[len(ledger)-1]
	require.Equal(t, inventory.ReasonReceiptCancel, last.Reason)
	require.Equal(t, -8, last.Quantity)
}

func TestCancelClampsConsumedStockAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(0)
	a := f.store.AddArea("A")
	entry, err := f.svc.Create(ctx, procurement.CreateInput{
		Items: []procurement.ItemInput{{ProductID: p, AreaID: &a, Quantity: 10}},
		Actor: receiver,
	})
	require.NoError(t, err)

	// Part of the receipt was sold and moved before the cancel.
	f.store.SetOnHand(p, 4)
	f.store.SetAreaStock(a, p, 3)

	_, err = f.svc.UpdateStatus(ctx, entry.ID, procurement.StatusInput{Status: "CANCELLED", Actor: receiver})
	require.NoError(t, err)
	require.Zero(t, f.store.Product(p).OnHand)
	row, _ := f.store.AreaStock(a, p)
	require.Zero(t, row.Quantity)

	ledger := f.store.Ledger(p)
	require.Equal(t, -4, ledger[len(ledger)-1].Quantity)
}

func TestUpdateContentNetsAreaDeltas(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(0)
	q := f.product(0)
	a := f.store.AddArea("A")
	b := f.store.AddArea("B")
	supplier := f.store.AddSupplier()

	entry, err := f.svc.Create(ctx, procurement.CreateInput{
		Items: []procurement.ItemInput{
			{ProductID: p, AreaID: &a, Quantity: 5, UnitCost: cost(10)},
			{ProductID: q, AreaID: &a, Quantity: 2, UnitCost: cost(30)},
		},
		Actor: receiver,
	})
	require.NoError(t, err)
	// Some of p already left area A; netting must not try to remove all 5 first.
	f.store.SetAreaStock(a, p, 4)

	edited, err := f.svc.UpdateContent(ctx, entry.ID, procurement.ContentInput{
		SupplierID: &supplier,
		Note:       ptr("recounted"),
		Items: []procurement.ItemInput{
			{ProductID: p, AreaID: &a, Quantity: 7, UnitCost: cost(10)},
			{ProductID: q, AreaID: &b, Quantity: 2, UnitCost: cost(30)},
		},
		Actor: receiver,
	})
	require.NoError(t, err)
	require.Equal(t, supplier, *edited.SupplierID)
	require.Equal(t, "recounted", edited.Note)
	require.True(t, edited.TotalCost.Equal(cost(130)))
	require.Len(t, edited.Items, 2)

	require.Equal(t, 7, f.store.Product(p).OnHand)
	require.Equal(t, 2, f.store.Product(q).OnHand)
	require.Equal(t, f.store.Product(p).OnHand, f.store.LedgerSum(p))
	require.Equal(t, f.store.Product(q).OnHand, f.store.LedgerSum(q))
	ledgerQ := f.store.Ledger(q)
	require.Len(t, ledgerQ, 1)

	rowPA, _ := f.store.AreaStock(a, p)
	require.Equal(t, 6, rowPA.Quantity)
	rowQA, _ := f.store.AreaStock(a, q)
	require.True(t, rowQA.IsDeleted)
	rowQB, _ := f.store.AreaStock(b, q)
	require.Equal(t, 2, rowQB.Quantity)

	got, err := f.svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
}

func TestUpdateContentConflictRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(0)
	entry, err := f.svc.Create(ctx, procurement.CreateInput{
		Items: []procurement.ItemInput{{ProductID: p, Quantity: 10, UnitCost: cost(5)}},
		Actor: receiver,
	})
	require.NoError(t, err)
	f.store.SetOnHand(p, 3)
	ledgerBefore := len(f.store.Ledger(p))

	_, err = f.svc.UpdateContent(ctx, entry.ID, procurement.ContentInput{
		Items: []procurement.ItemInput{{ProductID: p, Quantity: 2, UnitCost: cost(5)}},
		Actor: receiver,
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.True(t, errors.Is(err, shared.ErrConflict))
	require.Equal(t, 3, f.store.Product(p).OnHand)
	require.Len(t, f.store.Ledger(p), ledgerBefore)

	got, err := f.svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, 10, got.Items[0].Quantity)
}

func TestToggleAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(0)
	supplier := f.store.AddSupplier()

	first, err := f.svc.Create(ctx, procurement.CreateInput{SupplierID: &supplier, Items: []procurement.ItemInput{{ProductID: p, Quantity: 1}}, Actor: receiver})
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, procurement.CreateInput{Items: []procurement.ItemInput{{ProductID: p, Quantity: 2}}, Actor: receiver})
	require.NoError(t, err)

	off, err := f.svc.Deactivate(ctx, first.ID, receiver)
	require.NoError(t, err)
	require.True(t, off.IsDeleted)
	require.True(t, off.Actions.CanActivate)
	require.Equal(t, 3, f.store.Product(p).OnHand)

	_, err = f.svc.Deactivate(ctx, first.ID, receiver)
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = f.svc.UpdateStatus(ctx, first.ID, procurement.StatusInput{Status: "COMPLETED", Actor: receiver})
	require.ErrorIs(t, err, procurement.ErrStockEntryNotFound)

	list, total, err := f.svc.List(ctx, procurement.ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, second.ID, list[0].ID)

	_, total, err = f.svc.List(ctx, procurement.ListFilter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	_, err = f.svc.Activate(ctx, first.ID, receiver)
	require.NoError(t, err)
	bySupplier, total, err := f.svc.List(ctx, procurement.ListFilter{SupplierID: &supplier})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, first.ID, bySupplier[0].ID)

	pending := procurement.EntryStatusPending
	_, total, err = f.svc.List(ctx, procurement.ListFilter{Status: &pending})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	actions := map[string]int{}
	for _, e := range f.store.AuditEntries() {
		actions[e.Action]++
	}
	require.Equal(t, 2, actions["stock_entry.create"])
	require.Equal(t, 1, actions["stock_entry.deactivate"])
	require.Equal(t, 1, actions["stock_entry.activate"])
}
