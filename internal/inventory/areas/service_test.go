package areas_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/inventory/areas"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
	"github.com/odyssey-erp/odyssey-retail/internal/testing/memstore"
)

var keeper = shared.Actor{ID: "keeper-3"}

func newService(t *testing.T) (*areas.Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return areas.NewService(store.Areas(), store.Audit(), logger), store
}

func seedProduct(store *memstore.Store, onHand int) int64 {
	return store.AddProduct(inventory.Product{Name: "bolt", Price: decimal.NewFromInt(100), Unit: "pcs", OnHand: onHand})
}

func TestTransferWholeRowTombstonesSource(t *testing.T) {
	svc, store := newService(t)
	product := seedProduct(store, 5)
	from := store.AddArea("A")
	to := store.AddArea("B")
	store.SetAreaStock(from, product, 5)

	result, err := svc.Transfer(context.Background(), areas.TransferInput{
		ProductID: product, FromAreaID: from, ToAreaID: to, Quantity: 5, Actor: keeper,
	})
	require.NoError(t, err)
	require.Zero(t, result.Source.Quantity)
	require.True(t, result.Source.IsDeleted)
	require.Equal(t, 5, result.Destination.Quantity)
	require.False(t, result.Destination.IsDeleted)

	src, ok := store.AreaStock(from, product)
	require.True(t, ok)
	require.True(t, src.IsDeleted)
	dst, ok := store.AreaStock(to, product)
	require.True(t, ok)
	require.Equal(t, 5, dst.Quantity)
	require.Equal(t, 5, store.Product(product).OnHand)
	require.Len(t, store.Ledger(product), 1)

	entries := store.AuditEntries()
	require.Len(t, entries, 1)
	require.Equal(t, "warehouse_area.transfer", entries[0].Action)
	after := entries[0].After.(areas.TransferSnapshot)
	require.Equal(t, 5, after.DestinationQuantity)
	before := entries[0].Before.(areas.TransferSnapshot)
	require.Equal(t, 5, before.SourceQuantity)
	require.Zero(t, before.DestinationQuantity)
}

func TestTransferRevivesTombstonedDestination(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	product := seedProduct(store, 10)
	a := store.AddArea("A")
	b := store.AddArea("B")
	store.SetAreaStock(a, product, 6)

	_, err := svc.Transfer(ctx, areas.TransferInput{ProductID: product, FromAreaID: a, ToAreaID: b, Quantity: 6, Actor: keeper})
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, areas.TransferInput{ProductID: product, FromAreaID: b, ToAreaID: a, Quantity: 2, Actor: keeper})
	require.NoError(t, err)

	row, _ := store.AreaStock(a, product)
	require.False(t, row.IsDeleted)
	require.Equal(t, 2, row.Quantity)

	byProduct, err := svc.ListByProduct(ctx, product)
	require.NoError(t, err)
	require.Len(t, byProduct, 2)
	byArea, err := svc.ListByArea(ctx, b)
	require.NoError(t, err)
	require.Len(t, byArea, 1)
	require.Equal(t, 4, byArea[0].Quantity)
}

func TestTransferRejections(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	product := seedProduct(store, 10)
	a := store.AddArea("A")
	b := store.AddArea("B")
	gone := store.AddArea("C")
	store.DeleteArea(gone)
	store.SetAreaStock(a, product, 3)

	cases := []struct {
		name  string
		input areas.TransferInput
		want  error
	}{
		{"same area", areas.TransferInput{ProductID: product, FromAreaID: a, ToAreaID: a, Quantity: 1, Actor: keeper}, shared.ErrValidation},
		{"zero quantity", areas.TransferInput{ProductID: product, FromAreaID: a, ToAreaID: b, Quantity: 0, Actor: keeper}, shared.ErrValidation},
		{"no actor", areas.TransferInput{ProductID: product, FromAreaID: a, ToAreaID: b, Quantity: 1}, shared.ErrUnauthorized},
		{"too much", areas.TransferInput{ProductID: product, FromAreaID: a, ToAreaID: b, Quantity: 4, Actor: keeper}, areas.ErrInsufficientAreaQuantity},
		{"empty source", areas.TransferInput{ProductID: product, FromAreaID: b, ToAreaID: a, Quantity: 1, Actor: keeper}, areas.ErrInsufficientAreaQuantity},
		{"deleted area", areas.TransferInput{ProductID: product, FromAreaID: a, ToAreaID: gone, Quantity: 1, Actor: keeper}, areas.ErrAreaNotFound},
		{"unknown product", areas.TransferInput{ProductID: 999, FromAreaID: a, ToAreaID: b, Quantity: 1, Actor: keeper}, inventory.ErrProductNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Transfer(ctx, tc.input)
			require.ErrorIs(t, err, tc.want)
		})
	}

	row, _ := store.AreaStock(a, product)
	require.Equal(t, 3, row.Quantity)
	_, ok := store.AreaStock(b, product)
	require.False(t, ok)
	require.Empty(t, store.AuditEntries())
}

func TestCheckDriftReportsAreaTotalsAboveOnHand(t *testing.T) {
	svc, store := newService(t)
	ok := seedProduct(store, 10)
	drifting := seedProduct(store, 2)
	a := store.AddArea("A")
	b := store.AddArea("B")
	store.SetAreaStock(a, ok, 4)
	store.SetAreaStock(a, drifting, 2)
	store.SetAreaStock(b, drifting, 3)

	drifts, err := svc.CheckDrift(context.Background())
	require.NoError(t, err)
	require.Equal(t, []areas.Drift{{ProductID: drifting, OnHand: 2, AreaTotal: 5}}, drifts)
}

func TestListValidatesIDs(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.ListByArea(context.Background(), 0)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.ListByProduct(context.Background(), -1)
	require.ErrorIs(t, err, shared.ErrValidation)
}
