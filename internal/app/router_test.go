package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/inventory/areas"
	"github.com/odyssey-erp/odyssey-retail/internal/observability"
	"github.com/odyssey-erp/odyssey-retail/internal/procurement"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/orders"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/payments"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
	"github.com/odyssey-erp/odyssey-retail/internal/testing/memstore"
	"github.com/odyssey-erp/odyssey-retail/jobs"
)

func newTestRouter(t *testing.T, cfg *Config) (http.Handler, *memstore.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	metrics := observability.NewMetrics()
	ledger := inventory.NewLedger(metrics)

	pays := payments.NewService(payments.Dependencies{
		Repo:    store.Payments(),
		Gateway: memstore.NewGateway(),
		Audit:   store.Audit(),
		Logger:  logger,
	}, payments.Config{Environment: cfg.AppEnv})
	svc := &Services{
		Inventory:   inventory.NewService(store.Inventory()),
		Areas:       areas.NewService(store.Areas(), store.Audit(), logger),
		Orders:      orders.NewService(store.Orders(), ledger, pays, store.Audit(), logger),
		Payments:    pays,
		Procurement: procurement.NewService(store.Procurement(), ledger, store.Audit(), logger),
	}
	params := NewHandlers(cfg, logger, svc, RouterParams{
		JobHandler: jobs.NewHandler(nil, logger),
		Metrics:    metrics,
	})
	return NewRouter(params), store
}

func TestRouterServesProductsAndHealth(t *testing.T) {
	router, store := newTestRouter(t, &Config{AppEnv: "development"})
	id := store.AddProduct(inventory.Product{Code: "SKU-1", Name: "Tea", Unit: "pcs", Price: decimal.NewFromInt(5), OnHand: 3})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products/"+strconv.FormatInt(id, 10), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	var product inventory.Product
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &product))
	require.Equal(t, "SKU-1", product.Code)
	require.Equal(t, 3, product.OnHand)

	for _, path := range []string{"/healthz", "/jobs/health", "/metrics"} {
		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rr.Code, path)
	}
	require.Contains(t, rr.Body.String(), "http_requests_total")
}

func TestRouterProblemResponses(t *testing.T) {
	router, _ := newTestRouter(t, &Config{AppEnv: "development"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products/999", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products/abc", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouterRateLimitsByClient(t *testing.T) {
	router, _ := newTestRouter(t, &Config{AppEnv: "development", RateLimitPerMin: 2})

	codes := make([]int, 0, 3)
	for range 3 {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		codes = append(codes, rr.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestActorMiddlewareResolvesActor(t *testing.T) {
	var (
		got shared.Actor
		ok  bool
	)
	handler := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	req.Header.Set(ActorHeader, " clerk-7 ")
	req.Header.Set("User-Agent", "pos/1.0")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, ok)
	require.Equal(t, shared.Actor{ID: "clerk-7", IP: "10.0.0.7", UserAgent: "pos/1.0"}, got)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/orders", nil))
	require.False(t, ok)
}

func TestMutationWithoutActorIsUnauthorized(t *testing.T) {
	router, _ := newTestRouter(t, &Config{AppEnv: "development"})
	body := `{"from_area_id":1,"to_area_id":2,"product_id":1,"quantity":1}`
	req := httptest.NewRequest(http.MethodPost, "/warehouse-areas/transfers", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	router, store := newTestRouter(t, &Config{AppEnv: "development"})
	productID := store.AddProduct(inventory.Product{Code: "SKU-9", Name: "Soap", Unit: "pcs", Price: decimal.NewFromInt(4), OnHand: 10})

	body := `{"items":[{"product_id":` + strconv.FormatInt(productID, 10) + `,"quantity":3}],"payment_method":"CASH","create_payment":true}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req.Header.Set(ActorHeader, "clerk-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var view orders.View
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	require.Equal(t, "PAID", string(view.Status))
	require.True(t, view.FullyPaid)
	require.Equal(t, 7, store.Product(productID).OnHand)

	req = httptest.NewRequest(http.MethodPost, "/orders/"+strconv.FormatInt(view.ID, 10)+"/cancel", nil)
	req.Header.Set(ActorHeader, "clerk-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, 10, store.Product(productID).OnHand)
	require.Equal(t, 10, store.LedgerSum(productID))
}
