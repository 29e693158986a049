package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/inventory/areas"
	"github.com/odyssey-erp/odyssey-retail/internal/observability"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/procurement"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/orders"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/payments"
	"github.com/odyssey-erp/odyssey-retail/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	InventoryHandler   *inventory.Handler
	AreasHandler       *areas.Handler
	OrdersHandler      *orders.Handler
	PaymentsHandler    *payments.Handler
	ProcurementHandler *procurement.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.Method+" "+r.URL.Path)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if params.InventoryHandler != nil {
		params.InventoryHandler.MountRoutes(r)
	}
	if params.AreasHandler != nil {
		params.AreasHandler.MountRoutes(r)
	}
	if params.OrdersHandler != nil {
		params.OrdersHandler.MountRoutes(r)
	}
	if params.PaymentsHandler != nil {
		params.PaymentsHandler.MountRoutes(r)
	}
	if params.ProcurementHandler != nil {
		params.ProcurementHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

// NewHandlers builds the HTTP handlers for the services.
func NewHandlers(cfg *Config, logger *slog.Logger, svc *Services, params RouterParams) RouterParams {
	params.Logger = logger
	params.Config = cfg
	params.InventoryHandler = inventory.NewHandler(logger, svc.Inventory)
	params.AreasHandler = areas.NewHandler(logger, svc.Areas)
	params.OrdersHandler = orders.NewHandler(logger, svc.Orders)
	params.PaymentsHandler = payments.NewHandler(logger, svc.Payments, !cfg.IsProduction())
	params.ProcurementHandler = procurement.NewHandler(logger, svc.Procurement)
	return params
}
