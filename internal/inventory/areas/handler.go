package areas

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Handler wires HTTP endpoints for warehouse areas.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the area handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers area routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/warehouse-areas/transfers", h.handleTransfer)
	r.Get("/warehouse-areas/{id}/inventory", h.handleAreaInventory)
	r.Get("/products/{id}/areas", h.handleProductAreas)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var input TransferInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.Actor, _ = shared.ActorFromContext(r.Context())
	result, err := h.service.Transfer(r.Context(), input)
	if err != nil {
		h.logger.Warn("warehouse transfer rejected", slog.Int64("product_id", input.ProductID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleAreaInventory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.ListByArea(r.Context(), id)
	h.respondRows(w, rows, err)
}

func (h *Handler) handleProductAreas(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.ListByProduct(r.Context(), id)
	h.respondRows(w, rows, err)
}

func (h *Handler) respondRows(w http.ResponseWriter, rows []Stock, err error) {
	if err != nil {
		h.logger.Error("list area inventory failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if rows == nil {
		rows = []Stock{}
	}
	httpx.JSON(w, http.StatusOK, rows)
}
