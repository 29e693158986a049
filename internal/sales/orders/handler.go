package orders

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	sales "github.com/odyssey-erp/odyssey-retail/internal/sales/shared"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Handler wires HTTP endpoints for sales orders.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the orders handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

type listResponse struct {
	Orders []View            `json:"orders"`
	Page   shared.Pagination `json:"page"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{IncludeDeleted: q.Get("include_deleted") == "true"}
	if raw := q.Get("status"); raw != "" {
		status, err := sales.ParseOrderStatus(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Status = &status
	}
	if raw := q.Get("customer_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filter.CustomerID = &id
		}
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	views, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Orders: views, Page: shared.NewPagination(filter.Limit, filter.Offset, total)})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	view, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.Actor, _ = shared.ActorFromContext(r.Context())
	view, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, view)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var patch Patch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.RespondError(w, err)
		return
	}
	patch.Actor, _ = shared.ActorFromContext(r.Context())
	view, err := h.service.Update(r.Context(), id, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in StatusInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.Actor, _ = shared.ActorFromContext(r.Context())
	view, err := h.service.UpdateStatus(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in ContentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.Actor, _ = shared.ActorFromContext(r.Context())
	view, err := h.service.UpdateContent(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) action(op func(ctx context.Context, id int64, actor shared.Actor) (View, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		actor, _ := shared.ActorFromContext(r.Context())
		view, err := op(r.Context(), id, actor)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, view)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("order request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
