package procurement

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Handler manages stock entry endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers stock entry routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/stock-entries", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleShow)
		r.Post("/{id}/status", h.handleStatus)
		r.Put("/{id}/items", h.handleContent)
		r.Post("/{id}/deactivate", h.handleToggle(h.service.Deactivate))
		r.Post("/{id}/activate", h.handleToggle(h.service.Activate))
	})
}

type listResponse struct {
	Entries []View            `json:"stock_entries"`
	Page    shared.Pagination `json:"page"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		IncludeDeleted: q.Get("include_deleted") == "true",
		SortBy:         q.Get("sort"),
		SortDir:        q.Get("dir"),
	}
	if raw := q.Get("status"); raw != "" {
		status, err := ParseEntryStatus(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Status = &status
	}
	if raw := q.Get("supplier_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filter.SupplierID = &id
		}
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	views, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Entries: views, Page: shared.NewPagination(filter.Limit, filter.Offset, total)})
}

func (h *Handler) handleShow(w http.ResponseWriter, r *http.Request) {
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

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
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

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
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

func (h *Handler) handleContent(w http.ResponseWriter, r *http.Request) {
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

func (h *Handler) handleToggle(op func(ctx context.Context, id int64, actor shared.Actor) (View, error)) http.HandlerFunc {
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
	h.logger.Warn("stock entry request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
