package payments

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Handler wires HTTP endpoints for payments.
type Handler struct {
	logger          *slog.Logger
	service         *Service
	allowSimulation bool
}

// NewHandler constructs the payments handler. allowSimulation mounts the
// simulate-success endpoint and must be false in production.
func NewHandler(logger *slog.Logger, service *Service, allowSimulation bool) *Handler {
	return &Handler{logger: logger, service: service, allowSimulation: allowSimulation}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Post("/qr", h.handleCreateQR)
		r.Post("/qr/callback", h.handleCallback)
		r.Get("/qr/{ref}/verify", h.handleVerify)
		r.Patch("/{id}", h.handleUpdate)
		r.Post("/{id}/deactivate", h.handleToggle(h.service.Deactivate))
		r.Post("/{id}/activate", h.handleToggle(h.service.Activate))
		if h.allowSimulation {
			r.Post("/{id}/simulate-success", h.handleSimulate)
		}
	})
}

type callbackRequest struct {
	TransactionRef string `json:"transaction_ref" validate:"required"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	orderID, _ := strconv.ParseInt(r.URL.Query().Get("order_id"), 10, 64)
	list, err := h.service.ListByOrder(r.Context(), orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []Payment{}
	}
	httpx.JSON(w, http.StatusOK, list)
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

func (h *Handler) handleCreateQR(w http.ResponseWriter, r *http.Request) {
	var in CreateQRInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.Actor, _ = shared.ActorFromContext(r.Context())
	view, err := h.service.CreateQR(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, view)
}

// handleCallback re-verifies with the gateway; the callback body is only a hint.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed callback body")
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	view, err := h.service.Verify(r.Context(), req.TransactionRef, shared.SystemActor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	view, err := h.service.Verify(r.Context(), chi.URLParam(r, "ref"), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in UpdateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.ID = id
	in.Actor, _ = shared.ActorFromContext(r.Context())
	view, err := h.service.Update(r.Context(), in)
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

func (h *Handler) handleSimulate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	view, err := h.service.SimulateSuccess(r.Context(), id, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("payment request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
