package order

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/oakmart/backend-store/internal/common"
	"github.com/oakmart/backend-store/internal/repo"
)

// Handler exposes the authenticated order history endpoints.
type Handler struct {
	Orders repo.Orders
}

// List handles GET /api/v1/orders.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	if perPage > 100 {
		perPage = 100
	}
	offset := int32((page - 1) * perPage)
	orders, err := h.Orders.ListByUser(r.Context(), userID, int32(perPage), offset)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodePersistenceFailure, "failed to list orders", nil)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(len(orders)))
	common.JSON(w, http.StatusOK, map[string]any{
		"data": orders,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: len(orders),
		},
	})
}

// Get handles GET /api/v1/orders/{orderID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "invalid order id", nil)
		return
	}
	ord, err := h.Orders.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodePersistenceFailure, "failed to load order", nil)
		return
	}
	if ord.UserID != userID {
		common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
		return
	}
	lines, err := h.Orders.ListLines(r.Context(), ord.ID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodePersistenceFailure, "failed to load order lines", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"order": ord,
			"lines": lines,
		},
	})
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw, ok := common.UserID(r.Context())
	if !ok || raw == "" {
		common.JSONError(w, http.StatusUnauthorized, common.CodeAuthRequired, "authentication required", nil)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, common.CodeAuthRequired, "authentication required", nil)
		return uuid.Nil, false
	}
	return id, true
}
