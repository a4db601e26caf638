package order

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/oakmart/backend-store/internal/common"
	"github.com/oakmart/backend-store/internal/repo"
)

// AdminHandler provides administrative order management endpoints.
type AdminHandler struct {
	Orders repo.Orders
}

type patchStatusRequest struct {
	Status string `json:"status"`
}

// PatchStatus updates the order status. Only forward transitions from
// pending are accepted.
func (h *AdminHandler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "invalid order id", nil)
		return
	}
	var req patchStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "invalid payload", nil)
		return
	}
	switch req.Status {
	case repo.OrderStatusCompleted, repo.OrderStatusCancelled:
	default:
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "unsupported status", nil)
		return
	}
	current, err := h.Orders.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodePersistenceFailure, "failed to load order", nil)
		return
	}
	if current.Status != repo.OrderStatusPending {
		common.JSONError(w, http.StatusConflict, "INVALID_STATE", "only pending orders can transition", nil)
		return
	}
	if err := h.Orders.SetStatus(r.Context(), orderID, req.Status); err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodePersistenceFailure, "failed to update order status", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
