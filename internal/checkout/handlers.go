package checkout

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/oakmart/backend-store/internal/common"
)

// Handler exposes the checkout endpoint.
type Handler struct {
	Svc *Service
}

// Checkout handles POST /api/v1/checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "checkout service not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, common.CodeAuthRequired, "authentication required", nil)
		return
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, common.CodeAuthRequired, "authentication required", nil)
		return
	}
	var payload Input
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "invalid payload", nil)
			return
		}
	}
	out, err := h.Svc.Create(r.Context(), uid, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEmptyCart):
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeValidationFailed, "cart is empty", nil)
	case errors.Is(err, ErrInvalidDelivery):
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "invalid delivery method", nil)
	default:
		var appErr *common.AppError
		if errors.As(err, &appErr) {
			status := appErr.HTTPStatus
			if status == 0 {
				status = http.StatusInternalServerError
			}
			common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodePersistenceFailure, "could not create order", nil)
	}
}
