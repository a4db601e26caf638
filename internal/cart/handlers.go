package cart

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/oakmart/backend-store/internal/common"
	"github.com/oakmart/backend-store/internal/promotion"
)

// Handler wires the cart service to HTTP. Every endpoint requires an
// authenticated user; the cart is addressed implicitly by the caller.
type Handler struct {
	Svc *Service
}

// Get handles GET /api/v1/cart.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	method := strings.TrimSpace(r.URL.Query().Get("delivery_method"))
	priced, err := h.Svc.PriceCart(r.Context(), userID, method)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": priced})
}

// AddItem handles POST /api/v1/cart/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var payload struct {
		ProductID string `json:"product_id"`
		Qty       int32  `json:"qty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "invalid payload", nil)
		return
	}
	productID, err := uuid.Parse(strings.TrimSpace(payload.ProductID))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "product_id must be a valid uuid", nil)
		return
	}
	priced, err := h.Svc.AddLine(r.Context(), userID, productID, payload.Qty)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": priced})
}

// UpdateItem handles PATCH /api/v1/cart/items/{productID}. A quantity of
// zero removes the line.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	productID, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "invalid product id", nil)
		return
	}
	var payload struct {
		Qty int32 `json:"qty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "invalid payload", nil)
		return
	}
	priced, err := h.Svc.UpdateLine(r.Context(), userID, productID, payload.Qty)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": priced})
}

// RemoveItem handles DELETE /api/v1/cart/items/{productID}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	productID, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "invalid product id", nil)
		return
	}
	priced, err := h.Svc.RemoveLine(r.Context(), userID, productID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": priced})
}

// ApplyPromotion handles POST /api/v1/cart/promotion.
func (h *Handler) ApplyPromotion(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "invalid payload", nil)
		return
	}
	code := strings.TrimSpace(payload.Code)
	if code == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "code is required", nil)
		return
	}
	priced, err := h.Svc.ApplyPromotionCode(r.Context(), userID, code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": priced})
}

// RemovePromotion handles DELETE /api/v1/cart/promotion.
func (h *Handler) RemovePromotion(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	priced, err := h.Svc.RemovePromotion(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": priced})
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "cart service not configured", nil)
		return uuid.Nil, false
	}
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

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidQty):
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "quantity out of range", nil)
	case errors.Is(err, ErrProductNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeProductNotFound, "product not found", nil)
	case errors.Is(err, ErrProductInactive):
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeProductInactive, "product is not purchasable", nil)
	case errors.Is(err, ErrItemNotInCart):
		common.JSONError(w, http.StatusNotFound, common.CodeItemNotInCart, "item not in cart", nil)
	case errors.Is(err, promotion.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodePromotionNotFound, "promotion code not found", nil)
	case errors.Is(err, promotion.ErrInactive),
		errors.Is(err, promotion.ErrNotStarted),
		errors.Is(err, promotion.ErrExpired),
		errors.Is(err, promotion.ErrUsageLimitReached),
		errors.Is(err, promotion.ErrPerCustomerLimitReached):
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodePromotionInactive, err.Error(), nil)
	case errors.Is(err, promotion.ErrMinimumPurchaseUnmet),
		errors.Is(err, promotion.ErrMinimumQuantityUnmet),
		errors.Is(err, promotion.ErrNoEligibleLines),
		errors.Is(err, promotion.ErrCustomerNotAssigned):
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodePromotionNotApplicable, err.Error(), nil)
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
		common.JSONError(w, http.StatusInternalServerError, common.CodePersistenceFailure, "could not complete cart operation", nil)
	}
}
