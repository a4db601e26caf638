package promotion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oakmart/backend-store/internal/common"
)

// AdminStore captures the persistence surface of the admin endpoints.
type AdminStore interface {
	Create(ctx context.Context, rule Rule) (Rule, error)
	List(ctx context.Context, limit, offset int32) ([]Rule, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	CreateCode(ctx context.Context, pc Code) (Code, error)
}

// Handler exposes administrative promotion management endpoints.
type Handler struct {
	Promotions AdminStore
	Validate   *validator.Validate
}

type rulePayload struct {
	Name                string     `json:"name" validate:"required,min=2,max=120"`
	Kind                string     `json:"kind" validate:"required,oneof=percentage fixed_amount buy_x_get_y"`
	Value               int64      `json:"value" validate:"gte=0"`
	Scope               string     `json:"scope" validate:"required,oneof=entire_store categories products"`
	TargetProductIDs    []string   `json:"target_product_ids"`
	TargetCategoryIDs   []string   `json:"target_category_ids"`
	ExcludedProductIDs  []string   `json:"excluded_product_ids"`
	ExcludedCategoryIDs []string   `json:"excluded_category_ids"`
	ExcludeDiscounted   bool       `json:"exclude_discounted"`
	MinPurchase         int64      `json:"min_purchase" validate:"gte=0"`
	MinQuantity         int32      `json:"min_quantity" validate:"gte=0"`
	UsageLimit          *int32     `json:"usage_limit"`
	PerCustomerLimit    *int32     `json:"per_customer_limit"`
	BuyQty              int32      `json:"buy_qty" validate:"gte=0"`
	GetQty              int32      `json:"get_qty" validate:"gte=0"`
	GetDiscountBps      int64      `json:"get_discount_bps" validate:"gte=0,lte=10000"`
	StartsAt            *time.Time `json:"starts_at"`
	EndsAt              *time.Time `json:"ends_at"`
	Active              *bool      `json:"active"`
	CustomerIDs         []string   `json:"customer_ids"`
}

type codePayload struct {
	Code       string `json:"code" validate:"required,min=3,max=40"`
	Active     *bool  `json:"active"`
	UsageLimit *int32 `json:"usage_limit"`
}

// Create handles POST /api/v1/admin/promotions.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload rulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "invalid payload", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(payload); err != nil {
			common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, err.Error(), nil)
			return
		}
	}
	rule, err := payload.toRule()
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, err.Error(), nil)
		return
	}
	created, err := h.Promotions.Create(r.Context(), rule)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodePersistenceFailure, "failed to create promotion", nil)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": created})
}

// List handles GET /api/v1/admin/promotions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 20)
	if perPage > 100 {
		perPage = 100
	}
	offset := int32((page - 1) * perPage)
	rules, err := h.Promotions.List(r.Context(), int32(perPage), offset)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodePersistenceFailure, "failed to list promotions", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": rules,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: len(rules),
		},
	})
}

// SetActive handles PATCH /api/v1/admin/promotions/{promotionID}/active.
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	promotionID, err := uuid.Parse(chi.URLParam(r, "promotionID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "invalid promotion id", nil)
		return
	}
	var payload struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "invalid payload", nil)
		return
	}
	if err := h.Promotions.SetActive(r.Context(), promotionID, payload.Active); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, common.CodePromotionNotFound, "promotion not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodePersistenceFailure, "failed to update promotion", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateCode handles POST /api/v1/admin/promotions/{promotionID}/codes.
func (h *Handler) CreateCode(w http.ResponseWriter, r *http.Request) {
	promotionID, err := uuid.Parse(chi.URLParam(r, "promotionID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "invalid promotion id", nil)
		return
	}
	var payload codePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "invalid payload", nil)
		return
	}
	payload.Code = strings.ToUpper(strings.TrimSpace(payload.Code))
	if h.Validate != nil {
		if err := h.Validate.Struct(payload); err != nil {
			common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, err.Error(), nil)
			return
		}
	}
	active := true
	if payload.Active != nil {
		active = *payload.Active
	}
	created, err := h.Promotions.CreateCode(r.Context(), Code{
		PromotionID: promotionID,
		Code:        payload.Code,
		Active:      active,
		UsageLimit:  payload.UsageLimit,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			common.JSONError(w, http.StatusConflict, "CODE_ALREADY_EXISTS", "promotion code already exists", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodePersistenceFailure, "failed to create promotion code", nil)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": created})
}

func (p rulePayload) toRule() (Rule, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return Rule{}, errors.New("name is required")
	}
	if p.Kind == KindBuyXGetY && (p.BuyQty <= 0 || p.GetQty <= 0 || p.GetDiscountBps <= 0) {
		return Rule{}, errors.New("buy_x_get_y requires buy_qty, get_qty and get_discount_bps")
	}
	if p.Kind == KindPercentage && (p.Value <= 0 || p.Value > 10000) {
		return Rule{}, errors.New("percentage value must be between 1 and 10000 basis points")
	}
	if p.StartsAt != nil && p.EndsAt != nil && p.EndsAt.Before(*p.StartsAt) {
		return Rule{}, errors.New("ends_at must be after starts_at")
	}
	targetProducts, err := parseUUIDs(p.TargetProductIDs)
	if err != nil {
		return Rule{}, err
	}
	targetCategories, err := parseUUIDs(p.TargetCategoryIDs)
	if err != nil {
		return Rule{}, err
	}
	excludedProducts, err := parseUUIDs(p.ExcludedProductIDs)
	if err != nil {
		return Rule{}, err
	}
	excludedCategories, err := parseUUIDs(p.ExcludedCategoryIDs)
	if err != nil {
		return Rule{}, err
	}
	customers, err := parseUUIDs(p.CustomerIDs)
	if err != nil {
		return Rule{}, err
	}
	active := true
	if p.Active != nil {
		active = *p.Active
	}
	return Rule{
		Name:                name,
		Kind:                p.Kind,
		Value:               p.Value,
		Scope:               p.Scope,
		TargetProductIDs:    targetProducts,
		TargetCategoryIDs:   targetCategories,
		ExcludedProductIDs:  excludedProducts,
		ExcludedCategoryIDs: excludedCategories,
		ExcludeDiscounted:   p.ExcludeDiscounted,
		MinPurchase:         p.MinPurchase,
		MinQuantity:         p.MinQuantity,
		UsageLimit:          p.UsageLimit,
		PerCustomerLimit:    p.PerCustomerLimit,
		BuyQty:              p.BuyQty,
		GetQty:              p.GetQty,
		GetDiscountBps:      p.GetDiscountBps,
		StartsAt:            p.StartsAt,
		EndsAt:              p.EndsAt,
		Active:              active,
		CustomerIDs:         customers,
	}, nil
}

func parseUUIDs(values []string) ([]uuid.UUID, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]uuid.UUID, 0, len(values))
	for _, raw := range values {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		parsed, err := uuid.Parse(trimmed)
		if err != nil {
			return nil, errors.New("invalid uuid: " + trimmed)
		}
		out = append(out, parsed)
	}
	return out, nil
}
