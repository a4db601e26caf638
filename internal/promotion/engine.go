package promotion

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/backend-store/internal/pricing"
)

// Discount kinds supported by the engine.
const (
	KindPercentage  = "percentage"
	KindFixedAmount = "fixed_amount"
	KindBuyXGetY    = "buy_x_get_y"
)

// Applicability scopes supported by the engine.
const (
	ScopeEntireStore = "entire_store"
	ScopeCategories  = "categories"
	ScopeProducts    = "products"
)

var (
	// ErrNotFound is returned when no promotion matches the supplied code.
	ErrNotFound = errors.New("promotion not found")
	// ErrInactive is returned when the promotion is disabled by the merchant.
	ErrInactive = errors.New("promotion not active")
	// ErrNotStarted is returned before the promotion window opens.
	ErrNotStarted = errors.New("promotion not started")
	// ErrExpired is returned after the promotion window closes.
	ErrExpired = errors.New("promotion expired")
	// ErrUsageLimitReached indicates the promotion exhausted its global quota.
	ErrUsageLimitReached = errors.New("promotion usage limit reached")
	// ErrPerCustomerLimitReached indicates the caller exceeded their allowance.
	ErrPerCustomerLimitReached = errors.New("promotion per-customer usage limit reached")
	// ErrCustomerNotAssigned is returned when the promotion is restricted to
	// specific customers and the caller is not among them.
	ErrCustomerNotAssigned = errors.New("promotion not assigned to customer")
	// ErrMinimumPurchaseUnmet indicates the cart subtotal is below the floor.
	ErrMinimumPurchaseUnmet = errors.New("promotion minimum purchase not met")
	// ErrMinimumQuantityUnmet indicates the cart holds too few units.
	ErrMinimumQuantityUnmet = errors.New("promotion minimum quantity not met")
	// ErrNoEligibleLines indicates no cart line passes the scope and exclusion filters.
	ErrNoEligibleLines = errors.New("no eligible lines for promotion")
)

// Rule captures the runtime constraints and reward of a promotion.
type Rule struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Kind string    `json:"kind"`
	// Value is the reward size: cents for fixed_amount, basis points for
	// percentage (2000 = 20%).
	Value               int64       `json:"value"`
	Scope               string      `json:"scope"`
	TargetProductIDs    []uuid.UUID `json:"target_product_ids,omitempty"`
	TargetCategoryIDs   []uuid.UUID `json:"target_category_ids,omitempty"`
	ExcludedProductIDs  []uuid.UUID `json:"excluded_product_ids,omitempty"`
	ExcludedCategoryIDs []uuid.UUID `json:"excluded_category_ids,omitempty"`
	ExcludeDiscounted   bool        `json:"exclude_discounted"`
	MinPurchase         int64       `json:"min_purchase"`
	MinQuantity         int32       `json:"min_quantity"`
	UsageLimit          *int32      `json:"usage_limit,omitempty"`
	UsedCount           int32       `json:"used_count"`
	PerCustomerLimit    *int32      `json:"per_customer_limit,omitempty"`
	BuyQty              int32       `json:"buy_qty,omitempty"`
	GetQty              int32       `json:"get_qty,omitempty"`
	GetDiscountBps      int64       `json:"get_discount_bps,omitempty"`
	StartsAt            *time.Time  `json:"starts_at,omitempty"`
	EndsAt              *time.Time  `json:"ends_at,omitempty"`
	Active              bool        `json:"active"`
	CustomerIDs         []uuid.UUID `json:"customer_ids,omitempty"`
}

// Code is a redeemable code attached to a promotion.
type Code struct {
	ID          uuid.UUID `json:"id"`
	PromotionID uuid.UUID `json:"promotion_id"`
	Code        string    `json:"code"`
	Active      bool      `json:"active"`
	UsageLimit  *int32    `json:"usage_limit,omitempty"`
	UsedCount   int32     `json:"used_count"`
}

// Line represents a cart line with resolved product data.
type Line struct {
	ID         uuid.UUID
	ProductID  uuid.UUID
	CategoryID uuid.UUID
	Qty        int32
	UnitPrice  int64
	OnSale     bool
	Eligible   bool
}

// Result is the outcome of evaluating a rule against a set of lines.
type Result struct {
	Discount int64
	LineIDs  []uuid.UUID
}

// Validate ensures the rule can be applied at the provided instant given the
// cart subtotal, total unit count, and the caller's prior usage.
func (r Rule) Validate(now time.Time, customerID uuid.UUID, cartSubtotal int64, cartUnits int32, perCustomerUsed int32) error {
	if !r.Active {
		return ErrInactive
	}
	if r.StartsAt != nil && now.Before(*r.StartsAt) {
		return ErrNotStarted
	}
	if r.EndsAt != nil && now.After(*r.EndsAt) {
		return ErrExpired
	}
	if r.UsageLimit != nil && *r.UsageLimit >= 0 && r.UsedCount >= *r.UsageLimit {
		return ErrUsageLimitReached
	}
	if r.PerCustomerLimit != nil && *r.PerCustomerLimit > 0 && perCustomerUsed >= *r.PerCustomerLimit {
		return ErrPerCustomerLimitReached
	}
	if len(r.CustomerIDs) > 0 && !containsUUID(r.CustomerIDs, customerID) {
		return ErrCustomerNotAssigned
	}
	if r.MinPurchase > 0 && cartSubtotal < r.MinPurchase {
		return ErrMinimumPurchaseUnmet
	}
	if r.MinQuantity > 0 && cartUnits < r.MinQuantity {
		return ErrMinimumQuantityUnmet
	}
	return nil
}

// EligibleLines filters lines through the exclusion and scope rules. The
// result preserves the input order.
func EligibleLines(r Rule, lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	for _, ln := range lines {
		if ln.Qty <= 0 || !ln.Eligible {
			continue
		}
		if containsUUID(r.ExcludedProductIDs, ln.ProductID) {
			continue
		}
		if containsUUID(r.ExcludedCategoryIDs, ln.CategoryID) {
			continue
		}
		if r.ExcludeDiscounted && ln.OnSale {
			continue
		}
		switch r.Scope {
		case ScopeEntireStore:
		case ScopeCategories:
			if !containsUUID(r.TargetCategoryIDs, ln.CategoryID) {
				continue
			}
		case ScopeProducts:
			if !containsUUID(r.TargetProductIDs, ln.ProductID) {
				continue
			}
		default:
			// unknown scope yields zero eligible lines
			return nil
		}
		out = append(out, ln)
	}
	return out
}

// Evaluate computes the discount for the rule against the provided lines.
// It is a pure function: every cart mutation re-evaluates from scratch.
func Evaluate(r Rule, lines []Line) Result {
	eligible := EligibleLines(r, lines)
	if len(eligible) == 0 {
		return Result{}
	}
	ids := make([]uuid.UUID, 0, len(eligible))
	var subtotal int64
	for _, ln := range eligible {
		ids = append(ids, ln.ID)
		subtotal += int64(ln.Qty) * ln.UnitPrice
	}

	var discount int64
	switch r.Kind {
	case KindPercentage:
		discount = pricing.RoundBps(subtotal, r.Value)
	case KindFixedAmount:
		discount = r.Value
	case KindBuyXGetY:
		discount = buyXGetYDiscount(r, eligible)
	default:
		return Result{}
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	return Result{Discount: discount, LineIDs: ids}
}

// buyXGetYDiscount marks the cheapest eligible units as discounted first,
// which is the store-favorable tie-break.
func buyXGetYDiscount(r Rule, eligible []Line) int64 {
	if r.BuyQty <= 0 || r.GetQty <= 0 || r.GetDiscountBps <= 0 {
		return 0
	}
	var units int32
	for _, ln := range eligible {
		units += ln.Qty
	}
	sets := units / r.BuyQty
	if sets == 0 {
		return 0
	}
	remaining := sets * r.GetQty
	if remaining > units {
		remaining = units
	}

	sorted := make([]Line, len(eligible))
	copy(sorted, eligible)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UnitPrice < sorted[j].UnitPrice
	})

	var discount int64
	for _, ln := range sorted {
		if remaining <= 0 {
			break
		}
		take := ln.Qty
		if take > remaining {
			take = remaining
		}
		discount += int64(take) * pricing.RoundBps(ln.UnitPrice, r.GetDiscountBps)
		remaining -= take
	}
	return discount
}

func containsUUID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
