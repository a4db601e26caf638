package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/backend-store/internal/membership"
	"github.com/oakmart/backend-store/internal/obs"
	"github.com/oakmart/backend-store/internal/pricing"
	"github.com/oakmart/backend-store/internal/promotion"
	"github.com/oakmart/backend-store/internal/repo"
)

var (
	// ErrInvalidQty is returned when the requested quantity is out of range.
	ErrInvalidQty = errors.New("cart: quantity must be at least 1")
	// ErrProductNotFound indicates the product does not exist.
	ErrProductNotFound = errors.New("cart: product not found")
	// ErrProductInactive indicates the product exists but cannot be purchased.
	ErrProductInactive = errors.New("cart: product not active")
	// ErrItemNotInCart indicates the product has no line in the cart.
	ErrItemNotInCart = errors.New("cart: item not in cart")
)

// Store is the persistence surface the cart service relies on. Line writes
// and allocation counter updates happen in one transaction.
type Store interface {
	GetProduct(ctx context.Context, id uuid.UUID) (repo.Product, error)
	EnsureCart(ctx context.Context, userID uuid.UUID) (repo.Cart, error)
	GetCart(ctx context.Context, userID uuid.UUID) (repo.Cart, error)
	ListLines(ctx context.Context, cartID uuid.UUID) ([]repo.CartLine, error)
	GetLine(ctx context.Context, cartID, productID uuid.UUID) (repo.CartLine, error)
	MembershipAllocations(ctx context.Context, userID uuid.UUID) ([]membership.Allocation, error)
	WriteLine(ctx context.Context, line repo.CartLine, adjustments []membership.Delta) (repo.CartLine, error)
	DeleteLine(ctx context.Context, cartID, productID uuid.UUID, adjustments []membership.Delta) error
	DropLine(ctx context.Context, lineID uuid.UUID, adjustments []membership.Delta) error
	SetPromotion(ctx context.Context, cartID, promotionID uuid.UUID, code, name string) error
	ClearPromotion(ctx context.Context, cartID uuid.UUID) error
	PromotionByCode(ctx context.Context, code string) (promotion.Rule, promotion.Code, error)
	CountPromotionUsage(ctx context.Context, promotionID, userID uuid.UUID) (int32, error)
}

// Locker serializes cart mutations per user. A nil Locker runs unlocked.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// LineView is one priced cart line returned to clients.
type LineView struct {
	ProductID         uuid.UUID `json:"product_id"`
	Name              string    `json:"name"`
	CategoryID        uuid.UUID `json:"category_id"`
	CategoryName      string    `json:"category_name"`
	Qty               int32     `json:"qty"`
	UnitPrice         int64     `json:"unit_price"`
	OriginalUnitPrice int64     `json:"original_unit_price"`
	FreeQty           int32     `json:"free_qty"`
	MembershipSavings int64     `json:"membership_savings"`
}

// PricedCart is the computed view of a cart. It is never persisted.
type PricedCart struct {
	CartID        uuid.UUID  `json:"cart_id"`
	Lines         []LineView `json:"lines"`
	PromotionCode *string    `json:"promotion_code,omitempty"`
	PromotionName *string    `json:"promotion_name,omitempty"`
	pricing.Summary
}

// Service orchestrates cart mutations, the allocation ledger, and the
// discount engine into priced cart views.
type Service struct {
	Store   Store
	Locker  Locker
	LockTTL time.Duration
	Now     func() time.Time

	TaxBps                int64
	FreeShippingThreshold int64
	ShippingStandardRate  int64
	ShippingExpressRate   int64
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) options(deliveryMethod string) pricing.Options {
	if deliveryMethod == "" {
		deliveryMethod = pricing.DeliveryStandard
	}
	return pricing.Options{
		DeliveryMethod:        deliveryMethod,
		TaxBps:                s.TaxBps,
		FreeShippingThreshold: s.FreeShippingThreshold,
		StandardRate:          s.ShippingStandardRate,
		ExpressRate:           s.ShippingExpressRate,
	}
}

func (s *Service) withLock(ctx context.Context, userID uuid.UUID, fn func(context.Context) error) error {
	if s.Locker == nil {
		return fn(ctx)
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return s.Locker.WithLock(ctx, "cart:lock:"+userID.String(), ttl, fn)
}

// AddLine adds qty units of the product to the cart, drawing free units from
// the membership allocation when available, then reprices the cart.
func (s *Service) AddLine(ctx context.Context, userID, productID uuid.UUID, qty int32) (PricedCart, error) {
	if qty < 1 {
		return PricedCart{}, ErrInvalidQty
	}
	var priced PricedCart
	err := s.withLock(ctx, userID, func(ctx context.Context) error {
		cart, err := s.Store.EnsureCart(ctx, userID)
		if err != nil {
			return fmt.Errorf("ensure cart: %w", err)
		}
		existingQty := int32(0)
		if line, err := s.Store.GetLine(ctx, cart.ID, productID); err == nil {
			existingQty = line.Qty
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if err := s.writeLine(ctx, cart, userID, productID, existingQty+qty); err != nil {
			return err
		}
		priced, err = s.price(ctx, cart.UserID, pricing.DeliveryStandard)
		return err
	})
	return priced, err
}

// UpdateLine sets the line quantity; qty=0 removes the line.
func (s *Service) UpdateLine(ctx context.Context, userID, productID uuid.UUID, qty int32) (PricedCart, error) {
	if qty < 0 {
		return PricedCart{}, ErrInvalidQty
	}
	if qty == 0 {
		return s.RemoveLine(ctx, userID, productID)
	}
	var priced PricedCart
	err := s.withLock(ctx, userID, func(ctx context.Context) error {
		cart, err := s.Store.GetCart(ctx, userID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrItemNotInCart
			}
			return err
		}
		if _, err := s.Store.GetLine(ctx, cart.ID, productID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrItemNotInCart
			}
			return err
		}
		if err := s.writeLine(ctx, cart, userID, productID, qty); err != nil {
			return err
		}
		priced, err = s.price(ctx, userID, pricing.DeliveryStandard)
		return err
	})
	return priced, err
}

// RemoveLine deletes the product's line and returns its free units to the
// allocation ledger.
func (s *Service) RemoveLine(ctx context.Context, userID, productID uuid.UUID) (PricedCart, error) {
	var priced PricedCart
	err := s.withLock(ctx, userID, func(ctx context.Context) error {
		cart, err := s.Store.GetCart(ctx, userID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrItemNotInCart
			}
			return err
		}
		line, err := s.Store.GetLine(ctx, cart.ID, productID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrItemNotInCart
			}
			return err
		}
		var adjustments []membership.Delta
		if line.FreeQty > 0 {
			adjustments, err = s.returnDelta(ctx, userID, line)
			if err != nil {
				return err
			}
		}
		if err := s.Store.DeleteLine(ctx, cart.ID, productID, adjustments); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrItemNotInCart
			}
			return err
		}
		priced, err = s.price(ctx, userID, pricing.DeliveryStandard)
		return err
	})
	return priced, err
}

// ApplyPromotionCode validates the code against the current cart and
// attaches it. Validation failures are returned, never silently swallowed.
func (s *Service) ApplyPromotionCode(ctx context.Context, userID uuid.UUID, code string) (PricedCart, error) {
	var priced PricedCart
	err := s.withLock(ctx, userID, func(ctx context.Context) error {
		cart, err := s.Store.GetCart(ctx, userID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return promotion.ErrNoEligibleLines
			}
			return err
		}
		rule, codeRec, err := s.Store.PromotionByCode(ctx, code)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return promotion.ErrNotFound
			}
			return err
		}
		if !codeRec.Active {
			return promotion.ErrInactive
		}
		if codeRec.UsageLimit != nil && *codeRec.UsageLimit >= 0 && codeRec.UsedCount >= *codeRec.UsageLimit {
			return promotion.ErrUsageLimitReached
		}
		lines, err := s.Store.ListLines(ctx, cart.ID)
		if err != nil {
			return err
		}
		promoLines, subtotal, units, err := s.resolvePromotionLines(ctx, lines)
		if err != nil {
			return err
		}
		perUsed, err := s.Store.CountPromotionUsage(ctx, rule.ID, userID)
		if err != nil {
			return err
		}
		if err := rule.Validate(s.now(), userID, subtotal, units, perUsed); err != nil {
			s.countPromotionApply("rejected")
			return err
		}
		result := promotion.Evaluate(rule, promoLines)
		if len(result.LineIDs) == 0 {
			s.countPromotionApply("rejected")
			return promotion.ErrNoEligibleLines
		}
		if err := s.Store.SetPromotion(ctx, cart.ID, rule.ID, codeRec.Code, rule.Name); err != nil {
			return err
		}
		s.countPromotionApply("applied")
		priced, err = s.price(ctx, userID, pricing.DeliveryStandard)
		return err
	})
	return priced, err
}

// RemovePromotion detaches any applied promotion and reprices.
func (s *Service) RemovePromotion(ctx context.Context, userID uuid.UUID) (PricedCart, error) {
	var priced PricedCart
	err := s.withLock(ctx, userID, func(ctx context.Context) error {
		cart, err := s.Store.GetCart(ctx, userID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				priced = PricedCart{}
				return nil
			}
			return err
		}
		if err := s.Store.ClearPromotion(ctx, cart.ID); err != nil {
			return err
		}
		priced, err = s.price(ctx, userID, pricing.DeliveryStandard)
		return err
	})
	return priced, err
}

// PriceCart computes the priced view of the user's cart without mutating
// lines (beyond the documented reconcile step).
func (s *Service) PriceCart(ctx context.Context, userID uuid.UUID, deliveryMethod string) (PricedCart, error) {
	var priced PricedCart
	err := s.withLock(ctx, userID, func(ctx context.Context) error {
		var err error
		priced, err = s.price(ctx, userID, deliveryMethod)
		return err
	})
	return priced, err
}

// writeLine re-snapshots prices from the product record, re-reserves free
// units, and persists the line with the allocation delta in one transaction.
func (s *Service) writeLine(ctx context.Context, cart repo.Cart, userID, productID uuid.UUID, qty int32) error {
	product, err := s.Store.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrProductNotFound
		}
		return err
	}
	if !product.Active {
		return ErrProductInactive
	}

	existingFree := int32(0)
	if line, err := s.Store.GetLine(ctx, cart.ID, productID); err == nil {
		existingFree = line.FreeQty
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}

	allocations, err := s.Store.MembershipAllocations(ctx, userID)
	if err != nil {
		return err
	}
	alloc := membership.ForCategory(allocations, product.CategoryID)

	var res membership.Reservation
	if alloc != nil {
		// release the units this line already holds before re-reserving
		scratch := *alloc
		scratch.Used -= existingFree
		res = membership.Reserve(qty, &scratch)
	} else {
		res = membership.Reserve(qty, nil)
	}

	var adjustments []membership.Delta
	if alloc != nil && res.Free != existingFree {
		adjustments = append(adjustments, membership.Delta{AllocationID: alloc.ID, Delta: res.Free - existingFree})
	}
	s.countReserve(res.Free > 0)

	line := repo.CartLine{
		CartID:            cart.ID,
		ProductID:         product.ID,
		Name:              product.Name,
		CategoryID:        product.CategoryID,
		CategoryName:      product.CategoryName,
		Qty:               qty,
		UnitPrice:         product.Price,
		OriginalUnitPrice: product.OriginalPrice(),
		FreeQty:           res.Free,
		MembershipSavings: int64(res.Free) * product.Price,
	}
	if _, err := s.Store.WriteLine(ctx, line, adjustments); err != nil {
		return fmt.Errorf("write cart line: %w", err)
	}
	return nil
}

// price runs the full composition: reconcile dead lines, re-validate any
// attached promotion, then fold everything through the pricing engine.
func (s *Service) price(ctx context.Context, userID uuid.UUID, deliveryMethod string) (PricedCart, error) {
	started := time.Now()
	defer func() {
		if obs.CartPriceLatency != nil {
			obs.CartPriceLatency.Observe(obs.DurationMillis(time.Since(started)))
		}
	}()

	cart, err := s.Store.GetCart(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.countPrice("empty")
			return PricedCart{}, nil
		}
		s.countPrice("error")
		return PricedCart{}, err
	}
	lines, err := s.Store.ListLines(ctx, cart.ID)
	if err != nil {
		s.countPrice("error")
		return PricedCart{}, err
	}

	kept, promoLines, err := s.reconcile(ctx, userID, lines)
	if err != nil {
		s.countPrice("error")
		return PricedCart{}, err
	}
	if len(kept) == 0 {
		if cart.PromotionCode != nil {
			if err := s.Store.ClearPromotion(ctx, cart.ID); err != nil {
				return PricedCart{}, err
			}
			cart.PromotionCode = nil
			cart.PromotionName = nil
		}
		s.countPrice("empty")
		return PricedCart{CartID: cart.ID}, nil
	}

	var promotionDiscount int64
	if cart.PromotionCode != nil {
		promotionDiscount, err = s.revalidatePromotion(ctx, &cart, userID, kept, promoLines)
		if err != nil {
			s.countPrice("error")
			return PricedCart{}, err
		}
	}

	items := make([]pricing.Item, 0, len(kept))
	views := make([]LineView, 0, len(kept))
	for _, line := range kept {
		items = append(items, pricing.Item{
			Qty:               int(line.Qty),
			UnitPrice:         line.UnitPrice,
			OriginalUnitPrice: line.OriginalUnitPrice,
			MembershipSavings: line.MembershipSavings,
		})
		views = append(views, LineView{
			ProductID:         line.ProductID,
			Name:              line.Name,
			CategoryID:        line.CategoryID,
			CategoryName:      line.CategoryName,
			Qty:               line.Qty,
			UnitPrice:         line.UnitPrice,
			OriginalUnitPrice: line.OriginalUnitPrice,
			FreeQty:           line.FreeQty,
			MembershipSavings: line.MembershipSavings,
		})
	}

	summary := pricing.Compute(items, promotionDiscount, s.options(deliveryMethod))
	s.countPrice("ok")
	return PricedCart{
		CartID:        cart.ID,
		Lines:         views,
		PromotionCode: cart.PromotionCode,
		PromotionName: cart.PromotionName,
		Summary:       summary,
	}, nil
}

// reconcile drops lines whose product is gone or inactive, returning their
// free units to the ledger, and resolves promotion eligibility data for the
// survivors.
func (s *Service) reconcile(ctx context.Context, userID uuid.UUID, lines []repo.CartLine) ([]repo.CartLine, []promotion.Line, error) {
	kept := make([]repo.CartLine, 0, len(lines))
	promoLines := make([]promotion.Line, 0, len(lines))
	for _, line := range lines {
		product, err := s.Store.GetProduct(ctx, line.ProductID)
		dead := false
		if err != nil {
			if !errors.Is(err, repo.ErrNotFound) {
				return nil, nil, err
			}
			dead = true
		} else if !product.Active {
			dead = true
		}
		if dead {
			var adjustments []membership.Delta
			if line.FreeQty > 0 {
				adjustments, err = s.returnDelta(ctx, userID, line)
				if err != nil {
					return nil, nil, err
				}
			}
			if err := s.Store.DropLine(ctx, line.ID, adjustments); err != nil {
				return nil, nil, err
			}
			continue
		}
		kept = append(kept, line)
		promoLines = append(promoLines, promotion.Line{
			ID:         line.ID,
			ProductID:  line.ProductID,
			CategoryID: line.CategoryID,
			Qty:        line.Qty,
			UnitPrice:  line.UnitPrice,
			OnSale:     line.OriginalUnitPrice > line.UnitPrice,
			Eligible:   product.PromotionEligible,
		})
	}
	return kept, promoLines, nil
}

// revalidatePromotion recomputes the attached promotion against the current
// lines. Failures detach the promotion silently; the caller's operation
// still succeeds with the discount dropped.
func (s *Service) revalidatePromotion(ctx context.Context, cart *repo.Cart, userID uuid.UUID, kept []repo.CartLine, promoLines []promotion.Line) (int64, error) {
	detach := func() error {
		if err := s.Store.ClearPromotion(ctx, cart.ID); err != nil {
			return err
		}
		cart.PromotionCode = nil
		cart.PromotionName = nil
		if obs.PromotionApplyTotal != nil {
			obs.PromotionApplyTotal.WithLabelValues("detached").Inc()
		}
		return nil
	}

	rule, codeRec, err := s.Store.PromotionByCode(ctx, *cart.PromotionCode)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return 0, detach()
		}
		return 0, err
	}
	if !codeRec.Active {
		return 0, detach()
	}
	var subtotal int64
	var units int32
	for _, line := range kept {
		subtotal += int64(line.Qty) * line.OriginalUnitPrice
		units += line.Qty
	}
	perUsed, err := s.Store.CountPromotionUsage(ctx, rule.ID, userID)
	if err != nil {
		return 0, err
	}
	if err := rule.Validate(s.now(), userID, subtotal, units, perUsed); err != nil {
		return 0, detach()
	}
	result := promotion.Evaluate(rule, promoLines)
	if len(result.LineIDs) == 0 {
		return 0, detach()
	}
	return result.Discount, nil
}

// resolvePromotionLines builds engine input for a fresh code application.
func (s *Service) resolvePromotionLines(ctx context.Context, lines []repo.CartLine) ([]promotion.Line, int64, int32, error) {
	promoLines := make([]promotion.Line, 0, len(lines))
	var subtotal int64
	var units int32
	for _, line := range lines {
		product, err := s.Store.GetProduct(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return nil, 0, 0, err
		}
		if !product.Active {
			continue
		}
		subtotal += int64(line.Qty) * line.OriginalUnitPrice
		units += line.Qty
		promoLines = append(promoLines, promotion.Line{
			ID:         line.ID,
			ProductID:  line.ProductID,
			CategoryID: line.CategoryID,
			Qty:        line.Qty,
			UnitPrice:  line.UnitPrice,
			OnSale:     line.OriginalUnitPrice > line.UnitPrice,
			Eligible:   product.PromotionEligible,
		})
	}
	return promoLines, subtotal, units, nil
}

// returnDelta builds the allocation adjustment that gives a line's free
// units back to the ledger. A failed lookup fails the whole operation;
// deleting the line without the adjustment would leak the reserved units.
func (s *Service) returnDelta(ctx context.Context, userID uuid.UUID, line repo.CartLine) ([]membership.Delta, error) {
	allocations, err := s.Store.MembershipAllocations(ctx, userID)
	if err != nil {
		return nil, err
	}
	alloc := membership.ForCategory(allocations, line.CategoryID)
	if alloc == nil {
		return nil, nil
	}
	return []membership.Delta{{AllocationID: alloc.ID, Delta: -line.FreeQty}}, nil
}

func (s *Service) countPrice(result string) {
	if obs.CartPriceTotal != nil {
		obs.CartPriceTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) countPromotionApply(result string) {
	if obs.PromotionApplyTotal != nil {
		obs.PromotionApplyTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) countReserve(reserved bool) {
	if obs.AllocationReserveTotal == nil {
		return
	}
	if reserved {
		obs.AllocationReserveTotal.WithLabelValues("free").Inc()
	} else {
		obs.AllocationReserveTotal.WithLabelValues("paid").Inc()
	}
}
