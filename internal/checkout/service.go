package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/oakmart/backend-store/internal/cart"
	"github.com/oakmart/backend-store/internal/events"
	"github.com/oakmart/backend-store/internal/obs"
	"github.com/oakmart/backend-store/internal/pricing"
	"github.com/oakmart/backend-store/internal/queue"
	"github.com/oakmart/backend-store/internal/repo"
)

// TaskPromotionSettle is the queue kind consumed by the settlement worker.
const TaskPromotionSettle = "promotion:settle"

var (
	// ErrEmptyCart is returned when checkout is attempted on an empty cart.
	ErrEmptyCart = errors.New("checkout: cart is empty")
	// ErrInvalidDelivery is returned for an unknown delivery method.
	ErrInvalidDelivery = errors.New("checkout: invalid delivery method")
)

// SettlePayload is the task body for deferred promotion settlement.
type SettlePayload struct {
	Code           string    `json:"code"`
	UserID         uuid.UUID `json:"user_id"`
	OrderID        uuid.UUID `json:"order_id"`
	DiscountAmount int64     `json:"discount_amount"`
	OrderTotal     int64     `json:"order_total"`
}

// Store captures the persistence surface required by checkout.
type Store interface {
	PlaceOrder(ctx context.Context, order repo.Order, lines []repo.OrderLine, cartID uuid.UUID) (repo.Order, error)
	ListOrderLines(ctx context.Context, orderID uuid.UUID) ([]repo.OrderLine, error)
}

// Enqueuer publishes background tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Input is the checkout request body.
type Input struct {
	DeliveryMethod string `json:"delivery_method"`
}

// Output is the created order snapshot returned to the client.
type Output struct {
	Order repo.Order       `json:"order"`
	Lines []repo.OrderLine `json:"lines"`
}

// Service converts a priced cart into an immutable order.
type Service struct {
	Store  Store
	Cart   *cart.Service
	Events *events.Bus
	Queue  Enqueuer
}

// Create prices the user's cart, snapshots it into an order, and empties the
// cart. Promotion usage is settled asynchronously so a slow settlement never
// blocks order creation.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, in Input) (Output, error) {
	if s == nil || s.Store == nil || s.Cart == nil {
		return Output{}, errors.New("checkout service not configured")
	}
	method := in.DeliveryMethod
	if method == "" {
		method = pricing.DeliveryStandard
	}
	switch method {
	case pricing.DeliveryStandard, pricing.DeliveryExpress, pricing.DeliveryPickup:
	default:
		return Output{}, ErrInvalidDelivery
	}

	priced, err := s.Cart.PriceCart(ctx, userID, method)
	if err != nil {
		s.count("error")
		return Output{}, fmt.Errorf("price cart: %w", err)
	}
	if priced.CartID == uuid.Nil || len(priced.Lines) == 0 {
		s.count("empty_cart")
		return Output{}, ErrEmptyCart
	}

	order := repo.Order{
		UserID:             userID,
		Status:             repo.OrderStatusPending,
		Subtotal:           priced.Subtotal,
		MembershipDiscount: priced.MembershipDiscount,
		PromotionDiscount:  priced.PromotionDiscount,
		FinalTotal:         priced.FinalTotal,
		ShippingAmount:     priced.Shipping,
		TaxAmount:          priced.Tax,
		TotalAmount:        priced.Total,
		DeliveryMethod:     method,
		PromotionCode:      priced.PromotionCode,
	}
	lines := make([]repo.OrderLine, 0, len(priced.Lines))
	for _, line := range priced.Lines {
		lines = append(lines, repo.OrderLine{
			ProductID:         line.ProductID,
			Name:              line.Name,
			Qty:               line.Qty,
			UnitPrice:         line.UnitPrice,
			OriginalUnitPrice: line.OriginalUnitPrice,
			FreeQty:           line.FreeQty,
			MembershipSavings: line.MembershipSavings,
		})
	}

	created, err := s.Store.PlaceOrder(ctx, order, lines, priced.CartID)
	if err != nil {
		s.count("error")
		return Output{}, fmt.Errorf("place order: %w", err)
	}
	s.count("ok")

	if s.Events != nil {
		payload := map[string]any{
			"order_id":     created.ID,
			"user_id":      userID,
			"total_amount": created.TotalAmount,
		}
		_, _ = s.Events.Emit(ctx, events.TopicOrderCreated, created.ID, payload)
	}
	if created.PromotionCode != nil && s.Queue != nil {
		body, err := json.Marshal(SettlePayload{
			Code:           *created.PromotionCode,
			UserID:         userID,
			OrderID:        created.ID,
			DiscountAmount: created.PromotionDiscount,
			OrderTotal:     created.TotalAmount,
		})
		if err == nil {
			_ = s.Queue.Enqueue(ctx, queue.Task{
				Kind:           TaskPromotionSettle,
				Payload:        body,
				IdempotencyKey: created.ID.String(),
				MaxAttempts:    10,
			})
		}
	}

	fetched, err := s.Store.ListOrderLines(ctx, created.ID)
	if err != nil || len(fetched) == 0 {
		return Output{Order: created, Lines: lines}, nil
	}
	return Output{Order: created, Lines: fetched}, nil
}

func (s *Service) count(result string) {
	if obs.CheckoutTotal != nil {
		obs.CheckoutTotal.WithLabelValues(result).Inc()
	}
}
