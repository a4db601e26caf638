package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmart/backend-store/internal/membership"
	"github.com/oakmart/backend-store/internal/promotion"
)

// Store is the pool-backed persistence facade used by the cart and checkout
// services. Multi-row mutations (line snapshot plus allocation counters) run
// in a single transaction.
type Store struct {
	Pool *pgxpool.Pool
}

// GetProduct fetches a product by id.
func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	return Products{DB: s.Pool}.Get(ctx, id)
}

// EnsureCart loads or lazily creates the user's cart.
func (s *Store) EnsureCart(ctx context.Context, userID uuid.UUID) (Cart, error) {
	return Carts{DB: s.Pool}.Ensure(ctx, userID)
}

// GetCart loads the user's cart without creating it.
func (s *Store) GetCart(ctx context.Context, userID uuid.UUID) (Cart, error) {
	return Carts{DB: s.Pool}.GetByUser(ctx, userID)
}

// ListLines returns the cart's lines.
func (s *Store) ListLines(ctx context.Context, cartID uuid.UUID) ([]CartLine, error) {
	return Carts{DB: s.Pool}.ListLines(ctx, cartID)
}

// GetLine returns a single line by product.
func (s *Store) GetLine(ctx context.Context, cartID, productID uuid.UUID) (CartLine, error) {
	return Carts{DB: s.Pool}.GetLine(ctx, cartID, productID)
}

// MembershipAllocations returns the allocation entries of the user's active
// membership. No membership degrades to an empty set, not an error.
func (s *Store) MembershipAllocations(ctx context.Context, userID uuid.UUID) ([]membership.Allocation, error) {
	members := Memberships{DB: s.Pool}
	m, err := members.GetActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return members.ListAllocations(ctx, m.ID)
}

// WriteLine persists the line snapshot and the allocation deltas atomically.
func (s *Store) WriteLine(ctx context.Context, line CartLine, adjustments []membership.Delta) (CartLine, error) {
	var saved CartLine
	err := WithTx(ctx, s.Pool, func(tx pgx.Tx) error {
		members := Memberships{DB: tx}
		for _, adj := range adjustments {
			if err := members.AdjustAllocation(ctx, adj.AllocationID, adj.Delta); err != nil {
				return err
			}
		}
		var err error
		saved, err = Carts{DB: tx}.UpsertLine(ctx, line)
		return err
	})
	return saved, err
}

// DeleteLine removes the line and applies the allocation deltas atomically.
func (s *Store) DeleteLine(ctx context.Context, cartID, productID uuid.UUID, adjustments []membership.Delta) error {
	return WithTx(ctx, s.Pool, func(tx pgx.Tx) error {
		members := Memberships{DB: tx}
		for _, adj := range adjustments {
			if err := members.AdjustAllocation(ctx, adj.AllocationID, adj.Delta); err != nil {
				return err
			}
		}
		return Carts{DB: tx}.DeleteLine(ctx, cartID, productID)
	})
}

// DropLine removes a line by id during reconcile, returning free units.
func (s *Store) DropLine(ctx context.Context, lineID uuid.UUID, adjustments []membership.Delta) error {
	return WithTx(ctx, s.Pool, func(tx pgx.Tx) error {
		members := Memberships{DB: tx}
		for _, adj := range adjustments {
			if err := members.AdjustAllocation(ctx, adj.AllocationID, adj.Delta); err != nil {
				return err
			}
		}
		return Carts{DB: tx}.DeleteLineByID(ctx, lineID)
	})
}

// SetPromotion attaches a promotion to the cart.
func (s *Store) SetPromotion(ctx context.Context, cartID, promotionID uuid.UUID, code, name string) error {
	return Carts{DB: s.Pool}.SetPromotion(ctx, cartID, promotionID, code, name)
}

// ClearPromotion detaches the cart's promotion.
func (s *Store) ClearPromotion(ctx context.Context, cartID uuid.UUID) error {
	return Carts{DB: s.Pool}.ClearPromotion(ctx, cartID)
}

// PromotionByCode resolves a code to its rule and code record.
func (s *Store) PromotionByCode(ctx context.Context, code string) (promotion.Rule, promotion.Code, error) {
	return Promotions{DB: s.Pool}.GetByCode(ctx, code)
}

// PlaceOrder inserts the order with its lines and empties the cart in a
// single transaction.
func (s *Store) PlaceOrder(ctx context.Context, order Order, lines []OrderLine, cartID uuid.UUID) (Order, error) {
	var created Order
	err := WithTx(ctx, s.Pool, func(tx pgx.Tx) error {
		var err error
		created, err = Orders{DB: tx}.Create(ctx, order, lines)
		if err != nil {
			return err
		}
		carts := Carts{DB: tx}
		if err := carts.ClearLines(ctx, cartID); err != nil {
			return err
		}
		return carts.ClearPromotion(ctx, cartID)
	})
	return created, err
}

// ListOrderLines returns the persisted line snapshots of an order.
func (s *Store) ListOrderLines(ctx context.Context, orderID uuid.UUID) ([]OrderLine, error) {
	return Orders{DB: s.Pool}.ListLines(ctx, orderID)
}

// CountPromotionUsage returns the customer's settled usage count.
func (s *Store) CountPromotionUsage(ctx context.Context, promotionID, userID uuid.UUID) (int32, error) {
	return Promotions{DB: s.Pool}.CountCustomerUsage(ctx, promotionID, userID)
}
