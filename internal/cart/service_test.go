package cart_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/backend-store/internal/cart"
	"github.com/oakmart/backend-store/internal/membership"
	"github.com/oakmart/backend-store/internal/promotion"
	"github.com/oakmart/backend-store/internal/repo"
)

type fakeStore struct {
	products    map[uuid.UUID]repo.Product
	cart        repo.Cart
	hasCart     bool
	lines       map[uuid.UUID]repo.CartLine
	allocations []membership.Allocation
	rules       map[string]promotion.Rule
	codes       map[string]promotion.Code
	usage       int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: map[uuid.UUID]repo.Product{},
		lines:    map[uuid.UUID]repo.CartLine{},
		rules:    map[string]promotion.Rule{},
		codes:    map[string]promotion.Code{},
	}
}

func (f *fakeStore) GetProduct(_ context.Context, id uuid.UUID) (repo.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return repo.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) EnsureCart(_ context.Context, userID uuid.UUID) (repo.Cart, error) {
	if !f.hasCart {
		f.cart = repo.Cart{ID: uuid.New(), UserID: userID}
		f.hasCart = true
	}
	return f.cart, nil
}

func (f *fakeStore) GetCart(_ context.Context, _ uuid.UUID) (repo.Cart, error) {
	if !f.hasCart {
		return repo.Cart{}, repo.ErrNotFound
	}
	return f.cart, nil
}

func (f *fakeStore) ListLines(_ context.Context, _ uuid.UUID) ([]repo.CartLine, error) {
	out := make([]repo.CartLine, 0, len(f.lines))
	for _, l := range f.lines {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeStore) GetLine(_ context.Context, _, productID uuid.UUID) (repo.CartLine, error) {
	l, ok := f.lines[productID]
	if !ok {
		return repo.CartLine{}, repo.ErrNotFound
	}
	return l, nil
}

func (f *fakeStore) MembershipAllocations(_ context.Context, _ uuid.UUID) ([]membership.Allocation, error) {
	out := make([]membership.Allocation, len(f.allocations))
	copy(out, f.allocations)
	return out, nil
}

func (f *fakeStore) adjust(adjustments []membership.Delta) error {
	for _, adj := range adjustments {
		for i := range f.allocations {
			if f.allocations[i].ID == adj.AllocationID {
				f.allocations[i].Used += adj.Delta
				if f.allocations[i].Used < 0 || f.allocations[i].Used > f.allocations[i].Allocated {
					return errors.New("allocation constraint violated")
				}
			}
		}
	}
	return nil
}

func (f *fakeStore) WriteLine(_ context.Context, line repo.CartLine, adjustments []membership.Delta) (repo.CartLine, error) {
	if err := f.adjust(adjustments); err != nil {
		return repo.CartLine{}, err
	}
	if existing, ok := f.lines[line.ProductID]; ok {
		line.ID = existing.ID
	} else {
		line.ID = uuid.New()
	}
	f.lines[line.ProductID] = line
	return line, nil
}

func (f *fakeStore) DeleteLine(_ context.Context, _, productID uuid.UUID, adjustments []membership.Delta) error {
	if _, ok := f.lines[productID]; !ok {
		return repo.ErrNotFound
	}
	if err := f.adjust(adjustments); err != nil {
		return err
	}
	delete(f.lines, productID)
	return nil
}

func (f *fakeStore) DropLine(_ context.Context, lineID uuid.UUID, adjustments []membership.Delta) error {
	if err := f.adjust(adjustments); err != nil {
		return err
	}
	for productID, l := range f.lines {
		if l.ID == lineID {
			delete(f.lines, productID)
		}
	}
	return nil
}

func (f *fakeStore) SetPromotion(_ context.Context, _, promotionID uuid.UUID, code, name string) error {
	f.cart.PromotionID = &promotionID
	f.cart.PromotionCode = &code
	f.cart.PromotionName = &name
	return nil
}

func (f *fakeStore) ClearPromotion(_ context.Context, _ uuid.UUID) error {
	f.cart.PromotionID = nil
	f.cart.PromotionCode = nil
	f.cart.PromotionName = nil
	return nil
}

func (f *fakeStore) PromotionByCode(_ context.Context, code string) (promotion.Rule, promotion.Code, error) {
	rule, ok := f.rules[code]
	if !ok {
		return promotion.Rule{}, promotion.Code{}, repo.ErrNotFound
	}
	return rule, f.codes[code], nil
}

func (f *fakeStore) CountPromotionUsage(_ context.Context, _, _ uuid.UUID) (int32, error) {
	return f.usage, nil
}

func (f *fakeStore) addRule(code string, rule promotion.Rule) {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	f.rules[code] = rule
	f.codes[code] = promotion.Code{ID: uuid.New(), PromotionID: rule.ID, Code: code, Active: true}
}

func newService(store *fakeStore) *cart.Service {
	return &cart.Service{
		Store:                 store,
		Now:                   func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		TaxBps:                800,
		FreeShippingThreshold: 2500,
		ShippingStandardRate:  599,
		ShippingExpressRate:   999,
	}
}

func addProduct(store *fakeStore, price int64, active bool) repo.Product {
	p := repo.Product{
		ID:                uuid.New(),
		Name:              "product",
		Slug:              uuid.NewString(),
		CategoryID:        uuid.New(),
		CategoryName:      "category",
		Price:             price,
		Active:            active,
		PromotionEligible: true,
	}
	store.products[p.ID] = p
	return p
}

func TestAddLineReservesFreeUnits(t *testing.T) {
	store := newFakeStore()
	product := addProduct(store, 1000, true)
	store.allocations = []membership.Allocation{{
		ID:         uuid.New(),
		CategoryID: product.CategoryID,
		Allocated:  2,
	}}
	svc := newService(store)
	userID := uuid.New()

	priced, err := svc.AddLine(context.Background(), userID, product.ID, 3)
	require.NoError(t, err)

	line := store.lines[product.ID]
	require.Equal(t, int32(2), line.FreeQty)
	require.Equal(t, int64(2000), line.MembershipSavings)
	require.Equal(t, int32(2), store.allocations[0].Used)
	require.Equal(t, int32(0), store.allocations[0].Available())

	require.Equal(t, int64(3000), priced.Subtotal)
	require.Equal(t, int64(2000), priced.MembershipDiscount)
	require.Equal(t, int64(1000), priced.FinalTotal)
}

func TestAddLineRejectsBadInput(t *testing.T) {
	store := newFakeStore()
	svc := newService(store)

	_, err := svc.AddLine(context.Background(), uuid.New(), uuid.New(), 0)
	require.ErrorIs(t, err, cart.ErrInvalidQty)

	_, err = svc.AddLine(context.Background(), uuid.New(), uuid.New(), 1)
	require.ErrorIs(t, err, cart.ErrProductNotFound)

	inactive := addProduct(store, 1000, false)
	_, err = svc.AddLine(context.Background(), uuid.New(), inactive.ID, 1)
	require.ErrorIs(t, err, cart.ErrProductInactive)
}

func TestAddThenRemoveRoundTrip(t *testing.T) {
	store := newFakeStore()
	product := addProduct(store, 1000, true)
	store.allocations = []membership.Allocation{{
		ID:         uuid.New(),
		CategoryID: product.CategoryID,
		Allocated:  2,
	}}
	svc := newService(store)
	userID := uuid.New()

	_, err := svc.AddLine(context.Background(), userID, product.ID, 2)
	require.NoError(t, err)
	require.Equal(t, int32(2), store.allocations[0].Used)

	priced, err := svc.RemoveLine(context.Background(), userID, product.ID)
	require.NoError(t, err)
	require.Equal(t, int32(0), store.allocations[0].Used)
	require.Equal(t, int64(0), priced.Subtotal)
	require.Empty(t, priced.Lines)
}

func TestUpdateLineReducesReservation(t *testing.T) {
	store := newFakeStore()
	product := addProduct(store, 1000, true)
	store.allocations = []membership.Allocation{{
		ID:         uuid.New(),
		CategoryID: product.CategoryID,
		Allocated:  5,
	}}
	svc := newService(store)
	userID := uuid.New()

	_, err := svc.AddLine(context.Background(), userID, product.ID, 4)
	require.NoError(t, err)
	require.Equal(t, int32(4), store.allocations[0].Used)

	_, err = svc.UpdateLine(context.Background(), userID, product.ID, 1)
	require.NoError(t, err)
	require.Equal(t, int32(1), store.allocations[0].Used)
	require.Equal(t, int32(1), store.lines[product.ID].FreeQty)
}

func TestUpdateLineZeroRemoves(t *testing.T) {
	store := newFakeStore()
	product := addProduct(store, 1000, true)
	svc := newService(store)
	userID := uuid.New()

	_, err := svc.AddLine(context.Background(), userID, product.ID, 1)
	require.NoError(t, err)

	priced, err := svc.UpdateLine(context.Background(), userID, product.ID, 0)
	require.NoError(t, err)
	require.Empty(t, priced.Lines)
}

func TestUpdateLineMissingItem(t *testing.T) {
	store := newFakeStore()
	product := addProduct(store, 1000, true)
	svc := newService(store)
	userID := uuid.New()

	_, err := svc.AddLine(context.Background(), userID, product.ID, 1)
	require.NoError(t, err)

	_, err = svc.UpdateLine(context.Background(), userID, uuid.New(), 2)
	require.ErrorIs(t, err, cart.ErrItemNotInCart)
}

func TestApplyPromotionPercentage(t *testing.T) {
	store := newFakeStore()
	product := addProduct(store, 1000, true)
	store.addRule("SAVE20", promotion.Rule{
		Name:   "Spring sale",
		Kind:   promotion.KindPercentage,
		Value:  2000,
		Scope:  promotion.ScopeEntireStore,
		Active: true,
	})
	svc := newService(store)
	userID := uuid.New()

	_, err := svc.AddLine(context.Background(), userID, product.ID, 5)
	require.NoError(t, err)

	priced, err := svc.ApplyPromotionCode(context.Background(), userID, "SAVE20")
	require.NoError(t, err)
	require.Equal(t, int64(5000), priced.Subtotal)
	require.Equal(t, int64(1000), priced.PromotionDiscount)
	require.NotNil(t, priced.PromotionCode)
	require.Equal(t, "SAVE20", *priced.PromotionCode)
}

func TestApplyPromotionMinimumPurchase(t *testing.T) {
	store := newFakeStore()
	product := addProduct(store, 1000, true)
	store.addRule("BIG30", promotion.Rule{
		Kind:        promotion.KindPercentage,
		Value:       1000,
		Scope:       promotion.ScopeEntireStore,
		Active:      true,
		MinPurchase: 3000,
	})
	svc := newService(store)
	userID := uuid.New()

	_, err := svc.AddLine(context.Background(), userID, product.ID, 2)
	require.NoError(t, err)

	_, err = svc.ApplyPromotionCode(context.Background(), userID, "BIG30")
	require.ErrorIs(t, err, promotion.ErrMinimumPurchaseUnmet)
}

func TestApplyPromotionUnknownCode(t *testing.T) {
	store := newFakeStore()
	product := addProduct(store, 1000, true)
	svc := newService(store)
	userID := uuid.New()

	_, err := svc.AddLine(context.Background(), userID, product.ID, 1)
	require.NoError(t, err)

	_, err = svc.ApplyPromotionCode(context.Background(), userID, "NOPE")
	require.ErrorIs(t, err, promotion.ErrNotFound)
}

func TestPromotionSilentlyDetachedWhenInvalidated(t *testing.T) {
	store := newFakeStore()
	product := addProduct(store, 1000, true)
	store.addRule("BIG30", promotion.Rule{
		Kind:        promotion.KindPercentage,
		Value:       1000,
		Scope:       promotion.ScopeEntireStore,
		Active:      true,
		MinPurchase: 3000,
	})
	svc := newService(store)
	userID := uuid.New()

	_, err := svc.AddLine(context.Background(), userID, product.ID, 4)
	require.NoError(t, err)
	_, err = svc.ApplyPromotionCode(context.Background(), userID, "BIG30")
	require.NoError(t, err)

	// dropping below the minimum must not fail the update; the promotion
	// just falls off
	priced, err := svc.UpdateLine(context.Background(), userID, product.ID, 1)
	require.NoError(t, err)
	require.Nil(t, priced.PromotionCode)
	require.Equal(t, int64(0), priced.PromotionDiscount)
	require.Nil(t, store.cart.PromotionCode)
}

func TestRemovePromotion(t *testing.T) {
	store := newFakeStore()
	product := addProduct(store, 1000, true)
	store.addRule("SAVE20", promotion.Rule{
		Kind:   promotion.KindPercentage,
		Value:  2000,
		Scope:  promotion.ScopeEntireStore,
		Active: true,
	})
	svc := newService(store)
	userID := uuid.New()

	_, err := svc.AddLine(context.Background(), userID, product.ID, 3)
	require.NoError(t, err)
	_, err = svc.ApplyPromotionCode(context.Background(), userID, "SAVE20")
	require.NoError(t, err)

	priced, err := svc.RemovePromotion(context.Background(), userID)
	require.NoError(t, err)
	require.Nil(t, priced.PromotionCode)
	require.Equal(t, int64(0), priced.PromotionDiscount)
}

func TestPriceCartIdempotent(t *testing.T) {
	store := newFakeStore()
	product := addProduct(store, 1234, true)
	svc := newService(store)
	userID := uuid.New()

	_, err := svc.AddLine(context.Background(), userID, product.ID, 2)
	require.NoError(t, err)

	first, err := svc.PriceCart(context.Background(), userID, "standard")
	require.NoError(t, err)
	second, err := svc.PriceCart(context.Background(), userID, "standard")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestPriceCartWithoutCart(t *testing.T) {
	svc := newService(newFakeStore())
	priced, err := svc.PriceCart(context.Background(), uuid.New(), "standard")
	require.NoError(t, err)
	require.Equal(t, int64(0), priced.Total)
	require.Empty(t, priced.Lines)
}

func TestInactiveProductDroppedAndAllocationReturned(t *testing.T) {
	store := newFakeStore()
	product := addProduct(store, 1000, true)
	store.allocations = []membership.Allocation{{
		ID:         uuid.New(),
		CategoryID: product.CategoryID,
		Allocated:  2,
	}}
	svc := newService(store)
	userID := uuid.New()

	_, err := svc.AddLine(context.Background(), userID, product.ID, 2)
	require.NoError(t, err)
	require.Equal(t, int32(2), store.allocations[0].Used)

	// deactivate the product, then reprice: the line must be dropped and
	// its free units returned
	p := store.products[product.ID]
	p.Active = false
	store.products[product.ID] = p

	priced, err := svc.PriceCart(context.Background(), userID, "standard")
	require.NoError(t, err)
	require.Empty(t, priced.Lines)
	require.Equal(t, int32(0), store.allocations[0].Used)
}

type flakyAllocStore struct {
	*fakeStore
	failAllocations bool
}

func (f *flakyAllocStore) MembershipAllocations(ctx context.Context, userID uuid.UUID) ([]membership.Allocation, error) {
	if f.failAllocations {
		return nil, errors.New("allocations unavailable")
	}
	return f.fakeStore.MembershipAllocations(ctx, userID)
}

func TestRemoveLineFailsWhenAllocationLookupFails(t *testing.T) {
	inner := newFakeStore()
	product := addProduct(inner, 1000, true)
	inner.allocations = []membership.Allocation{{
		ID:         uuid.New(),
		CategoryID: product.CategoryID,
		Allocated:  2,
	}}
	store := &flakyAllocStore{fakeStore: inner}
	svc := newService(inner)
	svc.Store = store
	userID := uuid.New()

	_, err := svc.AddLine(context.Background(), userID, product.ID, 2)
	require.NoError(t, err)
	require.Equal(t, int32(2), inner.allocations[0].Used)

	// the ledger cannot be consulted, so the removal must fail rather
	// than delete the line and strand the reserved units
	store.failAllocations = true
	_, err = svc.RemoveLine(context.Background(), userID, product.ID)
	require.Error(t, err)
	require.Contains(t, inner.lines, product.ID)
	require.Equal(t, int32(2), inner.allocations[0].Used)
}

func TestShippingAndTaxComposition(t *testing.T) {
	store := newFakeStore()
	product := addProduct(store, 2499, true)
	svc := newService(store)
	userID := uuid.New()

	priced, err := svc.AddLine(context.Background(), userID, product.ID, 1)
	require.NoError(t, err)
	require.Equal(t, int64(599), priced.Shipping)
	// tax = 8% of (2499 + 599) = 247.84 -> 248
	require.Equal(t, int64(248), priced.Tax)
	require.Equal(t, int64(2499+599+248), priced.Total)
}
