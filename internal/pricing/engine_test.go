package pricing

import "testing"

func opts(method string) Options {
	return Options{
		DeliveryMethod:        method,
		TaxBps:                800,
		FreeShippingThreshold: 2500,
		StandardRate:          599,
		ExpressRate:           999,
	}
}

func TestComputeSubtotalUsesOriginalPrice(t *testing.T) {
	items := []Item{
		{Qty: 2, UnitPrice: 800, OriginalUnitPrice: 1000},
		{Qty: 1, UnitPrice: 500, OriginalUnitPrice: 500},
	}
	got := Compute(items, 0, opts(DeliveryPickup))
	if got.Subtotal != 2500 {
		t.Fatalf("subtotal = %d, want 2500", got.Subtotal)
	}
}

func TestComputeMembershipAndPromotionDiscounts(t *testing.T) {
	items := []Item{
		{Qty: 3, UnitPrice: 1000, OriginalUnitPrice: 1000, MembershipSavings: 2000},
	}
	got := Compute(items, 500, opts(DeliveryPickup))
	if got.MembershipDiscount != 2000 {
		t.Fatalf("membership discount = %d, want 2000", got.MembershipDiscount)
	}
	if got.FinalTotal != 500 {
		t.Fatalf("final total = %d, want 500", got.FinalTotal)
	}
}

func TestComputeNeverGoesNegative(t *testing.T) {
	items := []Item{{Qty: 1, UnitPrice: 1000, OriginalUnitPrice: 1000}}
	got := Compute(items, 5000, opts(DeliveryPickup))
	if got.FinalTotal != 0 {
		t.Fatalf("final total = %d, want 0", got.FinalTotal)
	}
	if got.Total < 0 {
		t.Fatalf("total = %d, want >= 0", got.Total)
	}
}

func TestShippingThreshold(t *testing.T) {
	// $24.99 final total ships standard; $25.00 ships free.
	below := Compute([]Item{{Qty: 1, UnitPrice: 2499, OriginalUnitPrice: 2499}}, 0, opts(DeliveryStandard))
	if below.Shipping != 599 {
		t.Fatalf("shipping = %d, want 599", below.Shipping)
	}
	at := Compute([]Item{{Qty: 1, UnitPrice: 2500, OriginalUnitPrice: 2500}}, 0, opts(DeliveryStandard))
	if at.Shipping != 0 {
		t.Fatalf("shipping = %d, want 0", at.Shipping)
	}
}

func TestShippingExpressAndPickup(t *testing.T) {
	express := Compute([]Item{{Qty: 1, UnitPrice: 1000, OriginalUnitPrice: 1000}}, 0, opts(DeliveryExpress))
	if express.Shipping != 999 {
		t.Fatalf("express shipping = %d, want 999", express.Shipping)
	}
	pickup := Compute([]Item{{Qty: 1, UnitPrice: 1000, OriginalUnitPrice: 1000}}, 0, opts(DeliveryPickup))
	if pickup.Shipping != 0 {
		t.Fatalf("pickup shipping = %d, want 0", pickup.Shipping)
	}
}

func TestTaxAppliedAfterDiscountsPlusShipping(t *testing.T) {
	// final 1000 + shipping 599 = 1599; 8% of 1599 = 127.92 -> 128 half-up.
	got := Compute([]Item{{Qty: 1, UnitPrice: 1000, OriginalUnitPrice: 1000}}, 0, opts(DeliveryStandard))
	if got.Tax != 128 {
		t.Fatalf("tax = %d, want 128", got.Tax)
	}
	if got.Total != 1000+599+128 {
		t.Fatalf("total = %d, want %d", got.Total, 1000+599+128)
	}
}

func TestComputeEmptyCart(t *testing.T) {
	got := Compute(nil, 0, opts(DeliveryStandard))
	if got.Subtotal != 0 || got.Total != got.Shipping+got.Tax {
		t.Fatalf("unexpected summary for empty cart: %+v", got)
	}
}

func TestRoundBpsHalfUp(t *testing.T) {
	if got := RoundBps(1599, 800); got != 128 {
		t.Fatalf("RoundBps(1599, 800) = %d, want 128", got)
	}
	if got := RoundBps(125, 800); got != 10 {
		t.Fatalf("RoundBps(125, 800) = %d, want 10", got)
	}
	if got := RoundBps(0, 800); got != 0 {
		t.Fatalf("RoundBps(0, 800) = %d, want 0", got)
	}
}
