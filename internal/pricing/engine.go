package pricing

// Money represents a monetary value stored in minor units.
type Money = int64

// Delivery methods accepted by the shipping rule.
const (
	DeliveryStandard = "standard"
	DeliveryExpress  = "express"
	DeliveryPickup   = "pickup"
)

// Item describes a cart line used for pricing calculation.
type Item struct {
	Qty               int
	UnitPrice         Money
	OriginalUnitPrice Money
	MembershipSavings Money
}

// Options carries the pricing knobs applied on top of the cart lines.
type Options struct {
	DeliveryMethod        string
	TaxBps                int64
	FreeShippingThreshold Money
	StandardRate          Money
	ExpressRate           Money
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal           Money `json:"subtotal"`
	MembershipDiscount Money `json:"membership_discount"`
	PromotionDiscount  Money `json:"promotion_discount"`
	FinalTotal         Money `json:"final_total"`
	Shipping           Money `json:"shipping_amount"`
	Tax                Money `json:"tax_amount"`
	Total              Money `json:"total_amount"`
}

// RoundBps applies a basis-point rate to an amount with half-up rounding.
func RoundBps(amount Money, bps int64) Money {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return (amount*bps + 5000) / 10000
}

// Compute calculates cart totals given the provided inputs. The subtotal is
// taken over the original (pre-sale) unit price so membership and promotion
// savings stay visible against the full price.
func Compute(items []Item, promotionDiscount Money, opts Options) Summary {
	var subtotal Money
	var membership Money
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		ref := it.OriginalUnitPrice
		if ref < it.UnitPrice {
			ref = it.UnitPrice
		}
		subtotal += Money(it.Qty) * ref
		membership += it.MembershipSavings
	}
	if promotionDiscount < 0 {
		promotionDiscount = 0
	}

	final := subtotal - membership - promotionDiscount
	if final < 0 {
		final = 0
	}

	shipping := shippingAmount(final, opts)
	tax := RoundBps(final+shipping, opts.TaxBps)

	return Summary{
		Subtotal:           subtotal,
		MembershipDiscount: membership,
		PromotionDiscount:  promotionDiscount,
		FinalTotal:         final,
		Shipping:           shipping,
		Tax:                tax,
		Total:              final + shipping + tax,
	}
}

// shippingAmount applies the flat shipping rule. The free-shipping threshold
// is evaluated against the discounted total, not the raw subtotal.
func shippingAmount(finalTotal Money, opts Options) Money {
	if opts.DeliveryMethod == DeliveryPickup {
		return 0
	}
	if opts.FreeShippingThreshold > 0 && finalTotal >= opts.FreeShippingThreshold {
		return 0
	}
	if opts.DeliveryMethod == DeliveryExpress {
		return opts.ExpressRate
	}
	return opts.StandardRate
}
