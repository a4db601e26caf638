package events

// Topic constants for domain events emitted by the platform.
const (
	TopicCartPriced         = "cart.priced"
	TopicOrderCreated       = "order.created"
	TopicPromotionApplied   = "promotion.applied"
	TopicPromotionDetached  = "promotion.detached"
	TopicPromotionSettled   = "promotion.settled"
	TopicAllocationReserved = "allocation.reserved"
	TopicAllocationReset    = "allocation.reset"
)

// DefaultTopics returns the canonical list of topics subscribers may listen on.
func DefaultTopics() []string {
	return []string{
		TopicCartPriced,
		TopicOrderCreated,
		TopicPromotionApplied,
		TopicPromotionDetached,
		TopicPromotionSettled,
		TopicAllocationReserved,
		TopicAllocationReset,
	}
}
