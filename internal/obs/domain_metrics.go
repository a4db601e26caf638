package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CartPriceTotal counts cart pricing computations by outcome.
	CartPriceTotal *prometheus.CounterVec
	// CartPriceLatency records cart pricing latency in milliseconds.
	CartPriceLatency prometheus.Histogram
	// PromotionApplyTotal counts promotion code application attempts by outcome.
	PromotionApplyTotal *prometheus.CounterVec
	// PromotionSettleTotal counts promotion usage settlements by outcome.
	PromotionSettleTotal *prometheus.CounterVec
	// AllocationReserveTotal counts membership allocation reservations by outcome.
	AllocationReserveTotal *prometheus.CounterVec
	// CheckoutTotal counts checkout attempts by outcome.
	CheckoutTotal *prometheus.CounterVec
	// DomainEventsTotal counts emitted domain events by topic.
	DomainEventsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CartPriceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_price_total",
			Help:      "Count of cart pricing computations by outcome.",
		}, []string{"result"})
		CartPriceLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cart_price_duration_ms",
			Help:      "Latency of cart pricing computations in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		})
		PromotionApplyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_apply_total",
			Help:      "Count of promotion code application attempts by outcome.",
		}, []string{"result"})
		PromotionSettleTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_settle_total",
			Help:      "Count of promotion usage settlements by outcome.",
		}, []string{"result"})
		AllocationReserveTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_reserve_total",
			Help:      "Count of membership allocation reservations by outcome.",
		}, []string{"result"})
		CheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Count of checkout attempts by outcome.",
		}, []string{"result"})
		DomainEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_events_total",
			Help:      "Count of emitted domain events by topic.",
		}, []string{"topic"})

		mustRegisterCollector(reg, CartPriceTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CartPriceTotal = v
			}
		})
		mustRegisterCollector(reg, CartPriceLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				CartPriceLatency = v
			}
		})
		mustRegisterCollector(reg, PromotionApplyTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PromotionApplyTotal = v
			}
		})
		mustRegisterCollector(reg, PromotionSettleTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PromotionSettleTotal = v
			}
		})
		mustRegisterCollector(reg, AllocationReserveTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				AllocationReserveTotal = v
			}
		})
		mustRegisterCollector(reg, CheckoutTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutTotal = v
			}
		})
		mustRegisterCollector(reg, DomainEventsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				DomainEventsTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
