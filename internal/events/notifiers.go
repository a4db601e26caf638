package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/oakmart/backend-store/internal/obs"
)

// LogNotifier writes emitted events to the structured log.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify logs the event topic and aggregate.
func (n LogNotifier) Notify(_ context.Context, event Event) error {
	n.Logger.Info().
		Str("topic", event.Topic).
		Str("event_id", event.ID.String()).
		Str("aggregate_id", event.AggregateID.String()).
		Msg("domain_event")
	return nil
}

// MetricsNotifier increments the domain event counter per topic.
type MetricsNotifier struct{}

// Notify records the event in Prometheus.
func (MetricsNotifier) Notify(_ context.Context, event Event) error {
	if obs.DomainEventsTotal != nil {
		obs.DomainEventsTotal.WithLabelValues(event.Topic).Inc()
	}
	return nil
}
