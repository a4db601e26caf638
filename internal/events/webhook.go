package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/oakmart/backend-store/internal/resilience"
)

// WebhookNotifier forwards emitted events to an external HTTP endpoint.
// Deliveries go through a circuit breaker so a dead endpoint cannot stall
// event emission; failed deliveries are logged and dropped, the event
// itself is already persisted.
type WebhookNotifier struct {
	URL    string
	Client resilience.HTTPClient
	Logger zerolog.Logger
}

// NewWebhookNotifier builds a notifier with the delivery policy used in
// both binaries: three attempts, short per-call timeout, breaker trips
// after repeated failures.
func NewWebhookNotifier(url string, logger zerolog.Logger) WebhookNotifier {
	return WebhookNotifier{
		URL: url,
		Client: resilience.HTTPClient{
			Client:      &http.Client{},
			Breaker:     resilience.NewBreaker(5, 0.6, 30*time.Second).WithTarget("event_webhook").WithLogger(logger),
			MaxAttempts: 3,
			BaseBackoff: 200 * time.Millisecond,
			Jitter:      0.2,
			Timeout:     3 * time.Second,
		},
		Logger: logger,
	}
}

type webhookEnvelope struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Notify posts the event envelope. Delivery errors are not propagated to
// the emitter.
func (n WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n.URL == "" {
		return nil
	}
	body, err := json.Marshal(webhookEnvelope{
		ID:          event.ID.String(),
		Topic:       event.Topic,
		AggregateID: event.AggregateID.String(),
		Payload:     event.Payload,
		OccurredAt:  event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("events: encode webhook envelope: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("events: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.Client.Do(ctx, req)
	if err != nil {
		n.Logger.Warn().Err(err).Str("topic", event.Topic).Msg("event webhook delivery failed")
		return nil
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		n.Logger.Warn().Int("status", resp.StatusCode).Str("topic", event.Topic).Msg("event webhook rejected")
	}
	return nil
}
