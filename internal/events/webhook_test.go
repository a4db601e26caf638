package events_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/backend-store/internal/events"
)

func TestWebhookNotifierDeliversEnvelope(t *testing.T) {
	var received struct {
		ID          string          `json:"id"`
		Topic       string          `json:"topic"`
		AggregateID string          `json:"aggregate_id"`
		Payload     json.RawMessage `json:"payload"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	notifier := events.NewWebhookNotifier(srv.URL, zerolog.Nop())
	event := events.Event{
		ID:          uuid.New(),
		Topic:       "order.created",
		AggregateID: uuid.New(),
		Payload:     []byte(`{"total":1234}`),
		OccurredAt:  time.Now().UTC(),
	}

	require.NoError(t, notifier.Notify(context.Background(), event))
	require.Equal(t, event.ID.String(), received.ID)
	require.Equal(t, "order.created", received.Topic)
	require.JSONEq(t, `{"total":1234}`, string(received.Payload))
}

func TestWebhookNotifierSwallowsDeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	notifier := events.NewWebhookNotifier(srv.URL, zerolog.Nop())
	// emission must not fail because the downstream endpoint is unhealthy
	require.NoError(t, notifier.Notify(context.Background(), events.Event{
		ID:          uuid.New(),
		Topic:       "order.created",
		AggregateID: uuid.New(),
	}))
}
