package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/oakmart/backend-store/internal/events"
)

// Events persists domain events. Implements events.EventStore.
type Events struct {
	DB DBTX
}

// InsertDomainEvent appends an event to the log.
func (r Events) InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (events.Event, error) {
	const q = `
INSERT INTO domain_events (topic, aggregate_id, payload)
VALUES ($1, $2, $3)
RETURNING id, topic, aggregate_id, payload, occurred_at`
	var ev events.Event
	err := r.DB.QueryRow(ctx, q, topic, aggregateID, payload).Scan(
		&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt,
	)
	return ev, err
}

// ListRecentEvents returns the latest events for a topic, newest first.
func (r Events) ListRecentEvents(ctx context.Context, topic string, limit int32) ([]events.Event, error) {
	const q = `
SELECT id, topic, aggregate_id, payload, occurred_at
FROM domain_events
WHERE topic = $1
ORDER BY occurred_at DESC
LIMIT $2`
	rows, err := r.DB.Query(ctx, q, topic, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []events.Event
	for rows.Next() {
		var ev events.Event
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
