package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-klinik/internal/events"
)

// InsertDomainEvent appends an event to the domain event log and returns
// the stored row.
func (s *Store) InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (events.Event, error) {
	var ev events.Event
	err := s.pool.QueryRow(ctx, `
		INSERT INTO domain_events (topic, aggregate_id, payload)
		VALUES ($1, $2, $3)
		RETURNING id, topic, aggregate_id, payload, occurred_at
	`, topic, aggregateID, payload).Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	return ev, err
}
