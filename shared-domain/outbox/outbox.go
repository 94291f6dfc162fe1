// Package outbox stores events in the same transaction as the state change
// that produced them and relays them to the bus afterwards.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/google/uuid"
)

type Record struct {
	ID          uuid.UUID      `db:"id"`
	OrderID     uuid.UUID      `db:"order_id"`
	EventType   string         `db:"event_type"`
	Payload     []byte         `db:"payload"`
	CreatedAt   time.Time      `db:"created_at"`
	PublishedAt sql.NullTime   `db:"published_at"`
	Attempts    int            `db:"attempts"`
	LastError   sql.NullString `db:"last_error"`
}

// NewRecord serializes the whole envelope so the relay can publish it unchanged.
func NewRecord(event events.SagaEvent) (Record, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return Record{}, fmt.Errorf("outbox record serialization error: %w", err)
	}
	return Record{
		ID:        event.ID,
		OrderID:   event.OrderID,
		EventType: string(event.EventType),
		Payload:   body,
		CreatedAt: event.Timestamp,
	}, nil
}

func (r Record) Event() (events.SagaEvent, error) {
	var event events.SagaEvent
	if err := json.Unmarshal(r.Payload, &event); err != nil {
		return event, fmt.Errorf("outbox record %s deserialization error: %w", r.ID, err)
	}
	return event, nil
}

// Store is the relay's view of an outbox table.
type Store interface {
	Pending(ctx context.Context, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
}
