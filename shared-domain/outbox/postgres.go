package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const insertQuery = `
	INSERT INTO outbox (id, order_id, event_type, payload, created_at)
	VALUES ($1, $2, $3, $4, $5)
`

// Insert writes events inside tx. It must be called in the transaction that
// persists the state change the events describe.
func Insert(ctx context.Context, tx *sqlx.Tx, evs ...events.SagaEvent) error {
	for _, event := range evs {
		record, err := NewRecord(event)
		if err != nil {
			return err
		}
		// payload goes as text: lib/pq would encode []byte as bytea.
		_, err = tx.ExecContext(ctx, insertQuery,
			record.ID, record.OrderID, record.EventType, string(record.Payload), record.CreatedAt)
		if err != nil {
			return fmt.Errorf("outbox insert error (%s): %w", event.EventType, err)
		}
	}
	return nil
}

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Pending(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	err := s.db.SelectContext(ctx, &records, `
		SELECT id, order_id, event_type, payload, created_at, published_at, attempts, last_error
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox pending query error: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) MarkPublished(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET published_at = $2, attempts = attempts + 1 WHERE id = $1`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("outbox mark published error: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`,
		id, cause.Error())
	if err != nil {
		return fmt.Errorf("outbox mark failed error: %w", err)
	}
	return nil
}
