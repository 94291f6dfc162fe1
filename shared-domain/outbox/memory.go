package outbox

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/google/uuid"
)

// Memory is an in-process outbox used by the in-memory repositories.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func NewMemory() *Memory {
	return &Memory{}
}

// Add appends events. Callers invoke it while holding the lock that guards
// the state change, which gives the same atomicity as Insert in a transaction.
func (m *Memory) Add(evs ...events.SagaEvent) error {
	records := make([]Record, 0, len(evs))
	for _, event := range evs {
		r, err := NewRecord(event)
		if err != nil {
			return err
		}
		records = append(records, r)
	}
	m.mu.Lock()
	m.records = append(m.records, records...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Pending(ctx context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, r := range m.records {
		if r.PublishedAt.Valid {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkPublished(ctx context.Context, id uuid.UUID) error {
	m.update(id, func(r *Record) {
		r.Attempts++
		r.PublishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	})
	return nil
}

func (m *Memory) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	m.update(id, func(r *Record) {
		r.Attempts++
		r.LastError = sql.NullString{String: cause.Error(), Valid: true}
	})
	return nil
}

func (m *Memory) update(id uuid.UUID, fn func(*Record)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			fn(&m.records[i])
			return
		}
	}
}

// Events returns the decoded events of every record, published or not.
func (m *Memory) Events() []events.SagaEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]events.SagaEvent, 0, len(m.records))
	for _, r := range m.records {
		if e, err := r.Event(); err == nil {
			out = append(out, e)
		}
	}
	return out
}
