package outbox

import (
	"context"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/messaging"
	"github.com/rs/zerolog/log"
)

// Relay polls a Store and publishes pending records in creation order.
// A record is marked published only after the publisher accepted it, so a
// crash in between causes a duplicate, never a loss.
type Relay struct {
	store     Store
	publisher messaging.EventPublisher
	interval  time.Duration
	batchSize int
}

func NewRelay(store Store, publisher messaging.EventPublisher, interval time.Duration, batchSize int) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run flushes on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("Outbox relay flush error")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("Outbox relay stopped")
			return
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch and returns how many records were published. It
// stops at the first publish failure so later events never overtake it.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	records, err := r.store.Pending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, record := range records {
		event, err := record.Event()
		if err != nil {
			log.Error().Err(err).Stringer("outbox_id", record.ID).Msg("Skipping undecodable outbox record")
			if markErr := r.store.MarkFailed(ctx, record.ID, err); markErr != nil {
				return published, markErr
			}
			continue
		}

		if err := r.publisher.Publish(ctx, event); err != nil {
			if markErr := r.store.MarkFailed(ctx, record.ID, err); markErr != nil {
				log.Error().Err(markErr).Stringer("outbox_id", record.ID).Msg("Failed to record outbox publish failure")
			}
			return published, err
		}
		if err := r.store.MarkPublished(ctx, record.ID); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}
