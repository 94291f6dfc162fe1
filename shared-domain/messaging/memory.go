package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
)

// DeadLetterRecord is an event the memory bus gave up on.
type DeadLetterRecord struct {
	Queue    string
	Event    events.SagaEvent
	Attempts int
}

type subscription struct {
	queue      string
	dispatcher *Dispatcher
	keys       map[string]struct{}
}

// MemoryBus is an in-process EventPublisher. Publish delivers synchronously
// to every subscribed dispatcher, applying the same ack/retry/dead-letter
// decisions as the RabbitMQ consumer.
type MemoryBus struct {
	mu          sync.RWMutex
	subs        []*subscription
	published   []events.SagaEvent
	deadLetters []DeadLetterRecord
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{sleep: sleepCtx}
}

// Subscribe binds queue to every routing key the dispatcher handles.
func (b *MemoryBus) Subscribe(queue string, dispatcher *Dispatcher) {
	keys := make(map[string]struct{})
	for _, k := range dispatcher.RoutingKeys() {
		keys[k] = struct{}{}
	}
	b.mu.Lock()
	b.subs = append(b.subs, &subscription{queue: queue, dispatcher: dispatcher, keys: keys})
	b.mu.Unlock()
}

func (b *MemoryBus) Publish(ctx context.Context, event events.SagaEvent) error {
	b.mu.Lock()
	b.published = append(b.published, event)
	var targets []*subscription
	for _, s := range b.subs {
		if _, ok := s.keys[event.RoutingKey()]; ok {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		b.deliver(ctx, s, event)
	}
	return nil
}

func (b *MemoryBus) deliver(ctx context.Context, s *subscription, event events.SagaEvent) {
	for attempt := 1; ; attempt++ {
		switch s.dispatcher.Dispatch(ctx, event, attempt) {
		case Ack:
			return
		case DeadLetter:
			b.mu.Lock()
			b.deadLetters = append(b.deadLetters, DeadLetterRecord{Queue: s.queue, Event: event, Attempts: attempt})
			b.mu.Unlock()
			return
		case Retry:
			if err := b.sleep(ctx, s.dispatcher.RetryDelay(event, attempt)); err != nil {
				b.mu.Lock()
				b.deadLetters = append(b.deadLetters, DeadLetterRecord{Queue: s.queue, Event: event, Attempts: attempt})
				b.mu.Unlock()
				return
			}
		}
	}
}

// Published returns every event published so far, in order.
func (b *MemoryBus) Published() []events.SagaEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]events.SagaEvent(nil), b.published...)
}

func (b *MemoryBus) DeadLetters() []DeadLetterRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]DeadLetterRecord(nil), b.deadLetters...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
