package messaging

import (
	"context"
	"sort"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/retry"
	"github.com/rs/zerolog/log"
)

const (
	headerOrderID       = "order_id"
	headerCorrelationID = "correlation_id"
	headerService       = "service"
	headerEventType     = "event_type"
	headerAttempt       = "x-attempt"
)

// EventHandler processes one event. Returning an error marked with
// retry.Permanent sends the message straight to the dead-letter queue.
type EventHandler func(ctx context.Context, event events.SagaEvent) error

type Decision int

const (
	Ack Decision = iota
	Retry
	DeadLetter
)

func (d Decision) String() string {
	switch d {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	default:
		return "dead_letter"
	}
}

type route struct {
	handler EventHandler
	policy  retry.Policy
}

// Dispatcher maps routing keys to handlers, each with its own retry policy.
type Dispatcher struct {
	service string
	routes  map[string]route
}

func NewDispatcher(service string) *Dispatcher {
	return &Dispatcher{
		service: service,
		routes:  make(map[string]route),
	}
}

// Handle registers handler for events of eventType published by source.
func (d *Dispatcher) Handle(source string, eventType events.SagaEventType, policy retry.Policy, handler EventHandler) *Dispatcher {
	d.routes[events.RoutingKey(source, eventType)] = route{handler: handler, policy: policy}
	return d
}

func (d *Dispatcher) Service() string {
	return d.service
}

// RoutingKeys returns the bindings the consuming queue needs, sorted.
func (d *Dispatcher) RoutingKeys() []string {
	keys := make([]string, 0, len(d.routes))
	for k := range d.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Dispatch runs the handler for event. attempt is one-based.
func (d *Dispatcher) Dispatch(ctx context.Context, event events.SagaEvent, attempt int) Decision {
	logger := log.With().
		Str("consumer", d.service).
		Str("event_type", string(event.EventType)).
		Stringer("event_id", event.ID).
		Stringer("order_id", event.OrderID).
		Int("attempt", attempt).
		Logger()

	r, ok := d.routes[event.RoutingKey()]
	if !ok {
		logger.Warn().Str("routing_key", event.RoutingKey()).Msg("No handler registered, dropping event")
		return Ack
	}

	err := r.handler(ctx, event)
	switch {
	case err == nil:
		logger.Debug().Msg("Event processed successfully")
		return Ack
	case retry.IsPermanent(err):
		logger.Error().Err(err).Msg("Event cannot be processed, sending to dead-letter queue")
		return DeadLetter
	case attempt >= r.policy.MaxAttempts:
		logger.Error().Err(err).Msg("Max attempts reached, sending to dead-letter queue")
		return DeadLetter
	default:
		logger.Warn().Err(err).Msg("Event process error, will retry")
		return Retry
	}
}

// RetryDelay is the wait before redelivering event for the given attempt.
func (d *Dispatcher) RetryDelay(event events.SagaEvent, attempt int) time.Duration {
	if r, ok := d.routes[event.RoutingKey()]; ok {
		return r.policy.Backoff(attempt)
	}
	return 0
}
