package messaging

import (
	"context"
	"fmt"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/config"
	"github.com/rs/zerolog/log"
)

// Runtime is the bus a service binary publishes to and consumes from.
type Runtime struct {
	Publisher EventPublisher
	consume   func(ctx context.Context) error
	close     func() error
}

// NewRuntime connects to the broker named by kind. With config.BrokerMemory
// events only reach dispatchers in this process.
func NewRuntime(ctx context.Context, kind, queue string, dispatcher *Dispatcher) (*Runtime, error) {
	switch kind {
	case config.BrokerMemory:
		bus := NewMemoryBus()
		bus.Subscribe(queue, dispatcher)
		return &Runtime{
			Publisher: bus,
			consume:   func(ctx context.Context) error { <-ctx.Done(); return nil },
			close:     func() error { return nil },
		}, nil

	case config.BrokerRabbitMQ:
		client := NewRabbitMQClient(NewRabbitMQConfig())
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		publisher := NewPublisher(client)
		consumer := NewConsumer(client, queue, dispatcher)
		return &Runtime{
			Publisher: publisher,
			consume:   consumer.Run,
			close: func() error {
				publisher.Close()
				return client.Close()
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown broker %q", kind)
}

// Start consumes in the background until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) {
	go func() {
		if err := r.consume(ctx); err != nil {
			log.Error().Err(err).Msg("Event consumption error")
		}
	}()
}

func (r *Runtime) Close() error {
	return r.close()
}
