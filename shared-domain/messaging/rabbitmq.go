package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/retry"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

var ErrNotConnected = errors.New("there is no connection to RabbitMQ")

// RabbitMQClient owns the broker connection. Publishers and consumers open
// their own channels on it and watch Done to stop.
type RabbitMQClient struct {
	config *RabbitMQConfig

	mu      sync.RWMutex
	conn    *amqp.Connection
	closing bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRabbitMQClient(config *RabbitMQConfig) *RabbitMQClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &RabbitMQClient{config: config, ctx: ctx, cancel: cancel}
}

func (r *RabbitMQClient) Config() *RabbitMQConfig {
	return r.config
}

func (r *RabbitMQClient) dialPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:  r.config.RetryCount,
		InitialDelay: r.config.RetryDelay,
		MaxDelay:     4 * r.config.RetryDelay,
		Multiplier:   2,
	}
}

// Connect dials the broker, declares the saga topology and starts watching
// the connection for loss.
func (r *RabbitMQClient) Connect(ctx context.Context) error {
	err := retry.Do(ctx, r.dialPolicy(), func(ctx context.Context, attempt int) error {
		conn, err := amqp.DialConfig(r.config.ConnectionURL(), amqp.Config{
			Dial: amqp.DefaultDial(r.config.ConnectionTimeout),
		})
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", r.config.RetryCount).Msg("RabbitMQ connection error")
			return err
		}
		if err := r.declareTopology(conn); err != nil {
			conn.Close()
			return retry.Permanent(err)
		}

		r.mu.Lock()
		r.conn = conn
		r.mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	log.Info().Str("host", r.config.Host).Str("exchange", r.config.Exchange).Msg("Connected to RabbitMQ")
	go r.watch()
	return nil
}

// declareTopology declares the topic exchange events are published to and
// the direct exchange rejected deliveries are routed to.
func (r *RabbitMQClient) declareTopology(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	defer ch.Close()

	exchanges := []struct{ name, kind string }{
		{r.config.Exchange, amqp.ExchangeTopic},
		{r.config.DeadLetterExchange(), amqp.ExchangeDirect},
	}
	for _, ex := range exchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", ex.name, err)
		}
	}
	return nil
}

func (r *RabbitMQClient) watch() {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	select {
	case reason := <-conn.NotifyClose(make(chan *amqp.Error, 1)):
		if r.isClosing() {
			return
		}
		log.Warn().Interface("reason", reason).Msg("RabbitMQ connection lost, reconnecting")
		// Keep trying until Close; consumers block on OpenChannel errors meanwhile.
		for r.ctx.Err() == nil {
			if err := r.Connect(r.ctx); err == nil {
				return
			} else if !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("RabbitMQ reconnect error")
			}
		}
	case <-r.ctx.Done():
	}
}

func (r *RabbitMQClient) isClosing() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closing
}

// OpenChannel opens a dedicated channel on the current connection.
func (r *RabbitMQClient) OpenChannel() (*amqp.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.conn == nil || r.conn.IsClosed() {
		return nil, ErrNotConnected
	}
	return r.conn.Channel()
}

// Done is closed once the client is closed.
func (r *RabbitMQClient) Done() <-chan struct{} {
	return r.ctx.Done()
}

func (r *RabbitMQClient) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn != nil && !r.conn.IsClosed()
}

func (r *RabbitMQClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing {
		return nil
	}
	r.closing = true
	r.cancel()

	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	if err := r.conn.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		return fmt.Errorf("connection close error: %w", err)
	}
	log.Info().Msg("RabbitMQ connection closed")
	return nil
}
