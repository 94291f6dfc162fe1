package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

// Consumer reads a durable queue bound to the dispatcher's routing keys.
// Deliveries are spread over a fixed set of workers by order id so that
// messages for one order are handled one at a time, in arrival order.
type Consumer struct {
	client     *RabbitMQClient
	queueName  string
	dispatcher *Dispatcher
	workers    int
}

func NewConsumer(client *RabbitMQClient, queueName string, dispatcher *Dispatcher) *Consumer {
	workers := client.config.Workers
	if workers < 1 {
		workers = 1
	}
	return &Consumer{
		client:     client,
		queueName:  queueName,
		dispatcher: dispatcher,
		workers:    workers,
	}
}

// Run consumes until ctx is cancelled, re-subscribing after broker
// disconnects.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			log.Info().Str("queue", c.queueName).Msg("Consumer is stopped")
			return nil
		}
		log.Warn().Err(err).Str("queue", c.queueName).Msg("Consumer interrupted, resubscribing")

		select {
		case <-ctx.Done():
			return nil
		case <-c.client.Done():
			return nil
		case <-time.After(c.client.config.RetryDelay):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	ch, err := c.client.OpenChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	deliveries, err := c.setup(ch)
	if err != nil {
		return err
	}
	log.Info().Str("queue", c.queueName).Strs("routing_keys", c.dispatcher.RoutingKeys()).Int("workers", c.workers).Msg("Consuming events")

	lanes := make([]chan amqp.Delivery, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan amqp.Delivery)
		wg.Add(1)
		go func(lane <-chan amqp.Delivery) {
			defer wg.Done()
			for d := range lane {
				c.handleMessage(ctx, ch, d)
			}
		}(lanes[i])
	}
	defer func() {
		for _, lane := range lanes {
			close(lane)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			lanes[laneFor(d, c.workers)] <- d
		}
	}
}

func (c *Consumer) setup(ch *amqp.Channel) (<-chan amqp.Delivery, error) {
	cfg := c.client.config
	dlq := c.queueName + ".dlq"

	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("dead-letter queue declare error: %w", err)
	}
	if err := ch.QueueBind(dlq, c.queueName, cfg.DeadLetterExchange(), false, nil); err != nil {
		return nil, fmt.Errorf("dead-letter queue bind error: %w", err)
	}

	queue, err := ch.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    cfg.DeadLetterExchange(),
			"x-dead-letter-routing-key": c.queueName,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("queue declare error: %w", err)
	}

	for _, routingKey := range c.dispatcher.RoutingKeys() {
		if err := ch.QueueBind(queue.Name, routingKey, cfg.Exchange, false, nil); err != nil {
			return nil, fmt.Errorf("queue bind error (%s): %w", routingKey, err)
		}
	}

	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("qos error: %w", err)
	}

	messages, err := ch.Consume(
		queue.Name,
		c.dispatcher.Service(),
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume start error: %w", err)
	}
	return messages, nil
}

func (c *Consumer) handleMessage(ctx context.Context, ch *amqp.Channel, msg amqp.Delivery) {
	var event events.SagaEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		log.Error().Err(err).Str("queue", c.queueName).Str("message_id", msg.MessageId).Msg("Event deserialize error, sending to dead-letter queue")
		msg.Nack(false, false)
		return
	}

	attempt := attemptOf(msg.Headers)
	switch c.dispatcher.Dispatch(ctx, event, attempt) {
	case Ack:
		msg.Ack(false)
	case DeadLetter:
		msg.Nack(false, false)
	case Retry:
		c.republish(ctx, ch, msg, event, attempt)
	}
}

// republish sends a copy to the back of this service's queue with the
// attempt counter bumped, then acks the original.
func (c *Consumer) republish(ctx context.Context, ch *amqp.Channel, msg amqp.Delivery, event events.SagaEvent, attempt int) {
	select {
	case <-ctx.Done():
		msg.Nack(false, true)
		return
	case <-time.After(c.dispatcher.RetryDelay(event, attempt)):
	}

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[headerAttempt] = int32(attempt + 1)

	err := ch.Publish("", c.queueName, false, false, amqp.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageId,
		Timestamp:    msg.Timestamp,
		Headers:      headers,
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", event.OrderID).Msg("Retry publish error, requeueing")
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}

func attemptOf(headers amqp.Table) int {
	switch v := headers[headerAttempt].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 1
}

func laneFor(msg amqp.Delivery, lanes int) int {
	key, _ := msg.Headers[headerOrderID].(string)
	if key == "" {
		key = msg.MessageId
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(lanes))
}
