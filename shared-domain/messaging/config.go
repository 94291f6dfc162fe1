package messaging

import (
	"fmt"
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/config"
)

type RabbitMQConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	VHost             string
	Exchange          string
	DeadLetterSuffix  string
	RetryCount        int
	RetryDelay        time.Duration
	ConnectionTimeout time.Duration
	Prefetch          int
	Workers           int
}

func NewRabbitMQConfig() *RabbitMQConfig {
	return &RabbitMQConfig{
		Host:              config.GetEnvOrDefault("RABBITMQ_HOST", "localhost"),
		Port:              config.GetEnvInt("RABBITMQ_PORT", 5672),
		Username:          config.GetEnvOrDefault("RABBITMQ_USERNAME", "guest"),
		Password:          config.GetEnvOrDefault("RABBITMQ_PASSWORD", "guest"),
		VHost:             config.GetEnvOrDefault("RABBITMQ_VHOST", "/"),
		Exchange:          config.GetEnvOrDefault("RABBITMQ_EXCHANGE", "saga.events"),
		DeadLetterSuffix:  config.GetEnvOrDefault("RABBITMQ_DLX_SUFFIX", ".dlx"),
		RetryCount:        config.GetEnvInt("RABBITMQ_RETRY_COUNT", 3),
		RetryDelay:        config.GetEnvDuration("RABBITMQ_RETRY_DELAY", 5*time.Second),
		ConnectionTimeout: config.GetEnvDuration("RABBITMQ_CONNECTION_TIMEOUT", 30*time.Second),
		Prefetch:          config.GetEnvInt("RABBITMQ_PREFETCH", 32),
		Workers:           config.GetEnvInt("CONSUMER_WORKERS", 8),
	}
}

func (c *RabbitMQConfig) ConnectionURL() string {
	vhost := c.VHost
	if vhost != "/" && !strings.HasPrefix(vhost, "/") {
		vhost = "/" + vhost
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.Username, c.Password, c.Host, c.Port, vhost)
}

// DeadLetterExchange is the direct exchange rejected messages are routed to.
func (c *RabbitMQConfig) DeadLetterExchange() string {
	return c.Exchange + c.DeadLetterSuffix
}
