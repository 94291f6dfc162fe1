// Package config reads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads path into the process environment. A missing file is not an
// error; variables already set take precedence.
func Load(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func GetEnvBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

// GetEnvDuration accepts Go duration strings such as "500ms" or "2s".
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

type PostgresConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	// Schema, when set, becomes the connection's search_path.
	Schema       string
	MaxOpenConns int
	MaxIdleConns int
}

// NewPostgresConfig reads DB_* variables; defaultDB names the service database.
func NewPostgresConfig(defaultDB string) PostgresConfig {
	return PostgresConfig{
		Host:         GetEnvOrDefault("DB_HOST", "localhost"),
		Port:         GetEnvOrDefault("DB_PORT", "5432"),
		User:         GetEnvOrDefault("DB_USER", "postgres"),
		Password:     GetEnvOrDefault("DB_PASSWORD", "postgres"),
		DBName:       GetEnvOrDefault("DB_NAME", defaultDB),
		SSLMode:      GetEnvOrDefault("DB_SSLMODE", "disable"),
		Schema:       GetEnvOrDefault("DB_SCHEMA", ""),
		MaxOpenConns: GetEnvInt("DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns: GetEnvInt("DB_MAX_IDLE_CONNS", 5),
	}
}

func (c PostgresConfig) DSN() string {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
	if c.Schema != "" {
		dsn += " search_path=" + c.Schema
	}
	return dsn
}

// ServiceConfig holds the settings shared by every service binary.
type ServiceConfig struct {
	Name               string
	Port               string
	LogLevel           string
	LogPretty          bool
	Storage            string
	Broker             string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	ConsumerAttempts   int
}

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"

	BrokerRabbitMQ = "rabbitmq"
	BrokerMemory   = "memory"
)

func NewServiceConfig(name, defaultPort string) ServiceConfig {
	return ServiceConfig{
		Name:               name,
		Port:               GetEnvOrDefault("PORT", defaultPort),
		LogLevel:           GetEnvOrDefault("LOG_LEVEL", "info"),
		LogPretty:          GetEnvBool("LOG_PRETTY", false),
		Storage:            GetEnvOrDefault("STORAGE", StoragePostgres),
		Broker:             GetEnvOrDefault("BROKER", BrokerRabbitMQ),
		OutboxPollInterval: GetEnvDuration("OUTBOX_POLL_INTERVAL", time.Second),
		OutboxBatchSize:    GetEnvInt("OUTBOX_BATCH_SIZE", 100),
		ConsumerAttempts:   GetEnvInt("CONSUMER_MAX_ATTEMPTS", 5),
	}
}
