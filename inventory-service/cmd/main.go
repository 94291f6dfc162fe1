package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/distributed-ecommerce-saga/fulfillment/inventory-service/internal/handlers"
	"github.com/distributed-ecommerce-saga/fulfillment/inventory-service/internal/repository"
	"github.com/distributed-ecommerce-saga/fulfillment/inventory-service/internal/service"
	"github.com/distributed-ecommerce-saga/fulfillment/inventory-service/migrations"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/config"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/database"
	sharedHTTP "github.com/distributed-ecommerce-saga/fulfillment/shared-domain/http"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/logging"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/messaging"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/outbox"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/retry"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := config.Load(".env"); err != nil {
		log.Fatal().Err(err).Msg("Config load error")
	}
	cfg := config.NewServiceConfig("inventory-service", "8003")
	logging.Init(cfg.Name, cfg.LogLevel, cfg.LogPretty)
	log.Info().Msg("Inventory Service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inventoryRepo, store, closeDB := initStorage(ctx, cfg)
	defer closeDB()

	inventoryHandler := handlers.NewInventoryHandler(service.NewInventoryService(inventoryRepo))

	dispatcher := messaging.NewDispatcher(cfg.Name)
	policy := retry.DefaultPolicy
	policy.MaxAttempts = cfg.ConsumerAttempts
	inventoryHandler.RegisterEventHandlers(dispatcher, policy)

	bus, err := messaging.NewRuntime(ctx, cfg.Broker, "inventory-service-queue", dispatcher)
	if err != nil {
		log.Fatal().Err(err).Msg("Message broker connection error")
	}
	defer bus.Close()
	bus.Start(ctx)

	go outbox.NewRelay(store, bus.Publisher, cfg.OutboxPollInterval, cfg.OutboxBatchSize).Run(ctx)

	app := fiber.New(fiber.Config{
		AppName:      "Inventory Service v1.0",
		ErrorHandler: sharedHTTP.ErrorHandler,
	})
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} - ${latency}\n",
	}))
	app.Use(cors.New())

	inventoryHandler.RegisterRoutes(app.Group("/api/v1"))

	go func() {
		<-ctx.Done()
		log.Info().Msg("Inventory Service closing...")
		if err := app.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Shutdown error")
		}
	}()

	log.Info().Str("port", cfg.Port).Msg("Inventory Service listening")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("Server start error")
	}
}

func initStorage(ctx context.Context, cfg config.ServiceConfig) (repository.InventoryRepository, outbox.Store, func()) {
	if cfg.Storage == config.StorageMemory {
		ob := outbox.NewMemory()
		return repository.NewMemoryInventoryRepository(ob), ob, func() {}
	}

	pgCfg := config.NewPostgresConfig("inventory_db")
	db, err := database.Connect(ctx, pgCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection error")
	}
	if err := database.Migrate(db, migrations.FS, ".", pgCfg.DBName, "inventory_schema_migrations"); err != nil {
		log.Fatal().Err(err).Msg("Database migration error")
	}
	return repository.NewInventoryRepository(db), outbox.NewPostgresStore(db), func() { db.Close() }
}
