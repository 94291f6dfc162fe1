package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/distributed-ecommerce-saga/fulfillment/order-service/internal/handlers"
	"github.com/distributed-ecommerce-saga/fulfillment/order-service/internal/repository"
	"github.com/distributed-ecommerce-saga/fulfillment/order-service/internal/service"
	"github.com/distributed-ecommerce-saga/fulfillment/order-service/migrations"
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
	cfg := config.NewServiceConfig("order-service", "8001")
	logging.Init(cfg.Name, cfg.LogLevel, cfg.LogPretty)
	log.Info().Msg("Order Service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orderRepo, store, closeDB := initStorage(ctx, cfg)
	defer closeDB()

	orderService := service.NewOrderService(orderRepo, service.VisibilityPolicy)
	orderHandler := handlers.NewOrderHandler(orderService)

	dispatcher := messaging.NewDispatcher(cfg.Name)
	orderHandler.RegisterEventHandlers(dispatcher, consumerPolicy(cfg))

	bus, err := messaging.NewRuntime(ctx, cfg.Broker, "order-service-queue", dispatcher)
	if err != nil {
		log.Fatal().Err(err).Msg("Message broker connection error")
	}
	defer bus.Close()
	bus.Start(ctx)

	relay := outbox.NewRelay(store, bus.Publisher, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	go relay.Run(ctx)

	app := setupFiberApp()
	orderHandler.RegisterRoutes(app.Group("/api/v1"))

	go func() {
		<-ctx.Done()
		log.Info().Msg("Order Service closing...")
		if err := app.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Shutdown error")
		}
	}()

	log.Info().Str("port", cfg.Port).Msg("Order Service listening")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("Server start error")
	}
}

func initStorage(ctx context.Context, cfg config.ServiceConfig) (repository.OrderRepository, outbox.Store, func()) {
	if cfg.Storage == config.StorageMemory {
		ob := outbox.NewMemory()
		return repository.NewMemoryOrderRepository(ob), ob, func() {}
	}

	pgCfg := config.NewPostgresConfig("order_db")
	db, err := database.Connect(ctx, pgCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection error")
	}
	if err := database.Migrate(db, migrations.FS, ".", pgCfg.DBName, "order_schema_migrations"); err != nil {
		log.Fatal().Err(err).Msg("Database migration error")
	}
	return repository.NewOrderRepository(db), outbox.NewPostgresStore(db), func() { db.Close() }
}

func consumerPolicy(cfg config.ServiceConfig) retry.Policy {
	p := retry.DefaultPolicy
	p.MaxAttempts = cfg.ConsumerAttempts
	return p
}

func setupFiberApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "Order Service v1.0",
		ErrorHandler: sharedHTTP.ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} - ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID",
	}))

	return app
}
