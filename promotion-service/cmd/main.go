package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/distributed-ecommerce-saga/fulfillment/promotion-service/internal/handlers"
	"github.com/distributed-ecommerce-saga/fulfillment/promotion-service/internal/repository"
	"github.com/distributed-ecommerce-saga/fulfillment/promotion-service/internal/service"
	"github.com/distributed-ecommerce-saga/fulfillment/promotion-service/migrations"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/config"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/database"
	sharedHTTP "github.com/distributed-ecommerce-saga/fulfillment/shared-domain/http"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/logging"
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
	cfg := config.NewServiceConfig("promotion-service", "8004")
	logging.Init(cfg.Name, cfg.LogLevel, cfg.LogPretty)
	log.Info().Msg("Promotion Service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promotionRepo, closeDB := initStorage(ctx, cfg)
	defer closeDB()

	promotionHandler := handlers.NewPromotionHandler(service.NewPromotionService(promotionRepo))

	app := fiber.New(fiber.Config{
		AppName:      "Promotion Service v1.0",
		ErrorHandler: sharedHTTP.ErrorHandler,
	})
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} - ${latency}\n",
	}))
	app.Use(cors.New())

	promotionHandler.RegisterRoutes(app.Group("/api/v1"))

	go func() {
		<-ctx.Done()
		log.Info().Msg("Promotion Service closing...")
		if err := app.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Shutdown error")
		}
	}()

	log.Info().Str("port", cfg.Port).Msg("Promotion Service listening")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("Server start error")
	}
}

func initStorage(ctx context.Context, cfg config.ServiceConfig) (repository.PromotionRepository, func()) {
	if cfg.Storage == config.StorageMemory {
		return repository.NewMemoryPromotionRepository(), func() {}
	}

	pgCfg := config.NewPostgresConfig("promotion_db")
	db, err := database.Connect(ctx, pgCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection error")
	}
	if err := database.Migrate(db, migrations.FS, ".", pgCfg.DBName, "promotion_schema_migrations"); err != nil {
		log.Fatal().Err(err).Msg("Database migration error")
	}
	return repository.NewPromotionRepository(db), func() { db.Close() }
}
