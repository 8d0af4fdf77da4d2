// The pipeline gateway is the HTTP front door: it accepts product
// analysis requests and Telegram webhooks, enqueues work for the
// worker pool, and serves health and Prometheus endpoints. The queue,
// cache, and database layers it wires up here are shared with the
// worker binary via the same Redis instance and Postgres database; the
// service mesh is in-process state of its own and is not shared.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/worthit/pipeline/internal/cache"
	"github.com/worthit/pipeline/internal/config"
	"github.com/worthit/pipeline/internal/connmanager"
	"github.com/worthit/pipeline/internal/database"
	"github.com/worthit/pipeline/internal/handlers"
	"github.com/worthit/pipeline/internal/mesh"
	"github.com/worthit/pipeline/internal/middleware"
	"github.com/worthit/pipeline/internal/queue"
	"github.com/worthit/pipeline/internal/security"
)

func main() {
	// PHASE 1: CONFIGURATION AND LOGGING
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Server.Environment == "development" {
		opts.Level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))
	slog.SetDefault(logger)

	// PHASE 2: REDIS CONNECTION MANAGEMENT
	conn := connmanager.New(cfg.Redis.URL, cfg.Redis.SSL)
	startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := conn.Start(startCtx); err != nil {
		startCancel()
		log.Fatal("Failed to establish Redis connection:", err)
	}
	startCancel()

	redisClient, err := conn.GetClient(context.Background())
	if err != nil {
		log.Fatal("Redis client unavailable at startup:", err)
	}

	q := queue.New(redisClient)
	respCache := cache.New(redisClient)

	// PHASE 3: SERVICE MESH
	svcMesh := mesh.New(mesh.StrategyLeastConns)

	// PHASE 4: DATABASE CONNECTION
	slog.Info("Connecting to PostgreSQL database")
	db, err := database.NewConnection(cfg)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		log.Fatal("Database connection required:", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		slog.Error("Database migration failed", "error", err)
	}

	credentialRepo := database.NewCredentialRepository(db)
	fraudRepo := database.NewFraudSignalRepository(db)

	webhookCred, err := credentialRepo.FindByID(context.Background(), "telegram_webhook")
	if err != nil {
		slog.Warn("failed to load webhook credential, secret check disabled", "error", err)
	}

	// PHASE 5: FRAUD DETECTION
	fraudDetector := security.NewFraudDetector()

	// PHASE 6: HANDLER INITIALIZATION
	healthHandler := handlers.NewHealthHandler(cfg, conn, q, svcMesh)
	analyzeHandler := handlers.NewAnalyzeHandler(q, fraudDetector, fraudRepo)
	webhookHandler := handlers.NewWebhookHandler(q)
	metricsHandler := handlers.NewMetricsHandler(q, respCache, svcMesh)

	// PHASE 7: FIBER SERVER CONFIGURATION
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		ErrorHandler: middleware.ErrorHandler(),
	})

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.PayloadGuard())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowedOrigin,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Chat-ID,X-Request-ID",
	}))

	// PHASE 8: ROUTES
	app.Get("/health", healthHandler.HandleHealth)
	app.Get("/metrics", metricsHandler.HandleMetrics)

	api := app.Group("/api/v1")
	api.Post("/analyze", analyzeHandler.HandleAnalyze)
	api.Get("/tasks/:id", middleware.ResponseCache(respCache), analyzeHandler.HandleGetTask)
	api.Post("/webhook", handlers.WebhookSecretGuard(webhookCred), webhookHandler.HandleWebhook)

	// PHASE 9: GRACEFUL SHUTDOWN
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		slog.Info("Shutting down gateway...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := conn.Shutdown(shutdownCtx); err != nil {
			slog.Error("Redis shutdown error", "error", err)
		}
		if err := app.Shutdown(); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		slog.Info("Gateway shutdown complete")
		os.Exit(0)
	}()

	// PHASE 10: SERVER STARTUP
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	slog.Info("Starting pipeline gateway", "address", addr, "environment", cfg.Server.Environment)

	if err := app.Listen(addr); err != nil {
		slog.Error("Server failed to start", "error", err)
		log.Fatal(err)
	}
}
