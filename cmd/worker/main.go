// The pipeline worker drains the task queue the gateway feeds,
// running each product_analysis task through the scrape/sentiment/
// pros-cons/value-score pipeline and notifying the originating chat.
// It shares Redis and Postgres with the gateway binary.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/worthit/pipeline/internal/config"
	"github.com/worthit/pipeline/internal/connmanager"
	"github.com/worthit/pipeline/internal/database"
	"github.com/worthit/pipeline/internal/mesh"
	"github.com/worthit/pipeline/internal/models"
	"github.com/worthit/pipeline/internal/notifier"
	"github.com/worthit/pipeline/internal/queue"
	"github.com/worthit/pipeline/internal/worker"
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

	// PHASE 3: SERVICE MESH
	// The worker is itself a scraper/sentiment client, so it registers
	// the external services it calls through as mesh instances for
	// circuit breaking, not as something serving traffic.
	svcMesh := mesh.New(mesh.StrategyResponseTime)
	svcMesh.Register(models.ServiceInstance{
		ServiceName: "scraper",
		Host:        "api.apify.com",
		Port:        443,
		Status:      models.InstanceHealthy,
		Weight:      1,
	})
	svcMesh.Register(models.ServiceInstance{
		ServiceName: "sentiment",
		Host:        "api-inference.huggingface.co",
		Port:        443,
		Status:      models.InstanceHealthy,
		Weight:      1,
	})

	// PHASE 4: DATABASE CONNECTION
	slog.Info("Connecting to PostgreSQL database")
	db, err := database.NewConnection(cfg)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		log.Fatal("Database connection required:", err)
	}
	defer db.Close()
	archiveRepo := database.NewArchiveRepository(db)

	// PHASE 5: TELEGRAM NOTIFIER
	bot, err := tgbotapi.NewBotAPI(cfg.Bot.TelegramToken)
	if err != nil {
		log.Fatal("Failed to initialize Telegram bot:", err)
	}
	chatNotifier := notifier.NewTelegram(bot)

	// PHASE 6: SCRAPER AND ML PROCESSOR
	scraper := worker.NewScraper(cfg.External.ApifyToken)
	ml := worker.NewMLProcessor(cfg.External.HFToken)

	// PHASE 7: WORKER POOL
	pool := worker.New(worker.Config{
		MaxWorkers:  10,
		MaxCapacity: 100,
	}, q, svcMesh, chatNotifier, scraper, ml, archiveRepo, logger)

	// PHASE 8: RUN LOOP WITH GRACEFUL SHUTDOWN
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		slog.Info("Shutting down worker...")
		cancel()
	}()

	slog.Info("Starting pipeline worker", "environment", cfg.Server.Environment)
	pool.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := conn.Shutdown(shutdownCtx); err != nil {
		slog.Error("Redis shutdown error", "error", err)
	}

	slog.Info("Worker shutdown complete")
}
