package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hugh/org-console/internal/database"
	"github.com/hugh/org-console/internal/mailer"
	"github.com/hugh/org-console/internal/tasks"
	"github.com/hugh/org-console/pkg/config"
	"github.com/hugh/org-console/pkg/queue"
	"github.com/hugh/org-console/pkg/util"
	"github.com/joho/godotenv"
)

// sweepInterval is how often the worker enqueues an invite sweep.
const sweepInterval = time.Hour

func main() {
	// Load .env file
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := util.NewLogger(cfg.Server.Env)
	slog.SetDefault(logger)

	logger.Info("starting org-console worker")

	// Connect to database
	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	// Outbound mail: real provider when configured, log-only otherwise.
	var mail mailer.Mailer = mailer.NewLogMailer(logger)
	if cfg.Mail.APIURL != "" {
		mail = mailer.NewAPIMailer(cfg.Mail.APIURL, cfg.Mail.APIKey, cfg.Mail.From, logger)
	}

	// Create Asynq server
	srv := queue.NewServer(&cfg.Redis, 10)

	// Create task handler
	handler := tasks.NewHandler(db, logger, mail)

	// Register handlers
	mux := asynq.NewServeMux()
	handler.RegisterHandlers(mux)

	// Handle shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Periodic invite sweep: expire stale pending invites in bulk so the
	// lazy per-read expiry isn't the only mechanism.
	client := queue.NewClient(&cfg.Redis)
	defer client.Close()
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := client.Enqueue(tasks.NewInviteSweepTask(), asynq.Queue("low")); err != nil {
					logger.Warn("failed to enqueue invite sweep", "error", err)
				}
			}
		}
	}()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down worker...")
		srv.Shutdown()
		cancel()
	}()

	logger.Info("worker started, waiting for tasks...")

	// Start the server
	if err := srv.Run(mux); err != nil {
		logger.Error("worker error", "error", err)
	}

	// Close database connection
	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("worker stopped")
}
