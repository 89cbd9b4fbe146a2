package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/org-console/internal/access"
	"github.com/hugh/org-console/internal/api"
	"github.com/hugh/org-console/internal/audit"
	"github.com/hugh/org-console/internal/auth"
	"github.com/hugh/org-console/internal/database"
	"github.com/hugh/org-console/internal/invites"
	"github.com/hugh/org-console/internal/mailer"
	"github.com/hugh/org-console/internal/members"
	"github.com/hugh/org-console/internal/orgs"
	"github.com/hugh/org-console/pkg/config"
	"github.com/hugh/org-console/pkg/util"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

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

	logger.Info("starting org-console server",
		"env", cfg.Server.Env,
		"addr", cfg.Server.Addr(),
	)

	// Connect to database
	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.AutoMigrate(db); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Warn("failed to connect to Redis", "error", err)
		redisClient = nil
	}

	// Initialize Asynq client for background job enqueuing
	var asynqClient *asynq.Client
	if redisClient != nil {
		asynqClient = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
		})
	}

	// Outbound mail: real provider when configured, log-only otherwise.
	var mail mailer.Mailer = mailer.NewLogMailer(logger)
	if cfg.Mail.APIURL != "" {
		mail = mailer.NewAPIMailer(cfg.Mail.APIURL, cfg.Mail.APIKey, cfg.Mail.From, logger)
	} else {
		logger.Warn("MAIL_API_URL not set, mail will be logged instead of sent")
	}
	links := mailer.NewLinkBuilder(cfg.App.URL, cfg.App.DefaultLocale)

	adminOrgID := cfg.App.AdminOrg()
	if adminOrgID == uuid.Nil {
		logger.Warn("ADMIN_ORG_ID not set, platform-admin operations are disabled")
	}

	// Initialize services
	checker := access.NewChecker(db)
	recorder := audit.NewRecorder(logger)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	inviteService := invites.NewService(db, checker, recorder, mail, links, logger, adminOrgID)
	authService := auth.NewService(db, jwtService, inviteService, checker, adminOrgID)
	orgService := orgs.NewService(db, checker, recorder, asynqClient, logger, adminOrgID)
	memberService := members.NewService(db, checker, recorder, asynqClient, logger, adminOrgID)

	// Create router
	router := api.NewRouter(api.RouterConfig{
		DB:            db,
		Redis:         redisClient,
		Logger:        logger,
		JWTService:    jwtService,
		AuthService:   authService,
		OrgService:    orgService,
		MemberService: memberService,
		InviteService: inviteService,
		Checker:       checker,
		Recorder:      recorder,
		RateLimitReqs: cfg.RateLimit.Requests,
		RateLimitSecs: cfg.RateLimit.WindowSeconds,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Close Asynq client
	if asynqClient != nil {
		asynqClient.Close()
	}

	// Close Redis connection
	if redisClient != nil {
		redisClient.Close()
	}

	// Close database connection
	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("server stopped")
}
