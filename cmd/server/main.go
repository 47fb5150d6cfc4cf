package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/mendhq/mend/common/id"
	"github.com/mendhq/mend/common/logger"
	"github.com/mendhq/mend/common/otel"
	"github.com/mendhq/mend/core/config"
	"github.com/mendhq/mend/core/db"
	"github.com/mendhq/mend/internal/dispatch"
	"github.com/mendhq/mend/internal/executor"
	"github.com/mendhq/mend/internal/ghapi"
	"github.com/mendhq/mend/internal/http/middleware"
	httprouter "github.com/mendhq/mend/internal/http/router"
	"github.com/mendhq/mend/internal/mention"
	"github.com/mendhq/mend/internal/notify"
	"github.com/mendhq/mend/internal/service"
	"github.com/mendhq/mend/internal/store"
	"github.com/mendhq/mend/internal/webhook"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "mend starting", "env", cfg.Env, "bot_login", cfg.GitHub.BotLogin)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		slog.InfoContext(ctx, "redis connected")
	} else {
		slog.InfoContext(ctx, "redis disabled, rate limiting is off")
	}

	jobs, cleanup, err := buildJobStore(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize job store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go store.NewSweeper(jobs, cfg.Store.JobTTL, cfg.Store.SweepInterval).Run(sweepCtx)

	gh := ghapi.New(ctx, cfg.GitHub.Token)

	var chat notify.ChatNotifier
	if cfg.Slack.Enabled() {
		chat = notify.NewSlackNotifier(cfg.Slack.BotToken, cfg.Slack.Channel)
		slog.InfoContext(ctx, "slack notifications enabled", "channel", cfg.Slack.Channel)
	}
	notifier := notify.New(gh, chat)

	parser := mention.NewParser(cfg.GitHub.BotLogin)

	exec := executor.New(gh, jobs, notifier, parser, nil, executor.Config{
		AgentBinary:      cfg.Executor.AgentBinary,
		WorkDir:          cfg.Executor.WorkDir,
		CloneTimeout:     cfg.Executor.CloneTimeout,
		AgentTimeout:     cfg.Executor.AgentTimeout,
		TestTimeout:      cfg.Executor.TestTimeout,
		PushTimeout:      cfg.Executor.PushTimeout,
		TestsAreAdvisory: cfg.Executor.TestsAreAdvisory,
	}, cfg.GitHub.Token)

	pool := dispatch.NewPool(exec, cfg.Executor.Workers, cfg.Executor.QueueSize)
	poolCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	pool.Start(poolCtx)

	eventRouter := service.NewEventRouter(
		parser,
		service.NewSecurityGate(cfg.Security.AllowedRepos, cfg.Security.RequireOrgMembership, gh),
		service.NewRateLimiter(redisClient, cfg.RateLimit.MaxPerHour),
		jobs,
		notifier,
		pool,
		gh,
		cfg.GitHub.BotLogin,
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, eventRouter, jobs)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	// Drain queued jobs before cancelling the worker context.
	pool.Stop()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// buildJobStore picks the durable Postgres registry when a database is
// configured and falls back to the in-memory one otherwise.
func buildJobStore(ctx context.Context, cfg config.Config) (store.JobStore, func(), error) {
	if !cfg.DB.Enabled() {
		slog.InfoContext(ctx, "job store: in-memory (no DATABASE_URL)")
		return store.NewMemoryStore(), func() {}, nil
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return nil, nil, err
	}

	pg := store.NewPostgresStore(database.Pool())
	if err := pg.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, nil, err
	}
	slog.InfoContext(ctx, "job store: postgres")
	return pg, database.Close, nil
}

func setupRouter(cfg config.Config, eventRouter *service.EventRouter, jobs store.JobStore) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, httprouter.RouterConfig{
		Verifier:    webhook.NewVerifier(cfg.GitHub.WebhookSecret),
		EventRouter: eventRouter,
		Jobs:        jobs,
	})

	return router
}

const banner = `
███╗   ███╗███████╗███╗   ██╗██████╗
████╗ ████║██╔════╝████╗  ██║██╔══██╗
██╔████╔██║█████╗  ██╔██╗ ██║██║  ██║
██║╚██╔╝██║██╔══╝  ██║╚██╗██║██║  ██║
██║ ╚═╝ ██║███████╗██║ ╚████║██████╔╝
╚═╝     ╚═╝╚══════╝╚═╝  ╚═╝╚═════╝
`
