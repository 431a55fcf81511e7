package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/widgetly-platform/widgetly/internal/api"
	"github.com/widgetly-platform/widgetly/internal/audit"
	"github.com/widgetly-platform/widgetly/internal/auth"
	"github.com/widgetly-platform/widgetly/internal/chat"
	"github.com/widgetly-platform/widgetly/internal/config"
	"github.com/widgetly-platform/widgetly/internal/database"
	mw "github.com/widgetly-platform/widgetly/internal/middleware"
	inats "github.com/widgetly-platform/widgetly/internal/nats"
	iredis "github.com/widgetly-platform/widgetly/internal/redis"
	"github.com/widgetly-platform/widgetly/internal/server"
	"github.com/widgetly-platform/widgetly/internal/usage"
	"github.com/widgetly-platform/widgetly/migrations"
)

func main() {
	if err := run(); err != nil {
		slog.Error("widgetly exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis backs chat sessions and the widget rate limiter in every deployment.
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer redisClient.Close()

	// PostgreSQL holds usage counters (USAGE_STORE=postgres) and the usage event history.
	var pool *pgxpool.Pool
	if cfg.Usage.Store == config.StorePostgres || cfg.DB.Password != "" {
		pool, err = database.NewPostgresPool(ctx, cfg.DB)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pool.Close()

		if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath, migrations.FS); err != nil {
			return err
		}
	}

	var store usage.Store
	switch cfg.Usage.Store {
	case config.StoreRedis:
		store = usage.NewRedisStore(redisClient)
	default:
		store = usage.NewPostgresStore(pool)
	}
	slog.Info("usage store selected", "store", cfg.Usage.Store)

	usageOpts := []usage.Option{
		usage.WithRetries(cfg.Usage.WriteRetries),
		usage.WithDefaultTimezone(cfg.Usage.DefaultTimezone),
	}

	// NATS is optional: without it usage events are neither published nor persisted.
	var natsClient *inats.Client
	var eventConsumer *audit.Consumer
	if cfg.NATS.URL != "" {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			return fmt.Errorf("connecting to nats: %w", err)
		}
		defer natsClient.Close()

		usageOpts = append(usageOpts, usage.WithNotifier(inats.NewPublisher(natsClient.JetStream())))
		if pool != nil {
			eventConsumer = audit.NewConsumer(audit.NewRepository(pool), inats.NewConsumerManager(natsClient.JetStream()))
		}
	}

	// Usage engine
	plans := usage.DefaultPlanTable()
	policy := usage.NewResetPolicy(usage.LoadLocation(cfg.Usage.MonthTimezone))
	gate := usage.NewGate(store, plans, policy, usageOpts...)
	recorder := usage.NewRecorder(store, policy, usageOpts...)
	usageSvc := usage.NewService(store, plans, policy, usageOpts...)

	var events usage.EventLister
	if pool != nil {
		events = audit.NewRepository(pool)
	}
	usageHandler := usage.NewHandler(gate, usageSvc, events, cfg.Usage.FailOpen)

	// Auth
	jwtManager := auth.NewJWTManager(
		cfg.JWT.WidgetSecret,
		cfg.JWT.AdminSecret,
		cfg.JWT.WidgetExpiry,
		cfg.JWT.AdminExpiry,
	)
	authHandler := auth.NewHandler(jwtManager, usageSvc)

	// Chat
	assistant := chat.NewHTTPAssistant(cfg.Assistant.URL, cfg.Assistant.APIKey, cfg.Assistant.Timeout)
	chatHandler := chat.NewHandler(assistant, chat.NewSessionStore(redisClient), recorder)

	limiter := mw.NewRateLimiter(redisClient, "chat", cfg.RateLimit.MaxRequests, cfg.RateLimit.WindowSec)

	checks := map[string]api.HealthCheck{
		"redis": func(ctx context.Context) error { return iredis.HealthCheck(ctx, redisClient) },
		"database": nil,
		"nats":     nil,
	}
	if pool != nil {
		checks["database"] = func(ctx context.Context) error { return database.HealthCheck(ctx, pool) }
	}
	if natsClient != nil {
		checks["nats"] = func(context.Context) error {
			if !natsClient.Healthy() {
				return fmt.Errorf("nats connection not ready")
			}
			return nil
		}
	}

	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		ChatRateLimiter:    limiter.Middleware,
		Checks:             checks,
	}, api.HandlerSet{
		CreateSession: chatHandler.CreateSession,
		SendMessage:   chatHandler.SendMessage,

		IssueWidgetToken: authHandler.IssueWidgetToken,
		ProvisionEntity:  usageHandler.Provision,
		GetUsage:         usageHandler.GetUsage,
		ChangePlan:       usageHandler.ChangePlan,
		DeleteEntity:     usageHandler.Delete,
		ListUsageEvents:  usageHandler.ListEvents,

		WidgetAuth: auth.WidgetMiddleware(jwtManager),
		AdminAuth:  auth.AdminMiddleware(jwtManager),
		Admission:  usageHandler.Admission,
	})

	srv := server.New(cfg.Server, cfg.Assistant.Timeout, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if eventConsumer != nil {
		g.Go(func() error { return eventConsumer.Start(gctx) })
	}
	return g.Wait()
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
