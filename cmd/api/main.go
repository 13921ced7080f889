package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sentilytics/sentilytics/internal/analysis"
	"github.com/sentilytics/sentilytics/internal/api"
	"github.com/sentilytics/sentilytics/internal/audit"
	"github.com/sentilytics/sentilytics/internal/auth"
	"github.com/sentilytics/sentilytics/internal/config"
	"github.com/sentilytics/sentilytics/internal/database"
	"github.com/sentilytics/sentilytics/internal/inference"
	"github.com/sentilytics/sentilytics/internal/ledger"
	"github.com/sentilytics/sentilytics/internal/metering"
	mw "github.com/sentilytics/sentilytics/internal/middleware"
	inats "github.com/sentilytics/sentilytics/internal/nats"
	"github.com/sentilytics/sentilytics/internal/quota"
	iredis "github.com/sentilytics/sentilytics/internal/redis"
	"github.com/sentilytics/sentilytics/internal/server"
	"github.com/sentilytics/sentilytics/internal/video"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL
	if err := database.RunMigrations(cfg.DB.DSN(), cfg.Migrations.Path); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// Ledger
	costs := ledger.DefaultCostTable()
	l := ledger.New(newStore(cfg.Ledger, pool, redisClient), costs,
		ledger.WithDefaultCredits(cfg.Ledger.DefaultCredits))
	slog.Info("ledger ready", "backend", cfg.Ledger.Backend, "costs", costs.Map())

	auditRepo := audit.NewRepository(pool)

	meterOpts := []metering.Option{metering.WithRefundTimeout(cfg.Ledger.RefundTimeout)}
	var quotaOpts []quota.Option
	var consumerDone chan struct{}
	// The consumer outlives the signal so events from draining requests are persisted.
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()

	// NATS (optional)
	var natsClient *inats.Client
	if cfg.NATS.Enabled() {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to nats", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()

		publisher := inats.NewPublisher(natsClient.JetStream())
		meterOpts = append(meterOpts, metering.WithPublisher(publisher))
		quotaOpts = append(quotaOpts, quota.WithPublisher(publisher))

		consumer := audit.NewConsumer(auditRepo, inats.NewConsumerManager(natsClient.JetStream()))
		consumerDone = make(chan struct{})
		go func() {
			defer close(consumerDone)
			if err := consumer.Start(consumerCtx); err != nil {
				slog.Error("audit consumer stopped", "error", err)
			}
		}()
	} else {
		slog.Warn("NATS_URL not set, ledger audit events disabled")
	}

	meter := metering.New(l, meterOpts...)

	// A claim outlives the analysis timeout before another request may take it over.
	videoRepo := video.NewRepository(pool, 2*cfg.Inference.AnalysisTimeout)

	// Inference collaborators
	httpClient := &http.Client{}
	analysisHandler := analysis.NewHandler(meter,
		inference.NewSentimentClient(cfg.Inference.SentimentURL, cfg.Inference.VideoBucket, httpClient),
		videoRepo,
		inference.NewPDFClient(cfg.Inference.PDFServiceURL, cfg.Inference.HealthTimeout, httpClient),
		inference.NewLiveProcessor(cfg.Inference.PythonBin, cfg.Inference.LiveScript, cfg.Inference.LiveModel),
		cfg.Inference.AnalysisTimeout,
	)

	videoHandler := video.NewHandler(videoRepo)
	quotaHandler := quota.NewHandler(l, quota.NewPurchaseRepository(pool), quotaOpts...)
	auditHandler := audit.NewHandler(auditRepo)

	jwtManager := auth.NewJWTManager(cfg.JWT.AccessSecret, cfg.JWT.AccessExpiry)
	limiter := mw.NewRateLimiter(redisClient, "analysis", cfg.RateLimit.Requests, cfg.RateLimit.WindowSeconds,
		mw.WithKeyFunc(func(r *http.Request) string {
			if id := auth.GetIdentity(r.Context()); id != nil {
				return "user:" + id.UserID
			}
			return ""
		}))

	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins:  cfg.CORS.AllowedOrigins,
		AnalysisRateLimiter: limiter.Middleware,
		HealthChecks:        healthChecks(pool, redisClient, natsClient),
	}, api.HandlerSet{
		AnalyzeSentiment: analysisHandler.Sentiment,
		AnalyzeLive:      analysisHandler.Live,
		AnalyzePDF:       analysisHandler.PDF,
		PDFStatus:        analysisHandler.PDFStatus,
		RegisterVideo:    videoHandler.Register,

		GetQuota:      quotaHandler.Status,
		GetAPIKey:     quotaHandler.APIKey,
		ListPurchases: quotaHandler.Purchases,
		GrantCredits:  quotaHandler.Grant,

		ListAuditLogs: auditHandler.List,

		AuthMiddleware: auth.Middleware(jwtManager, l),
		InternalGuard:  mw.InternalToken(cfg.Billing.InternalToken),
	})

	srv := server.New(cfg.Server, router)
	if consumerDone != nil {
		srv.OnShutdown(func(ctx context.Context) {
			stopConsumer()
			select {
			case <-consumerDone:
			case <-ctx.Done():
				slog.Warn("audit consumer did not stop before shutdown deadline")
			}
		})
	}
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newStore(cfg config.LedgerConfig, pool *pgxpool.Pool, rdb *redis.Client) ledger.Store {
	if cfg.Backend == config.BackendRedis {
		return ledger.NewRedisStore(rdb, ledger.WithKeyPrefix(cfg.RedisKeyPrefix))
	}
	return ledger.NewPostgresStore(pool)
}

func healthChecks(pool *pgxpool.Pool, rdb *redis.Client, nc *inats.Client) []api.HealthCheck {
	checks := []api.HealthCheck{
		{Name: "database", Check: func(ctx context.Context) error { return database.HealthCheck(ctx, pool) }},
		{Name: "redis", Check: func(ctx context.Context) error { return iredis.HealthCheck(ctx, rdb) }},
		{Name: "nats"},
	}
	if nc != nil {
		checks[2].Check = func(context.Context) error {
			if !nc.Healthy() {
				return inats.ErrNotConnected
			}
			return nil
		}
	}
	return checks
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
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
