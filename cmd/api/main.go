package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mwork/ledger-api/internal/config"
	"github.com/mwork/ledger-api/internal/domain/audit"
	"github.com/mwork/ledger-api/internal/domain/credit"
	"github.com/mwork/ledger-api/internal/domain/notification"
	"github.com/mwork/ledger-api/internal/domain/subscription"
	"github.com/mwork/ledger-api/internal/domain/webhook"
	"github.com/mwork/ledger-api/internal/middleware"
	"github.com/mwork/ledger-api/internal/pkg/database"
	"github.com/mwork/ledger-api/internal/pkg/logger"
	"github.com/mwork/ledger-api/internal/pkg/metrics"
	"github.com/mwork/ledger-api/internal/pkg/paypal"
	pkgresponse "github.com/mwork/ledger-api/internal/pkg/response"
)

const (
	shutdownTimeout        = 30 * time.Second
	notificationRetention  = 90
	notificationCleanupJob = 24 * time.Hour
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting ledger API")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.DefaultPool)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	var recorder metrics.Recorder = metrics.Noop{}
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		prom := metrics.NewPrometheus("ledger")
		recorder = prom
		metricsHandler = prom.Handler()
	}

	paypalClient := paypal.NewClient(paypal.Config{
		BaseURL:      cfg.PayPalBaseURL,
		ClientID:     cfg.PayPalClientID,
		ClientSecret: cfg.PayPalClientSecret,
		WebhookID:    cfg.PayPalWebhookID,
		Timeout:      cfg.PayPalTimeout,
	})

	// ---------- Repositories ----------
	creditRepo := credit.NewRepository(db)
	subscriptionRepo := subscription.NewRepository(db)
	auditRepo := audit.NewRepository(db)
	notificationRepo := notification.NewRepository(db)
	eventRepo := webhook.NewEventRepository(db)

	// ---------- Services ----------
	notificationService := notification.NewService(notificationRepo, notification.NewRedisPublisher(redis))
	creditService := credit.NewService(creditRepo, notificationService)
	subscriptionService := subscription.NewService(subscriptionRepo)

	var lock webhook.DeliveryLock = webhook.NoopLock{}
	if redis != nil {
		lock = webhook.NewRedisLock(redis)
	}

	webhookService := webhook.NewService(webhook.Deps{
		Verifier:      paypalClient,
		Events:        eventRepo,
		Lock:          lock,
		Credits:       creditService,
		Subscriptions: subscriptionService,
		Gate:          webhook.NewPolicyGate(auditRepo, recorder),
		Notifier:      notificationService,
		Metrics:       recorder,
		SourceApp:     cfg.SourceApp,
		LockTTL:       cfg.WebhookLockTTL,
	})
	webhookHandler := webhook.NewHandler(webhookService, cfg.WebhookMaxBodyBytes)

	r := newRouter(routerDeps{
		db:       db,
		webhooks: webhookHandler,
		metrics:  metricsHandler,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return notification.NewCleanupJob(notificationRepo, notificationRetention).Start(gctx, notificationCleanupJob)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return
	}

	log.Info().Msg("Server exited properly")
}

type pinger interface {
	PingContext(ctx context.Context) error
}

type routerDeps struct {
	db       pinger
	webhooks *webhook.Handler
	metrics  http.Handler
}

func newRouter(deps routerDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)

	r.Get("/health", healthHandler(deps.db))
	if deps.metrics != nil {
		r.Handle("/metrics", deps.metrics)
	}

	r.Mount("/webhooks", deps.webhooks.Routes())

	return r
}

func healthHandler(db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			log.Warn().Err(err).Msg("Health check: database unreachable")
			pkgresponse.ServiceUnavailable(w, "database unavailable")
			return
		}

		pkgresponse.OK(w, map[string]string{
			"status": "ok",
		})
	}
}
