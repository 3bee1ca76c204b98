package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fileshare/internal/api/v1/handler"
	"fileshare/internal/config"
	"fileshare/internal/metrics"
	"fileshare/internal/middleware"
	"fileshare/internal/pubsub"
	"fileshare/internal/repository"
	"fileshare/internal/scheduler"
	"fileshare/internal/service"
	"fileshare/internal/storage"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// App is the wired service: the HTTP handler plus the background workers
// that are started and stopped with it.
type App struct {
	Handler http.Handler

	pool      *pgxpool.Pool
	publisher *pubsub.PubSubPublisher
	outbox    *service.Outbox
	uploads   service.UploadService
	sweeper   *scheduler.Scheduler
	logger    zerolog.Logger
}

// Handlers are the mounted v1 route groups and the middleware guarding them.
type Handlers struct {
	Users         *handler.UserHandler
	Uploads       *handler.UploadHandler
	Workspaces    *handler.WorkspaceHandler
	Subscriptions *handler.SubscriptionHandler
	Webhooks      *handler.WebhookHandler

	Auth         func(http.Handler) http.Handler
	OptionalAuth func(http.Handler) http.Handler
	PushAuth     func(http.Handler) http.Handler
}

// openPool connects to Postgres. Outside development the simple query
// protocol is used so a transaction pooler like pgbouncer works.
func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	dsn := cfg.DBConnectionString
	if cfg.IsDevelopment() && !strings.Contains(dsn, "sslmode") {
		separator := " "
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			separator = "?"
			if strings.Contains(dsn, "?") {
				separator = "&"
			}
		}
		dsn += separator + "sslmode=disable"
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db connection string: %w", err)
	}
	if !cfg.IsDevelopment() {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	poolCfg.MaxConns = 25
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	logger.Info().Str("environment", cfg.Environment).Msg("App environment loaded")

	// 1. Database
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("Database connection successful")

	// 2. Object store
	s3Client, err := storage.NewS3Client(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	store := storage.NewS3Store(s3Client, cfg.PublicBaseURL, cfg.UploadURLExpiresIn)

	// 3. Pub/Sub publisher
	publisher, err := pubsub.NewPublisher(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create pub/sub publisher: %w", err)
	}

	m := metrics.Init(prometheus.DefaultRegisterer)
	validate := validator.New(validator.WithRequiredStructEnabled())

	// 4. Repositories
	userRepo := repository.NewUserRepo(pool)
	subRepo := repository.NewSubscriptionRepo(pool)
	uploadRepo := repository.NewUploadRepo(pool)
	usageRepo := repository.NewUsageRepo(pool)
	workspaceRepo := repository.NewWorkspaceRepo(pool)
	invoiceRepo := repository.NewInvoiceRepo(pool)
	campaignRepo := repository.NewCampaignRepo(pool)

	// 5. Services
	outbox := service.NewOutbox(cfg.OutboxWorkers, cfg.OutboxQueueSize, cfg.SideEffectTimeout, m.SideEffects, logger)
	notifier := service.NewNotificationService(publisher, cfg.PubSubNotificationTopic, logger)
	archiveSvc := service.NewArchiveService(uploadRepo, store, publisher, cfg.PubSubArchiveTopic, cfg.BackendURL, m, logger)
	uploadSvc := service.NewUploadService(uploadRepo, userRepo, usageRepo, workspaceRepo, store, archiveSvc, notifier, outbox,
		service.NewTimerRegistry(m.PendingTimers), m, service.UploadSettings{
			UploadsBucket:     cfg.UploadsBucket,
			PublicBucket:      cfg.PublicBucket,
			TokenSecret:       cfg.JWTSecret,
			FrontendURL:       cfg.FrontendURL,
			SideEffectTimeout: cfg.SideEffectTimeout,
		}, logger)
	userSvc := service.NewUserService(userRepo, usageRepo, workspaceRepo, logger)
	workspaceSvc := service.NewWorkspaceService(workspaceRepo, userRepo, usageRepo, uploadRepo, uploadSvc, logger)
	billingSvc := service.NewBillingService(userRepo, subRepo, invoiceRepo, campaignRepo, paymentProviders(cfg, logger),
		notifier, outbox, m, service.BillingSettings{BackendURL: cfg.BackendURL, FrontendURL: cfg.FrontendURL}, logger)

	sweeper := scheduler.New(scheduler.Compose(uploadRepo, usageRepo, subRepo), uploadSvc, billingSvc, m, scheduler.Settings{
		Schedule:        cfg.SweepSchedule,
		Workers:         cfg.SweepWorkers,
		BatchSize:       cfg.SweepBatchSize,
		LapsedRetention: cfg.LapsedRetention,
		TaskTimeout:     cfg.SideEffectTimeout,
	}, logger)

	// 6. Middleware
	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret, logger)
	downgradeMiddleware := middleware.DowngradeMiddleware(userRepo, billingSvc, logger)
	isLocalDev := cfg.PubSubEmulatorHost != ""

	h := Handlers{
		Users:         handler.NewUserHandler(userSvc, billingSvc, validate, logger),
		Uploads:       handler.NewUploadHandler(uploadSvc, archiveSvc, validate, logger),
		Workspaces:    handler.NewWorkspaceHandler(workspaceSvc, uploadSvc, validate, logger),
		Subscriptions: handler.NewSubscriptionHandler(billingSvc, validate, logger),
		Webhooks:      handler.NewWebhookHandler(billingSvc, logger),
		Auth: func(next http.Handler) http.Handler {
			return authMiddleware(downgradeMiddleware(next))
		},
		OptionalAuth: func(next http.Handler) http.Handler {
			return middleware.OptionalAuthMiddleware(cfg.JWTSecret, logger)(downgradeMiddleware(next))
		},
		PushAuth: middleware.PubSubAuthMiddleware(isLocalDev, cfg.PubSubPushAudience, cfg.PubSubPushServiceAccountEmail, logger),
	}

	logger.Info().Msg("Router initialized")
	return &App{
		Handler:   Routes(h, logger),
		pool:      pool,
		publisher: publisher,
		outbox:    outbox,
		uploads:   uploadSvc,
		sweeper:   sweeper,
		logger:    logger,
	}, nil
}

// paymentProviders enables the providers whose credentials are configured.
func paymentProviders(cfg *config.Config, logger zerolog.Logger) []service.PaymentProvider {
	var providers []service.PaymentProvider
	if cfg.StripeSecretKey != "" {
		providers = append(providers, service.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.BackendURL, logger))
	} else {
		logger.Warn().Msg("STRIPE_SECRET_KEY not set, Stripe disabled")
	}
	if cfg.PayPalClientID != "" {
		providers = append(providers, service.NewPayPalProvider(service.PayPalConfig{
			APIBase:      cfg.PayPalAPIBase,
			ClientID:     cfg.PayPalClientID,
			ClientSecret: cfg.PayPalClientSecret,
			WebhookID:    cfg.PayPalWebhookID,
			ProductID:    cfg.PayPalProductID,
		}, &http.Client{Timeout: 30 * time.Second}, logger))
	} else {
		logger.Warn().Msg("PAYPAL_CLIENT_ID not set, PayPal disabled")
	}
	return providers
}

// Routes mounts the v1 API under /v1 and the Prometheus endpoint.
func Routes(h Handlers, logger zerolog.Logger) http.Handler {
	apiV1Mux := http.NewServeMux()
	h.Users.RegisterRoutes(apiV1Mux, h.Auth)
	h.Uploads.RegisterRoutes(apiV1Mux, h.OptionalAuth, h.Auth, h.PushAuth)
	h.Workspaces.RegisterRoutes(apiV1Mux, h.Auth)
	h.Subscriptions.RegisterRoutes(apiV1Mux, h.Auth)
	h.Webhooks.RegisterRoutes(apiV1Mux)

	mux := http.NewServeMux()
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Redirect /api/* to /v1/* for backward compatibility
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/")
		http.Redirect(w, r, "/v1/"+rest, http.StatusMovedPermanently)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(logger)(c.Handler(mux))
}

// Start launches the side-effect workers and the expiration sweep.
func (a *App) Start(ctx context.Context) error {
	a.outbox.Start(ctx)
	return a.sweeper.Start()
}

// Shutdown stops the background work and releases connections. Pending
// in-process timers are dropped; the sweep picks their uploads up.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.sweeper.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	a.uploads.Close()
	if err := a.outbox.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain outbox: %w", err))
	}
	if err := a.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	a.pool.Close()
	return errors.Join(errs...)
}
