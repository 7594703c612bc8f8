package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/storecraft/server/internal/module/catalog"
	"github.com/storecraft/server/internal/module/entitlement"
	"github.com/storecraft/server/internal/module/processor"
	"github.com/storecraft/server/internal/module/reconciler"
	"github.com/storecraft/server/internal/module/reporting"
	"github.com/storecraft/server/internal/module/subscription"
	"github.com/storecraft/server/internal/module/usage"
	sharedcache "github.com/storecraft/server/internal/shared/cache"
	"github.com/storecraft/server/internal/shared/config"
	"github.com/storecraft/server/internal/shared/database"
	"github.com/storecraft/server/internal/shared/events"
	"github.com/storecraft/server/internal/shared/logger"
	"github.com/storecraft/server/internal/shared/metrics"
	"github.com/storecraft/server/internal/shared/middleware"
)

// App wires the billing platform together: shared infrastructure, the
// domain modules and the HTTP router.
type App struct {
	config    *config.Config
	db        *gorm.DB
	redis     redis.UniversalClient
	router    *gin.Engine
	zapLogger *zap.Logger
	metrics   *metrics.Metrics
	eventBus  *events.Bus

	catalogHandler      *catalog.Handler
	entitlementHandler  *entitlement.Handler
	subscriptionHandler *subscription.Handler
	usageHandler        *usage.Handler
	webhookHandler      *reconciler.WebhookHandler
	reportingHandler    *reporting.Handler

	sweeper *reconciler.Sweeper

	jobCancel context.CancelFunc
	jobWG     sync.WaitGroup
}

// New creates the application.
func New(cfg *config.Config) (*App, error) {
	zapLog, err := logger.NewZapLogger(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	redisClient, err := sharedcache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	app := &App{
		config:    cfg,
		db:        db,
		redis:     redisClient,
		zapLogger: zapLog,
		metrics:   metrics.New(),
		eventBus:  events.NewBus(zapLog),
	}

	app.initModules()
	app.setupRouter()
	return app, nil
}

func (a *App) initModules() {
	cfg := a.config
	log := a.zapLogger

	// Repositories
	catalogRepo := catalog.NewRepository(a.db)
	entitlementRepo := entitlement.NewRepository(a.db)
	subscriptionRepo := subscription.NewRepository(a.db)
	usageRepo := usage.NewRepository(a.db)
	eventRepo := reconciler.NewRepository(a.db)

	// Payment processor behind a circuit breaker
	provider := processor.NewBreakerProvider(
		processor.NewStripeProvider(&processor.StripeConfig{
			APIKey:        cfg.Stripe.APIKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
		}),
		log,
	)

	// Services
	catalogService := catalog.NewService(catalogRepo, subscriptionRepo, log)
	resolver := entitlement.NewResolver(catalogService, entitlementRepo, log)
	seeder := usage.NewSeeder(usageRepo)
	ledger := subscription.NewLedger(subscriptionRepo, catalogService, seeder, a.eventBus, log)
	subscriptionService := subscription.NewService(ledger, subscriptionRepo, catalogService, provider, log)
	counter := usage.NewCounter(a.redis)
	usageLedger := usage.NewLedger(usageRepo, counter, resolver, subscriptionRepo, a.eventBus, a.metrics, log)
	reconcilerService := reconciler.NewService(eventRepo, ledger, cfg.Billing, a.metrics, log)
	reportingService := reporting.NewService(subscriptionRepo, catalogService, resolver, usageLedger, reconcilerService, log)

	// Handlers
	a.catalogHandler = catalog.NewHandler(catalogService)
	a.entitlementHandler = entitlement.NewHandler(entitlementRepo, resolver)
	a.subscriptionHandler = subscription.NewHandler(subscriptionService)
	a.usageHandler = usage.NewHandler(usageLedger)
	a.webhookHandler = reconciler.NewWebhookHandler(reconcilerService, provider, log)
	a.reportingHandler = reporting.NewHandler(reportingService)

	// Background jobs
	a.sweeper = reconciler.NewSweeper(
		reconcilerService, eventRepo, subscriptionService, subscriptionRepo,
		cfg.Billing, a.metrics, log,
	)
}

func (a *App) setupRouter() {
	if a.config.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Metrics(a.metrics))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.metrics.Registry(), promhttp.HandlerOpts{})))

	// Webhooks authenticate via signature, not JWT.
	a.webhookHandler.RegisterRoutes(router.Group("/api/v1"))

	api := router.Group("/api/v1", middleware.Auth(a.config.Auth.JWTSecret))
	a.catalogHandler.RegisterRoutes(api)
	a.entitlementHandler.RegisterRoutes(api)
	a.subscriptionHandler.RegisterRoutes(api)
	a.usageHandler.RegisterRoutes(api)
	a.reportingHandler.RegisterRoutes(api)

	a.router = router
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Start launches the background jobs.
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.jobCancel = cancel

	a.jobWG.Add(1)
	go func() {
		defer a.jobWG.Done()
		a.sweeper.Run(ctx)
	}()
}

// Stop shuts down background jobs and connections.
func (a *App) Stop() {
	if a.jobCancel != nil {
		a.jobCancel()
		a.jobWG.Wait()
	}
	if err := sharedcache.Close(a.redis); err != nil {
		a.zapLogger.Warn("close redis", zap.Error(err))
	}
	if err := database.Close(a.db); err != nil {
		a.zapLogger.Warn("close database", zap.Error(err))
	}
	_ = a.zapLogger.Sync()
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&catalog.Plan{},
		&entitlement.TenantCustomPricing{},
		&entitlement.TenantUsageOverride{},
		&entitlement.TenantFeatureOverride{},
		&subscription.Subscription{},
		&subscription.Change{},
		&usage.Record{},
		&reconciler.SubscriptionEvent{},
	)
}
