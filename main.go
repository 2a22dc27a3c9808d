package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"donation-svc/cache"
	"donation-svc/config"
	"donation-svc/database"
	"donation-svc/donations"
	"donation-svc/gateway"
	"donation-svc/handlers"
	"donation-svc/ingress"
	"donation-svc/kafka"
	"donation-svc/middleware"
	"donation-svc/settlement"
	"donation-svc/store"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const serviceName = "donation-service"

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	rootCmd := &cobra.Command{
		Use:          "donation-svc",
		Short:        "Donation payment settlement service",
		SilenceUsage: true,
	}

	serve := serveCmd(logger)
	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(migrateCmd(logger))
	rootCmd.RunE = serve.RunE

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Fatal("Command failed", zap.Error(err))
	}
}

func serveCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), logger)
		},
	}
}

func migrateCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the ledger tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), logger)
		},
	}
}

func runMigrate(ctx context.Context, logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := database.InitDB(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	return database.Migrate(ctx, db, logger)
}

func runServer(ctx context.Context, logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing(serviceName, cfg.JaegerEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	// Initialize ledger store
	var ledger store.Store
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("Using in-memory store, data is lost on restart")
		ledger = store.NewMemory()
	default:
		db, err := database.InitDB(cfg.Database, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := database.Migrate(ctx, db, logger); err != nil {
			return err
		}
		ledger = store.NewPostgres(db)
	}

	var (
		engineOpts []settlement.Option
		wallCache  donations.WallCache
	)

	// Initialize Kafka producer
	if cfg.KafkaBroker != "" {
		producer, err := kafka.InitProducer(cfg.KafkaBroker, logger)
		if err != nil {
			return err
		}
		defer producer.Close()
		engineOpts = append(engineOpts, settlement.WithPublisher(kafka.NewPublisher(producer, cfg.KafkaTopic, logger)))
	} else {
		logger.Info("KAFKA_BROKER not set, settlement events will not be published")
	}

	// Initialize Redis
	if cfg.RedisHost != "" {
		rdb, err := cache.InitRedis(net.JoinHostPort(cfg.RedisHost, cfg.RedisPort), cfg.RedisPassword, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()
		walls := cache.NewDonorWallCache(rdb, 5*time.Minute)
		wallCache = walls
		engineOpts = append(engineOpts, settlement.WithCacheInvalidator(walls))
	}

	// Initialize payment gateway
	var gw gateway.Gateway
	if cfg.StripeAPIKey != "" {
		gw = gateway.NewStripe(gateway.StripeConfig{
			APIKey:  cfg.StripeAPIKey,
			Timeout: cfg.GatewayTimeout,
		}, logger)
	} else {
		logger.Warn("STRIPE_API_KEY not set, checkout is disabled")
	}

	engine := settlement.NewEngine(ledger, logger, engineOpts...)

	donationHandler := handlers.NewDonationHandler(
		donations.NewInitiator(ledger, gw, donations.InitiatorConfig{
			MaxAmount: cfg.MaxDonationAmount,
			Currency:  cfg.Currency,
		}, logger),
		donations.NewStatusQuery(ledger, gw, engine, logger),
		donations.NewDirectory(ledger, wallCache, logger),
		logger,
	)
	webhookHandler := handlers.NewWebhookHandler(
		ingress.NewReceiver(gateway.NewWebhookVerifier(cfg.StripeWebhookSecret, logger), engine, logger),
		logger,
	)

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())

	api := router.Group("/api")
	{
		api.POST("/webhooks/stripe", webhookHandler.Stripe)

		donationRoutes := api.Group("/donations")
		donationRoutes.Use(middleware.Authenticate([]byte(cfg.JWTSecret), logger))
		donationRoutes.POST("/checkout", donationHandler.Checkout)
		donationRoutes.GET("/status/:sessionId", donationHandler.Status)
		donationRoutes.GET("/campaign/:campaignId", donationHandler.CampaignWall)
		donationRoutes.GET("/my", middleware.RequireIdentity(), donationHandler.MyDonations)
	}

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("Donation Service started", zap.String("addr", srv.Addr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("Server exited")
	return nil
}
