package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"form-payment-svc/cache"
	"form-payment-svc/circuitbreaker"
	"form-payment-svc/config"
	"form-payment-svc/database"
	"form-payment-svc/gateway"
	"form-payment-svc/handlers"
	"form-payment-svc/kafka"
	"form-payment-svc/mail"
	"form-payment-svc/middleware"
	"form-payment-svc/payments"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v82"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load(logger)
	stripe.Key = cfg.StripeAPIKey

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	// Initialize database
	db, err := database.InitDB(ctx, cfg.DB, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	store := database.NewStore(db)

	// Redis only fronts form lookups, so the service runs without it.
	redisClient, err := cache.InitRedis(cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis unavailable, form lookups go to the database", zap.Error(err))
		redisClient = nil
	}
	forms := cache.NewFormLookup(store, redisClient, cfg.FormCacheTTL, logger)

	// Initialize Kafka
	brokers := []string{cfg.KafkaBroker}
	producer, err := kafka.InitProducer(brokers, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	consumer, err := kafka.InitConsumer(brokers, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka consumer", zap.Error(err))
	}

	dispatcher := payments.NewPostConfirmationDispatcher(
		kafka.NewPublisher(producer, cfg.PaymentTopic, logger),
		forms,
		mail.NewMailer(cfg.PostmarkServerToken, cfg.EmailSender, cfg.AppURL, logger),
		store,
		logger,
		cfg.DispatchTimeout,
	)
	stripeBreaker := circuitbreaker.NewCircuitBreaker(5, 30*time.Second)
	fees := gateway.NewFeeLookup(stripeBreaker, logger)
	resolver := gateway.NewResolver(stripeBreaker, logger)
	service := payments.NewService(store, fees, dispatcher, logger, payments.Options{
		TxTimeout:   cfg.TxTimeout,
		MaxAttempts: cfg.TxMaxAttempts,
	})

	// Start Kafka consumer in background
	gatewayConsumer := kafka.NewGatewayConsumer(consumer, cfg.GatewayTopic, resolver, service, logger, cfg.ConsumerRetries)
	go func() {
		if err := gatewayConsumer.Run(ctx); err != nil {
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())

	webhookHandler := handlers.NewWebhookHandler(gateway.NewVerifier(cfg.StripeWebhookSecret), resolver, service, logger)
	router.POST("/api/v3/notifications/stripe", webhookHandler.HandleStripeEvent)

	internalAuth := middleware.InternalAuth([]byte(cfg.InternalAPISecret), logger)

	formHandler := handlers.NewFormHandler(forms, logger)
	router.DELETE("/api/v3/forms/:formId/cache", internalAuth, formHandler.InvalidateForm)

	paymentHandler := handlers.NewPaymentHandler(service, logger)
	api := router.Group("/api/v3/payments", internalAuth)
	api.POST("", paymentHandler.CreatePayment)
	api.GET("/latest", paymentHandler.GetLatestSuccessfulPayment)
	api.GET("/reconcile/incompletePayments", paymentHandler.GetIncompletePayments)
	api.GET("/:paymentId", paymentHandler.GetPayment)
	api.GET("/:paymentId/submission", paymentHandler.GetPaymentSubmission)

	restSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		if err := restSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Form Payment Service REST API started", zap.String("addr", cfg.HTTPAddr))

	// Start gRPC health server
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("Failed to listen on gRPC port", zap.Error(err))
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	go handlers.NewHealthReporter(healthServer, store, logger).Run(ctx, 15*time.Second)

	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Fatal("Failed to start gRPC server", zap.Error(err))
		}
	}()

	logger.Info("Form Payment Service gRPC server started", zap.String("addr", cfg.GRPCAddr))

	gracefulShutdown(restSrv, grpcServer, stop, service, db, redisClient, producer, consumer, shutdownTracing, logger)
}

// gracefulShutdown waits for SIGINT/SIGTERM, drains the servers and
// background work, then releases connections.
func gracefulShutdown(
	restSrv *http.Server,
	grpcServer *grpc.Server,
	stopBackground context.CancelFunc,
	service *payments.Service,
	db *sql.DB,
	redisClient *redis.Client,
	producer sarama.SyncProducer,
	consumer sarama.Consumer,
	shutdownTracing func(context.Context) error,
	logger *zap.Logger,
) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown signal received. Exiting...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := restSrv.Shutdown(ctx); err != nil {
		logger.Error("REST server forced to shutdown", zap.Error(err))
	} else {
		logger.Info("REST server stopped gracefully")
	}

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped gracefully")

	// Stop consumer and health reporter, then let in-flight dispatches finish
	stopBackground()
	service.Wait()

	if err := consumer.Close(); err != nil {
		logger.Error("Failed to close Kafka consumer", zap.Error(err))
	}
	if err := producer.Close(); err != nil {
		logger.Error("Failed to close Kafka producer", zap.Error(err))
	} else {
		logger.Info("Kafka producer closed gracefully")
	}

	if err := db.Close(); err != nil {
		logger.Error("Failed to close database", zap.Error(err))
	} else {
		logger.Info("Database connection closed gracefully")
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Failed to close Redis cache", zap.Error(err))
		} else {
			logger.Info("Redis cache closed gracefully")
		}
	}

	if err := shutdownTracing(ctx); err != nil {
		logger.Error("Failed to shutdown tracing", zap.Error(err))
	}
	logger.Info("Form Payment Service exited gracefully")
}
