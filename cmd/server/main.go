package main

import (
	"campusconnect/backend/internal/chat"
	"campusconnect/backend/internal/config"
	"campusconnect/backend/internal/database"
	"campusconnect/backend/internal/events"
	"campusconnect/backend/internal/handler"
	"campusconnect/backend/internal/hub"
	"campusconnect/backend/internal/idem"
	"campusconnect/backend/internal/logging"
	"campusconnect/backend/internal/media"
	"campusconnect/backend/internal/poll"
	"campusconnect/backend/internal/ratelimit"
	"campusconnect/backend/internal/redisx"
	"campusconnect/backend/internal/telemetry"
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	// Swagger imports
	_ "campusconnect/backend/docs" // This is important for swag to find the generated docs

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func init() {
	config.LoadConfig()
}

// @title           Campus Chat API
// @version         1.0
// @description     Direct and group chats, message history with read receipts, and polls.
// @host            localhost:8080
// @BasePath        /api/v1
// @securityDefinitions.apiKey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg := config.AppConfig
	logger := logging.New(cfg.LogLevel, cfg.AppEnv)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(rootCtx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialise tracing", "err", err)
	}

	// Connect to the database
	db, err := database.Connect(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}

	streams := hub.NewHub(logger)
	publishers := events.Multi{streams}
	var closers []func()
	switch cfg.EventsBroker {
	case "kafka":
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokerList(), cfg.KafkaTopic)
		if err != nil {
			logger.Fatal("Failed to create Kafka publisher", "err", err)
		}
		publishers = append(publishers, kp)
		closers = append(closers, func() { _ = kp.Close() })
		logger.Info("Publishing events to Kafka", "topic", cfg.KafkaTopic)
	case "nats":
		np, err := events.NewNatsPublisher(rootCtx, cfg.NatsURL, cfg.NatsStream)
		if err != nil {
			logger.Fatal("Failed to create NATS publisher", "err", err)
		}
		publishers = append(publishers, np)
		closers = append(closers, np.Close)
		logger.Info("Publishing events to NATS JetStream", "stream", cfg.NatsStream)
	case "":
	default:
		logger.Fatal("Unknown EVENTS_BROKER", "value", cfg.EventsBroker)
	}

	chatOpts := []chat.Option{
		chat.WithPublisher(publishers),
		chat.WithLogger(logger),
		chat.WithTimeout(cfg.QueryTimeout),
	}

	var store *media.Storage
	if cfg.MinioEndpoint != "" {
		store, err = media.New(media.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
			Bucket:    cfg.MinioBucket,
			URLTTL:    cfg.MediaURLTTL,
		})
		if err != nil {
			logger.Fatal("Failed to create media client", "err", err)
		}
		if err := store.EnsureBucket(rootCtx); err != nil {
			logger.Fatal("Failed to prepare media bucket", "bucket", cfg.MinioBucket, "err", err)
		}
		chatOpts = append(chatOpts, chat.WithMediaChecker(store))
		logger.Info("Media storage ready", "bucket", cfg.MinioBucket)
	}

	var guards handler.Guards
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr, cfg.RedisPassword)
		if err := rdb.Ping(rootCtx); err != nil {
			logger.Warn("Redis unreachable, rate limiting and idempotency disabled", "err", err)
		} else {
			guards = handler.Guards{
				Limiter:      ratelimit.New(rdb),
				MessageLimit: cfg.RateLimitMessages,
				Window:       cfg.RateLimitWindow,
				Idempotency:  idem.New(rdb, cfg.IdempotencyTTL),
			}
			closers = append(closers, func() { _ = rdb.Close() })
		}
	}

	chats := chat.New(db, chatOpts...)
	polls := poll.New(db, chats,
		poll.WithPublisher(publishers),
		poll.WithLogger(logger),
		poll.WithTimeout(cfg.QueryTimeout),
	)

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), logging.Middleware(logger))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoint
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	handler.RegisterRoutes(router, &handler.ChatHandler{
		Chats: chats,
		Polls: polls,
		Hub:   streams,
		Media: store,
	}, guards)

	// SSE handlers watch their request context, so cancelling the base
	// context is what lets Shutdown finish.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              cfg.AppPort,
		Handler:           otelhttp.NewHandler(router, "http.server"),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	go func() {
		logger.Info("Server is running", "addr", cfg.AppPort)
		logger.Info("Swagger UI is available at /swagger/index.html")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", "err", err)
		}
	}()

	<-rootCtx.Done()
	logger.Info("Shutting down")
	cancelBase()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown failed", "err", err)
	}
	for _, c := range closers {
		c()
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Error("Tracer shutdown failed", "err", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info("Bye")
}
