package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feelware/dvp/internal/api/cache"
	"github.com/feelware/dvp/internal/api/handler"
	"github.com/feelware/dvp/internal/api/router"
	"github.com/feelware/dvp/internal/api/service"
	"github.com/feelware/dvp/internal/api/storage"
	"github.com/feelware/dvp/internal/config"
	"github.com/feelware/dvp/shared/logger"
	"github.com/feelware/dvp/shared/minio"
	"github.com/feelware/dvp/shared/postgresql"
	"github.com/feelware/dvp/shared/rabbitmq"
	"github.com/feelware/dvp/shared/redis"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
)

const startupTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), startupTimeout)
	defer cancelStart()

	dbClient, err := initPostgreSQL(startCtx, &cfg.Database, componentLogger(appLogger, "postgresql"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if cfg.Database.AutoMigrate {
		err := dbClient.Migrate(startCtx, func(ctx context.Context, db *sqlx.DB) error {
			return storage.Migrate(ctx, db.DB)
		})
		if err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	objectClient, err := initObjectStorage(startCtx, &cfg.Storage, componentLogger(appLogger, "object_storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize object storage: %w", err)
	}

	rabbitClient, err := initRabbitMQ(startCtx, &cfg.RabbitMQ, componentLogger(appLogger, "rabbitmq"))
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = initRedis(startCtx, &cfg.Redis, componentLogger(appLogger, "redis"))
		if err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
		defer redisClient.Close()
	}

	r := initRouter(cfg, appLogger.Logger, dbClient, objectClient, rabbitClient, redisClient)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	case <-quit:
	}

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete",
		slog.String("db_pool", dbClient.Stats()),
	)
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// componentLogger tags every record of a client with its component name
func componentLogger(l *logger.Logger, component string) *slog.Logger {
	return l.With(slog.String("component", component)).Logger
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectTimeout:  cfg.ConnectTimeout,
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// initObjectStorage initializes the S3-compatible object storage client
func initObjectStorage(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (*minio.Client, error) {
	return minio.NewClient(ctx, &minio.Config{
		Endpoint:     cfg.Endpoint,
		AccessKey:    cfg.AccessKey,
		SecretKey:    cfg.SecretKey,
		UseSSL:       cfg.UseSSL,
		Region:       cfg.Region,
		Bucket:       cfg.Bucket,
		CreateBucket: cfg.CreateBucket,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client. The exchange and queue are durable.
func initRabbitMQ(ctx context.Context, cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    true,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       true,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PublisherConfirms:  cfg.Publish.Confirm,
	}

	return rabbitmq.NewClient(ctx, rabbitConfig, logger)
}

// initRedis initializes the Redis client used by the status cache and rate limiter
func initRedis(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(ctx, &redis.Config{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
		KeyPrefix:   cfg.KeyPrefix,
	}, logger)
}

// initRouter wires the job service and initializes the Gin router with all routes and middleware
func initRouter(
	cfg *config.Config,
	logger *slog.Logger,
	dbClient *postgresql.Client,
	objectClient *minio.Client,
	rabbitClient *rabbitmq.Client,
	redisClient *redis.Client,
) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	var jobStore service.JobStore = storage.NewStorage(dbClient.GetDB())

	checks := []handler.HealthCheck{
		{Name: "database", Check: dbClient.HealthCheck},
		{Name: "object_storage", Check: objectClient.HealthCheck},
		{Name: "queue", Check: rabbitClient.HealthCheck},
	}

	opts := router.Options{ServiceName: cfg.App.Name}

	if redisClient != nil {
		jobStore = cache.NewJobStore(jobStore, redisClient, cfg.Redis.CacheTTL, logger)
		checks = append(checks, handler.HealthCheck{Name: "redis", Check: redisClient.HealthCheck})
		opts.RateLimiter = redisClient
		opts.SubmissionsPerMinute = cfg.RateLimit.SubmissionsPerMinute
	}

	jobService := service.NewJobService(objectClient, jobStore, rabbitClient, service.Config{
		Bucket:            objectClient.Bucket(),
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		MaxFileSize:       cfg.Upload.MaxFileSizeBytes,
		StorageTimeout:    cfg.Timeouts.Storage,
		RecordTimeout:     cfg.Timeouts.Record,
		PublishTimeout:    cfg.Timeouts.Publish,
		QueryTimeout:      cfg.Timeouts.Query,
	}, logger)

	handlerDeps := &handler.Dependencies{
		Logger:          logger,
		Service:         jobService,
		MaxFileSize:     cfg.Upload.MaxFileSizeBytes,
		DefaultPageSize: cfg.Server.DefaultPageSize,
		MaxPageSize:     cfg.Server.MaxPageSize,
		HealthChecks:    checks,
	}

	return router.SetupRouter(handlerDeps, opts)
}
