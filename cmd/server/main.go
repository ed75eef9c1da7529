package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"recoverflow/internal/api"
	"recoverflow/internal/classifier"
	"recoverflow/internal/config"
	"recoverflow/internal/metrics"
	"recoverflow/internal/middleware"
	"recoverflow/internal/model"
	"recoverflow/internal/repository"
	"recoverflow/internal/service"
	"recoverflow/internal/transport"
	"recoverflow/pkg/logger"

	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()

	logger.InitLogger(cfg.Server.Environment, cfg.Server.LogLevel)
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("application startup failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// infrastructure
	rdb, err := initRedis(cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	etcdCli, err := initEtcd(cfg.Etcd)
	if err != nil {
		return err
	}
	defer etcdCli.Close()

	db, err := initDB(cfg.MySQL)
	if err != nil {
		return err
	}

	// repositories
	failures := repository.NewFailedMessageRepository(db)
	groups := repository.NewGroupRepository(db)
	bodies := repository.NewBodyRepository(db)
	retries := repository.NewRetryBatchRepository(db)
	outbox := repository.NewOutboxRepository(db)
	integrationKeys := repository.NewIntegrationKeyRepository(db)
	history := repository.NewEtcdHistoryStore(etcdCli, cfg.Etcd.HistoryKey)

	// transport
	broker := transport.NewRedisStreamTransport(rdb, transport.RedisStreamOptions{
		ErrorStream:    cfg.Ingestion.ErrorStream,
		Group:          cfg.Ingestion.ConsumerGroup,
		Consumer:       cfg.Ingestion.ConsumerName,
		ReadCount:      cfg.Ingestion.ReadCount,
		BlockTimeout:   cfg.Ingestion.BlockTimeout,
		RedeliverAfter: cfg.Ingestion.RedeliverAfter,
	})
	eventPublisher := transport.NewRedisEventPublisher(rdb, cfg.Stream.EventStream, cfg.Stream.EventStreamMaxLen)

	// services
	observer := metrics.NewPrometheusObserver()
	bus := service.NewOutboxBus(outbox)
	hub := service.NewHub(observer, cfg.Stream.HeartbeatInterval, cfg.Stream.ReplaySize)
	conflictRetries := cfg.Ingestion.MaxConflictRetries

	ingestionSvc := service.NewIngestionService(failures, bodies, classifier.NewEngine(), bus, observer, conflictRetries)
	historySvc := service.NewHistoryService(history, cfg.History.Depth, conflictRetries)
	retrySvc := service.NewRetryService(failures, groups, retries, historySvc, bus, observer, cfg.Retry.BatchSize, conflictRetries)
	archiveSvc := service.NewArchiveService(failures, groups, bus, observer)
	resolveSvc := service.NewResolveService(failures, bus, conflictRetries)
	groupSvc := service.NewGroupService(groups, failures)
	authSvc := service.NewAuthService(rdb, service.AuthOptions{
		SigningKey:      []byte(cfg.Auth.SigningKey),
		Username:        cfg.Auth.Username,
		Password:        cfg.Auth.Password,
		AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
	})

	// background workers
	processor := service.NewBatchProcessor(retries, failures, bodies, broker, bus, retrySvc, observer, service.BatchProcessorOptions{
		Parallelism:        cfg.Retry.Parallelism,
		MaxSendAttempts:    cfg.Retry.MaxSendAttempts,
		StaleAfter:         cfg.Retry.StaleAfter,
		Interval:           cfg.Retry.PollInterval,
		PickLimit:          cfg.Retry.PickLimit,
		MaxConflictRetries: conflictRetries,
	})
	outboxWorker := service.NewOutboxWorker(outbox, eventPublisher, hub,
		cfg.Workers.OutboxInterval, cfg.Workers.OutboxBatchSize, cfg.Workers.OutboxMaxRetry)
	consumer := service.NewIngestionConsumer(broker, ingestionSvc, cfg.Ingestion.Concurrency)

	// the hub stops with the http server so open streams end and Shutdown
	// does not wait on them
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		logger.Info("starting hub")
		hub.Run(hubCtx)
	}()
	for name, run := range map[string]func(context.Context){
		"outbox worker":   outboxWorker.Run,
		"batch processor": processor.Run,
		"consumer":        consumer.Run,
	} {
		workers.Add(1)
		go func() {
			defer workers.Done()
			logger.Info("starting " + name)
			run(ctx)
		}()
	}

	// http
	r := api.RegisterRoutes(api.Handlers{
		Auth:    api.NewAuthHandler(authSvc),
		Retry:   api.NewRetryHandler(retrySvc),
		Groups:  api.NewGroupHandler(groupSvc, archiveSvc),
		Message: api.NewMessageHandler(groupSvc, resolveSvc),
		History: api.NewHistoryHandler(historySvc),
		Stream:  api.NewStreamHandler(hub),
		Health: api.NewHealthHandler(map[string]api.HealthChecker{
			"mysql": dbHealth{db},
			"redis": redisHealth{rdb},
			"etcd":  history,
		}),
	}, api.RouterOptions{
		Tokens:      authSvc,
		APIKeys:     integrationKeys,
		RateLimiter: middleware.NewRateLimiter(rdb, cfg.RateLimit.RequestsPerSecond),
		DevMode:     cfg.Server.Environment == "dev",
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}
	srv.RegisterOnShutdown(stopHub)

	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen failed", zap.Error(err))
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	cancel()
	workers.Wait()

	logger.Info("server exited properly")
	return nil
}

func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func initEtcd(cfg config.EtcdConfig) (*clientv3.Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return client, nil
}

func initDB(cfg config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}

	if !cfg.AutoMigrate {
		return db, nil
	}
	err = db.AutoMigrate(
		&model.FailedMessage{},
		&model.ProcessingAttempt{},
		&model.FailureGroup{},
		&model.GroupComment{},
		&model.MessageBody{},
		&model.RetryOperation{},
		&model.RetryBatch{},
		&model.RetryClaim{},
		&model.OutboxEvent{},
		&model.IntegrationClient{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

type dbHealth struct{ db *gorm.DB }

func (h dbHealth) Health(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type redisHealth struct{ rdb *redis.Client }

func (h redisHealth) Health(ctx context.Context) error {
	return h.rdb.Ping(ctx).Err()
}
