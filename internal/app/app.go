package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bookcafe/internal/cache/redisx"
	healthcheck "github.com/vladislavdragonenkov/bookcafe/internal/health"
	"github.com/vladislavdragonenkov/bookcafe/internal/httpx"
	"github.com/vladislavdragonenkov/bookcafe/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/bookcafe/internal/service/idempotency"
	"github.com/vladislavdragonenkov/bookcafe/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/bookcafe/internal/service/outbox"
	"github.com/vladislavdragonenkov/bookcafe/internal/service/stock"
	"github.com/vladislavdragonenkov/bookcafe/internal/version"
)

// Run собирает зависимости и запускает HTTP-сервер с фоновыми воркерами.
// Блокируется до отмены контекста или фатальной ошибки сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	logger.Infof("starting bookcafe %s", version.String())

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	// Kafka опциональна: без brokers события публикуются только в outbox.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	stockProtocol := stock.NewProtocol(deps.registry, logger.WithField("component", "stock"))

	var engine *lifecycle.Engine
	if kafkaProducer != nil {
		engine = lifecycle.NewEngineWithKafka(deps.stores, stockProtocol, kafkaProducer, logger.WithField("component", "lifecycle"))
	} else {
		engine = lifecycle.NewEngine(deps.stores, stockProtocol, logger.WithField("component", "lifecycle"))
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redisx.New(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		logger.WithField("addr", cfg.RedisAddr).Info("redis status cache enabled")
	}
	statusCache := redisx.NewStatusCache(redisClient)

	// Outbox worker имеет смысл только при живом Kafka producer.
	if kafkaProducer != nil {
		publisher := kafka.NewOutboxPublisher(kafkaProducer, cfg.KafkaTopic)
		dlq := kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicDeadLetterQueue)
		worker := outbox.NewWorker(deps.outboxRepo, publisher,
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(dlq),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		go worker.Run(ctx)
	} else {
		logger.Info("kafka brokers are not configured, outbox worker is disabled")
	}

	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	go cleanupWorker.Run(ctx)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.pg != nil {
		pg := deps.pg
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pg.Ping(pingCtx)
		}))
	}
	if redisClient != nil {
		rdb := redisClient
		healthHandler.RegisterChecker("redis", healthcheck.NewSimpleChecker("redis", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rdb.Ping(pingCtx).Err()
		}))
	}
	if kafkaProducer != nil {
		// Sync producer не даёт ping; проверка фиксирует лишь то, что producer
		// был успешно создан и ещё не закрыт.
		healthHandler.RegisterChecker("kafka", healthcheck.NewSimpleChecker("kafka", func() error {
			return nil
		}))
	}

	router := httpx.NewRouter(healthHandler)
	ordersHandler := &httpx.OrdersHandler{
		Engine:      engine,
		Timeline:    deps.timelineRepo,
		Idempotency: deps.idempotencyRepo,
		Cache:       statusCache,
		Logger:      logger.WithField("component", "http"),
	}
	ordersHandler.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP сервер слушает %s", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(srv, logger)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
