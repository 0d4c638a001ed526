package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

const (
	defaultCleanupInterval = 10 * time.Minute
	defaultCleanupBatch    = 500
)

var (
	idempotencyCleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookcafe_idempotency_cleanup_runs_total",
		Help: "Idempotency cleanup runs by result (ok, error).",
	}, []string{"result"})
	idempotencyCleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookcafe_idempotency_cleanup_deleted_total",
		Help: "Expired idempotency records removed since start.",
	})
	idempotencyCleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookcafe_idempotency_cleanup_last_deleted",
		Help: "Records removed by the most recent cleanup run.",
	})
)

type cleanupOptions struct {
	logger   *log.Entry
	interval time.Duration
	batch    int
}

func (o *cleanupOptions) normalize() {
	if o.logger == nil {
		o.logger = log.WithField("component", "idempotency-cleanup-worker")
	}
	if o.interval <= 0 {
		o.interval = defaultCleanupInterval
	}
	if o.batch <= 0 {
		o.batch = defaultCleanupBatch
	}
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*cleanupOptions)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(o *cleanupOptions) { o.logger = logger }
}

// WithInterval задаёт период между циклами очистки.
func WithInterval(interval time.Duration) CleanupOption {
	return func(o *cleanupOptions) { o.interval = interval }
}

// WithBatchSize задаёт размер порции при удалении.
func WithBatchSize(batchSize int) CleanupOption {
	return func(o *cleanupOptions) { o.batch = batchSize }
}

// CleanupWorker вычищает просроченные idempotency-записи, накопившиеся
// от запросов на создание заказа. TTL записи выставляется при создании,
// воркер лишь гарантирует, что хранилище не растёт бесконечно.
type CleanupWorker struct {
	repo domain.IdempotencyRepository
	opts cleanupOptions
}

// NewCleanupWorker создаёт воркер с дефолтами, скорректированными опциями.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	opts := cleanupOptions{
		interval: defaultCleanupInterval,
		batch:    defaultCleanupBatch,
	}
	for _, apply := range options {
		apply(&opts)
	}
	opts.normalize()

	return &CleanupWorker{repo: repo, opts: opts}
}

// Run выполняет очистку сразу при старте, затем по тикеру до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.opts.logger.Warn("idempotency cleanup disabled: no repository")
		return
	}

	w.runOnce(ctx)

	ticker := time.NewTicker(w.opts.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx, time.Now().UTC())
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		idempotencyCleanupRunsTotal.WithLabelValues("error").Inc()
		w.opts.logger.WithError(err).Warn("idempotency cleanup run")
		return
	}

	idempotencyCleanupRunsTotal.WithLabelValues("ok").Inc()
	idempotencyCleanupLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.opts.logger.WithField("deleted", deleted).Info("idempotency cleanup removed expired records")
	}
}

// DeleteExpired порциями удаляет записи с ttl <= before и возвращает
// суммарное число удалённых. Порция меньше batchSize означает, что
// просроченных записей больше нет.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	var total int
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.repo.DeleteExpired(before, w.opts.batch)
		if err != nil {
			return total, err
		}
		if deleted > 0 {
			total += deleted
			idempotencyCleanupDeletedTotal.Add(float64(deleted))
		}

		if deleted < w.opts.batch {
			return total, nil
		}
	}
}
