package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

const (
	defaultPoll        = 1 * time.Second
	defaultBatch       = 100
	defaultAttempts    = 3
	defaultBackoffBase = 50 * time.Millisecond
)

var (
	outboxPublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookcafe_outbox_publish_attempts_total",
		Help: "Outbox publish attempts by result (sent, retry_error, failed, dlq_failed).",
	}, []string{"result"})
	outboxPendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookcafe_outbox_pending_records",
		Help: "Outbox records waiting to be published.",
	})
	outboxOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookcafe_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest waiting outbox record.",
	})
)

type workerOptions struct {
	logger      *log.Entry
	dlq         domain.OutboxPublisher
	poll        time.Duration
	batch       int
	attempts    int
	backoffBase time.Duration
}

// normalize подставляет дефолты вместо нулевых и отрицательных значений.
func (o *workerOptions) normalize() {
	if o.logger == nil {
		o.logger = log.WithField("component", "outbox-worker")
	}
	if o.poll <= 0 {
		o.poll = defaultPoll
	}
	if o.batch <= 0 {
		o.batch = defaultBatch
	}
	if o.attempts <= 0 {
		o.attempts = defaultAttempts
	}
	if o.backoffBase < 0 {
		o.backoffBase = 0
	}
}

// Option настраивает Worker.
type Option func(*workerOptions)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) Option {
	return func(o *workerOptions) { o.logger = logger }
}

// WithDLQPublisher задаёт publisher для событий, исчерпавших retry.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(o *workerOptions) { o.dlq = publisher }
}

// WithPollInterval задаёт период опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(o *workerOptions) { o.poll = interval }
}

// WithBatchSize задаёт максимум записей за один цикл.
func WithBatchSize(batchSize int) Option {
	return func(o *workerOptions) { o.batch = batchSize }
}

// WithMaxAttempts задаёт число попыток публикации до failed/DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(o *workerOptions) { o.attempts = maxAttempts }
}

// WithRetryBaseDelay задаёт базовую задержку экспоненциального backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(o *workerOptions) { o.backoffBase = delay }
}

// Worker выгребает pending-события заказов из transactional outbox и
// публикует их в брокер. Семантика at-least-once: при сбое между публикацией
// и MarkSent событие уйдёт повторно, consumer обязан это переживать.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	opts      workerOptions
}

// NewWorker создаёт воркер с дефолтами, скорректированными опциями.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := workerOptions{
		poll:        defaultPoll,
		batch:       defaultBatch,
		attempts:    defaultAttempts,
		backoffBase: defaultBackoffBase,
	}
	for _, apply := range options {
		apply(&opts)
	}
	opts.normalize()

	return &Worker{repo: repo, publisher: publisher, opts: opts}
}

// Run крутит polling-цикл до отмены ctx. Первый проход выполняется сразу,
// не дожидаясь тика.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.opts.logger.Warn("outbox worker disabled: no repository or publisher")
		return
	}

	ticker := time.NewTicker(w.opts.poll)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл: снимает метрики бэклога, тянет батч
// pending-событий и публикует каждое с retry.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.observeBacklog()

	batch, err := w.repo.PullPending(w.opts.batch)
	if err != nil {
		w.opts.logger.WithError(err).Warn("pull pending outbox batch")
		return
	}
	if len(batch) == 0 {
		return
	}

	for _, msg := range batch {
		if ctx.Err() != nil {
			return
		}
		w.deliver(ctx, msg)
	}

	w.observeBacklog()
}

func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) {
	err := w.attemptPublish(ctx, msg)
	if err == nil {
		if markErr := w.repo.MarkSent(msg.ID); markErr != nil {
			w.opts.logger.WithError(markErr).WithField("outbox_id", msg.ID).Warn("mark outbox record sent")
		}
		return
	}

	w.opts.logger.WithError(err).WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"order_id":   msg.AggregateID,
		"event_type": msg.EventType,
	}).Error("outbox publish exhausted retries")
	outboxPublishAttempts.WithLabelValues("failed").Inc()

	if dlqErr := w.sendToDLQ(msg, err); dlqErr != nil {
		w.opts.logger.WithError(dlqErr).WithField("outbox_id", msg.ID).Warn("dlq publish")
		outboxPublishAttempts.WithLabelValues("dlq_failed").Inc()
	}
	if markErr := w.repo.MarkFailed(msg.ID); markErr != nil {
		w.opts.logger.WithError(markErr).WithField("outbox_id", msg.ID).Warn("mark outbox record failed")
	}
}

func (w *Worker) attemptPublish(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if lastErr = w.publisher.Publish(msg); lastErr == nil {
			outboxPublishAttempts.WithLabelValues("sent").Inc()
			return nil
		}
		outboxPublishAttempts.WithLabelValues("retry_error").Inc()

		if attempt >= w.opts.attempts {
			return fmt.Errorf("publish failed after %d attempts: %w", w.opts.attempts, lastErr)
		}
		if delay := w.backoffDelay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
}

func (w *Worker) observeBacklog() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.opts.logger.WithError(err).Warn("collect outbox backlog stats")
		return
	}

	outboxPendingRecords.Set(float64(stats.PendingCount))

	var age float64
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		if since := time.Since(stats.OldestPendingAt).Seconds(); since > 0 {
			age = since
		}
	}
	outboxOldestPendingAge.Set(age)
}

// backoffDelay возвращает base * 2^(attempt-1) с защитой от переполнения.
func (w *Worker) backoffDelay(attempt int) time.Duration {
	delay := w.opts.backoffBase
	if delay <= 0 {
		return 0
	}

	const ceiling = time.Duration(1<<63 - 1)
	for i := 1; i < attempt; i++ {
		if delay > ceiling/2 {
			return ceiling
		}
		delay *= 2
	}
	return delay
}

func (w *Worker) sendToDLQ(msg domain.OutboxMessage, publishErr error) error {
	if w.opts.dlq == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"outbox_id":        msg.ID,
		"aggregate_type":   msg.AggregateType,
		"aggregate_id":     msg.AggregateID,
		"event_type":       msg.EventType,
		"payload":          json.RawMessage(msg.Payload),
		"publish_error":    publishErr.Error(),
		"dlq_published_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	dead := msg
	dead.Payload = payload
	if err := w.opts.dlq.Publish(dead); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}

	return nil
}
