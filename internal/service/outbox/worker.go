package outbox

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

var (
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusmarket_outbox_deliveries_total",
		Help: "Outbox deliveries by outcome (sent, dead_lettered, deferred) and publish retries.",
	}, []string{"outcome"})
	backlogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campusmarket_outbox_pending_records",
		Help: "Pending records in the transactional outbox.",
	})
	backlogAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campusmarket_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest pending outbox record.",
	})
)

type workerConfig struct {
	logger      *log.Entry
	deadLetters domain.OutboxPublisher
	breaker     *CircuitBreaker
	poll        time.Duration
	batch       int
	attempts    int
	retryDelay  time.Duration
}

// Option настраивает Worker.
type Option func(*workerConfig)

func WithLogger(logger *log.Entry) Option {
	return func(c *workerConfig) { c.logger = logger }
}

// WithDLQPublisher задаёт получателя событий, у которых кончились попытки.
func WithDLQPublisher(p domain.OutboxPublisher) Option {
	return func(c *workerConfig) { c.deadLetters = p }
}

func WithPollInterval(d time.Duration) Option {
	return func(c *workerConfig) { c.poll = d }
}

func WithBatchSize(n int) Option {
	return func(c *workerConfig) { c.batch = n }
}

func WithMaxAttempts(n int) Option {
	return func(c *workerConfig) { c.attempts = n }
}

// WithRetryBaseDelay задаёт паузу после первой неудачи, дальше она удваивается.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(c *workerConfig) { c.retryDelay = d }
}

// WithCircuitBreaker оборачивает основной publisher: пока breaker разомкнут,
// события остаются pending и не тратят попытки.
func WithCircuitBreaker(b *CircuitBreaker) Option {
	return func(c *workerConfig) { c.breaker = b }
}

// BatchReport итог одного прохода по outbox.
type BatchReport struct {
	Sent         int
	DeadLettered int
	// Deferred: события, оставленные pending из-за разомкнутого breaker.
	Deferred int
}

// Worker переносит pending-события жизненного цикла из outbox в брокер.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	cfg       workerConfig
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	cfg := workerConfig{
		poll:       time.Second,
		batch:      100,
		attempts:   3,
		retryDelay: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.poll <= 0 {
		cfg.poll = time.Second
	}
	if cfg.batch <= 0 {
		cfg.batch = 100
	}
	if cfg.attempts <= 0 {
		cfg.attempts = 3
	}
	if cfg.retryDelay < 0 {
		cfg.retryDelay = 0
	}
	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "outbox-worker")
	}
	if cfg.breaker != nil && publisher != nil {
		publisher = NewBreakerPublisher(publisher, cfg.breaker)
	}
	return &Worker{repo: repo, publisher: publisher, cfg: cfg}
}

// Run опрашивает outbox каждые poll interval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.cfg.logger.Warn("outbox worker disabled: no repository or publisher")
		return
	}

	ticker := time.NewTicker(w.cfg.poll)
	defer ticker.Stop()

	for {
		report := w.ProcessOnce(ctx)
		if report.Sent+report.DeadLettered > 0 {
			w.cfg.logger.WithFields(log.Fields{
				"sent":          report.Sent,
				"dead_lettered": report.DeadLettered,
				"deferred":      report.Deferred,
			}).Debug("outbox batch processed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce забирает одну порцию pending-событий и доставляет их по порядку.
// Разомкнутый breaker прерывает порцию: оставшиеся события ждут следующего прохода.
func (w *Worker) ProcessOnce(ctx context.Context) BatchReport {
	var report BatchReport
	if ctx.Err() != nil {
		return report
	}

	w.observeBacklog(ctx)
	defer w.observeBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.cfg.batch)
	if err != nil {
		w.cfg.logger.WithError(err).Warn("pull pending outbox records")
		return report
	}

	for i, msg := range batch {
		if ctx.Err() != nil {
			return report
		}
		switch w.deliver(ctx, msg) {
		case outcomeSent:
			report.Sent++
		case outcomeDeadLettered:
			report.DeadLettered++
		case outcomeDeferred:
			report.Deferred = len(batch) - i
			return report
		case outcomeAborted:
			return report
		}
	}
	return report
}

func (w *Worker) observeBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.cfg.logger.WithError(err).Warn("read outbox backlog")
		return
	}
	backlogSize.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		backlogAge.Set(0)
		return
	}
	backlogAge.Set(max(time.Since(stats.OldestPendingAt).Seconds(), 0))
}
