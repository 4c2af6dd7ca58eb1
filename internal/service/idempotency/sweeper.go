package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

var (
	sweepPassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusmarket_idempotency_sweep_passes_total",
		Help: "Idempotency sweep passes by result.",
	}, []string{"result"})
	sweepRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campusmarket_idempotency_sweep_removed_total",
		Help: "Expired idempotency records removed by the sweeper.",
	})
)

// SweepResult описывает один проход очистки.
type SweepResult struct {
	Removed int
	Batches int
	// Truncated выставляется, когда проход упёрся в maxBatches и часть записей осталась.
	Truncated bool
}

type sweeperConfig struct {
	logger     *log.Entry
	every      time.Duration
	batch      int
	maxBatches int
	clock      func() time.Time
}

// SweeperOption настраивает Sweeper.
type SweeperOption func(*sweeperConfig)

func WithLogger(logger *log.Entry) SweeperOption {
	return func(c *sweeperConfig) { c.logger = logger }
}

func WithInterval(every time.Duration) SweeperOption {
	return func(c *sweeperConfig) { c.every = every }
}

func WithBatchSize(n int) SweeperOption {
	return func(c *sweeperConfig) { c.batch = n }
}

// WithMaxBatches ограничивает число удалений за один проход, чтобы не держать хранилище слишком долго.
func WithMaxBatches(n int) SweeperOption {
	return func(c *sweeperConfig) { c.maxBatches = n }
}

func WithClock(clock func() time.Time) SweeperOption {
	return func(c *sweeperConfig) { c.clock = clock }
}

// Sweeper удаляет сохранённые ответы, у которых истёк ttl.
// Guard и без него не отдаёт просроченные записи, Sweeper только освобождает место.
type Sweeper struct {
	repo domain.IdempotencyRepository
	cfg  sweeperConfig
}

func NewSweeper(repo domain.IdempotencyRepository, opts ...SweeperOption) *Sweeper {
	cfg := sweeperConfig{
		every:      10 * time.Minute,
		batch:      500,
		maxBatches: 100,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.every <= 0 {
		cfg.every = 10 * time.Minute
	}
	if cfg.batch <= 0 {
		cfg.batch = 500
	}
	if cfg.maxBatches <= 0 {
		cfg.maxBatches = 100
	}
	if cfg.clock == nil {
		cfg.clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "idempotency-sweeper")
	}
	return &Sweeper{repo: repo, cfg: cfg}
}

// Run делает проход сразу и затем раз в interval, пока ctx не отменён.
func (s *Sweeper) Run(ctx context.Context) {
	if s.repo == nil {
		s.cfg.logger.Warn("idempotency sweeper disabled: no repository")
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		res, err := s.Sweep(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			sweepPassesTotal.WithLabelValues("error").Inc()
			s.cfg.logger.WithError(err).WithField("removed", res.Removed).Warn("idempotency sweep failed")
		default:
			sweepPassesTotal.WithLabelValues("ok").Inc()
			if res.Removed > 0 {
				s.cfg.logger.WithFields(log.Fields{
					"removed":   res.Removed,
					"batches":   res.Batches,
					"truncated": res.Truncated,
				}).Info("expired idempotency keys removed")
			}
		}

		next := s.cfg.every
		if res.Truncated {
			// Хвост остался, следующий проход раньше обычного.
			next = s.cfg.every / 10
		}
		timer.Reset(next)
	}
}

// Sweep удаляет записи с ttl не позже текущего момента, порциями по batch.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	return s.SweepBefore(ctx, s.cfg.clock())
}

// SweepBefore то же, что Sweep, но с явной границей времени.
func (s *Sweeper) SweepBefore(ctx context.Context, cutoff time.Time) (SweepResult, error) {
	var res SweepResult
	for res.Batches < s.cfg.maxBatches {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := s.repo.DeleteExpired(ctx, cutoff, s.cfg.batch)
		res.Batches++
		if err != nil {
			return res, err
		}
		res.Removed += n
		sweepRemovedTotal.Add(float64(n))
		if n < s.cfg.batch {
			return res, nil
		}
	}
	res.Truncated = true
	return res, nil
}
