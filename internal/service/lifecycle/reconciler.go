package lifecycle

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
	"github.com/vladislavdragonenkov/campusmarket/internal/metrics"
)

const (
	defaultReconcileInterval  = time.Minute
	defaultReconcileBatchSize = 100

	// ReconcileReason записывается в историю освобождённого объявления.
	ReconcileReason = "reservation without active transaction"
	// ReconcileSoldReason записывается, когда последняя сделка уже Completed, а объявление осталось Reserved.
	ReconcileSoldReason = "completed transaction left listing reserved"
	reconcilerActor = "system:reconciler"
)

// ReconcilerOptions задаёт параметры воркера сверки.
type ReconcilerOptions struct {
	Logger    *log.Entry
	Metrics   *metrics.LifecycleMetrics
	Interval  time.Duration
	BatchSize int
	Clock     func() time.Time
}

// ReconcilerOption настраивает Reconciler.
type ReconcilerOption func(*ReconcilerOptions)

// WithReconcilerLogger задаёт logger воркера.
func WithReconcilerLogger(logger *log.Entry) ReconcilerOption {
	return func(opts *ReconcilerOptions) {
		opts.Logger = logger
	}
}

// WithReconcilerMetrics включает счётчики проходов.
func WithReconcilerMetrics(m *metrics.LifecycleMetrics) ReconcilerOption {
	return func(opts *ReconcilerOptions) {
		opts.Metrics = m
	}
}

// WithReconcileInterval задаёт интервал между проходами.
func WithReconcileInterval(interval time.Duration) ReconcilerOption {
	return func(opts *ReconcilerOptions) {
		opts.Interval = interval
	}
}

// WithReconcileBatchSize ограничивает число объявлений за проход.
func WithReconcileBatchSize(batchSize int) ReconcilerOption {
	return func(opts *ReconcilerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithReconcilerClock подменяет источник времени.
func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(opts *ReconcilerOptions) {
		opts.Clock = now
	}
}

// Reconciler находит Reserved-объявления без активной сделки. Если последняя сделка
// завершена, объявление переводится в Sold, иначе возвращается в Available.
type Reconciler struct {
	store     domain.LifecycleStore
	listings  domain.ListingRepository
	logger    *log.Entry
	metrics   *metrics.LifecycleMetrics
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewReconciler создаёт воркер сверки резервов.
func NewReconciler(store domain.LifecycleStore, listings domain.ListingRepository, options ...ReconcilerOption) *Reconciler {
	opts := ReconcilerOptions{
		Interval:  defaultReconcileInterval,
		BatchSize: defaultReconcileBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "lifecycle-reconciler")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultReconcileInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultReconcileBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &Reconciler{
		store:     store,
		listings:  listings,
		logger:    logger,
		metrics:   opts.Metrics,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		now:       opts.Clock,
	}
}

// Run выполняет сверку периодически до отмены ctx.
func (r *Reconciler) Run(ctx context.Context) {
	if r.store == nil || r.listings == nil {
		r.logger.Warn("reconciler is disabled: store is nil")
		return
	}

	r.runOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	released, err := r.ReconcileOnce(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.WithError(err).Warn("reconcile run failed")
	}
	if released > 0 {
		r.logger.WithField("fixed", released).Info("orphaned reservations reconciled")
	}
}

// ReconcileOnce выполняет один проход и возвращает число исправленных объявлений.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	orphans, err := r.listings.ListOrphanedReservations(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, listing := range orphans {
		if err := ctx.Err(); err != nil {
			r.record(released)
			return released, err
		}
		ok, err := r.release(ctx, listing.ID)
		if err != nil {
			r.logger.WithError(err).WithField("listing_id", listing.ID).Warn("failed to release orphaned reservation")
			continue
		}
		if ok {
			released++
		}
	}

	r.record(released)
	return released, nil
}

// release перепроверяет объявление внутри транзакции: за время между
// выборкой и записью по нему могла появиться сделка.
func (r *Reconciler) release(ctx context.Context, listingID string) (bool, error) {
	released := false
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx domain.LifecycleTx) error {
		released = false

		listing, err := tx.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if listing.Status != domain.ListingStatusReserved {
			return nil
		}
		if _, err := tx.FindActiveTransaction(ctx, listingID); err == nil {
			return nil
		} else if !errors.Is(err, domain.ErrTransactionNotFound) {
			return err
		}

		op, event, reason := domain.ListingOpRelease, domain.EventListingReleased, ReconcileReason
		extra := map[string]any{}
		latest, err := tx.LatestTransaction(ctx, listingID)
		switch {
		case err == nil && latest.Status == domain.TransactionStatusCompleted:
			op, event, reason = domain.ListingOpSell, domain.EventListingSold, ReconcileSoldReason
			extra["transaction_id"] = latest.ID
		case err != nil && !errors.Is(err, domain.ErrTransactionNotFound):
			return err
		}

		next, err := domain.NextListingStatus(listing.Status, op)
		if err != nil {
			return err
		}
		now := r.now()
		if err := tx.SwapListingStatus(ctx, listingID, listing.Status, next, now); err != nil {
			return err
		}

		extra["status"] = string(next)
		batch := eventBatch{listingEvent(event, listingID, reconcilerActor, reason, now, extra)}
		if err := batch.write(ctx, tx); err != nil {
			return err
		}
		released = true
		return nil
	})
	return released, err
}

func (r *Reconciler) record(released int) {
	if r.metrics != nil {
		r.metrics.RecordReconcileRun(released)
	}
}
