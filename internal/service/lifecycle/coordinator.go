package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
	"github.com/vladislavdragonenkov/campusmarket/internal/metrics"
)

const (
	defaultOperationTimeout = 5 * time.Second
	defaultListLimit        = 100
)

// Имена операций для метрик и логов.
const (
	opReserve          = "reserve"
	opCompleteBySeller = "complete_by_seller"
	opCompleteByBuyer  = "complete_by_buyer"
	opCancel           = "cancel"
	opRemove           = "remove_listing"
	opHide             = "hide_listing"
	opRestore          = "restore_listing"
)

// Option настраивает Coordinator.
type Option func(*Coordinator)

// WithLogger задаёт logger координатора.
func WithLogger(logger *log.Entry) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics включает метрики операций.
func WithMetrics(m *metrics.LifecycleMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithNotifier задаёт получателя уведомлений после фиксации изменений.
func WithNotifier(n domain.Notifier) Option {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithIDGenerator подменяет генератор идентификаторов сделок.
func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) {
		c.newID = newID
	}
}

// WithOperationTimeout ограничивает длительность одной операции над хранилищем.
func WithOperationTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

// Coordinator: единственное место, где меняются статусы объявления и сделки.
// Каждая операция выполняет обе записи в одной транзакции хранилища.
type Coordinator struct {
	store        domain.LifecycleStore
	transactions domain.TransactionRepository
	notifier     domain.Notifier
	logger       *log.Entry
	metrics      *metrics.LifecycleMetrics
	now          func() time.Time
	newID        func() string
	timeout      time.Duration
}

// NewCoordinator создаёт координатор жизненного цикла.
func NewCoordinator(store domain.LifecycleStore, transactions domain.TransactionRepository, options ...Option) *Coordinator {
	c := &Coordinator{
		store:        store,
		transactions: transactions,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
		timeout:      defaultOperationTimeout,
	}
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = log.WithField("component", "lifecycle")
	}
	if c.notifier == nil {
		c.notifier = NoopNotifier{}
	}
	if c.timeout <= 0 {
		c.timeout = defaultOperationTimeout
	}
	return c
}

// Reserve создаёт сделку и переводит объявление Available→Reserved.
func (c *Coordinator) Reserve(ctx context.Context, listingID string, buyer domain.Actor) (domain.Transaction, error) {
	start := c.begin()

	var (
		created domain.Transaction
		events  eventBatch
	)
	err := c.runInTx(ctx, func(ctx context.Context, tx domain.LifecycleTx) error {
		events = eventBatch{}

		listing, err := tx.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if listing.SellerID == buyer.ID {
			return domain.ErrSelfPurchase
		}
		if listing.Status != domain.ListingStatusAvailable {
			return domain.ErrListingNotAvailable
		}
		next, err := domain.NextListingStatus(listing.Status, domain.ListingOpReserve)
		if err != nil {
			return err
		}

		now := c.now()
		created = domain.Transaction{
			ID:              c.newID(),
			BuyerID:         buyer.ID,
			SellerID:        listing.SellerID,
			ListingID:       listing.ID,
			Amount:          listing.Price,
			Status:          domain.TransactionStatusReserved,
			PaymentStatus:   domain.PaymentStatusFor(domain.TransactionStatusReserved),
			ReservationDate: now,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertTransaction(ctx, created); err != nil {
			return err
		}
		if err := tx.SwapListingStatus(ctx, listing.ID, listing.Status, next, now); err != nil {
			return err
		}

		events.add(listingEvent(domain.EventListingReserved, listing.ID, buyer.ID, "", now, map[string]any{
			"transaction_id": created.ID,
			"buyer_id":       buyer.ID,
			"status":         string(next),
		}))
		events.add(transactionEvent(domain.EventTransactionReserved, created, buyer.ID, "", now))
		return events.write(ctx, tx)
	})
	c.finish(opReserve, start, err)
	if err != nil {
		if errors.Is(err, domain.ErrListingStatusChanged) || errors.Is(err, domain.ErrActiveTransactionExists) {
			err = domain.ErrListingNotAvailable
		}
		c.logFailure(err, opReserve, log.Fields{"listing_id": listingID, "actor_id": buyer.ID})
		return domain.Transaction{}, err
	}

	c.recordEvents(events)
	c.logger.WithFields(log.Fields{
		"listing_id":     created.ListingID,
		"transaction_id": created.ID,
		"actor_id":       buyer.ID,
	}).Info("listing reserved")

	c.notifier.Publish(created.SellerID, domain.EventListingReserved, domain.Notification{
		Type:    domain.NotificationTransaction,
		Event:   domain.EventListingReserved,
		Message: "Your listing has been reserved",
		Data:    transactionData(created),
	})
	return created, nil
}

// CompleteBySeller завершает сделку от имени продавца.
func (c *Coordinator) CompleteBySeller(ctx context.Context, transactionID string, actor domain.Actor) (domain.Transaction, error) {
	return c.complete(ctx, opCompleteBySeller, transactionID, actor, func(t domain.Transaction) error {
		if actor.ID != t.SellerID {
			return domain.ErrNotSeller
		}
		return nil
	})
}

// CompleteByBuyer завершает сделку от имени покупателя.
func (c *Coordinator) CompleteByBuyer(ctx context.Context, transactionID string, actor domain.Actor) (domain.Transaction, error) {
	return c.complete(ctx, opCompleteByBuyer, transactionID, actor, func(t domain.Transaction) error {
		if actor.ID != t.BuyerID {
			return domain.ErrNotBuyer
		}
		return nil
	})
}

// complete переводит сделку в Completed и объявление в Sold.
// Повтор на уже завершённой сделке возвращает сохранённую сделку без событий.
func (c *Coordinator) complete(
	ctx context.Context,
	op, transactionID string,
	actor domain.Actor,
	authorize func(domain.Transaction) error,
) (domain.Transaction, error) {
	start := c.begin()

	var (
		result   domain.Transaction
		replayed bool
		events   eventBatch
	)
	err := c.runInTx(ctx, func(ctx context.Context, tx domain.LifecycleTx) error {
		events = eventBatch{}
		replayed = false

		current, err := tx.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if err := authorize(current); err != nil {
			return err
		}
		if current.Status == domain.TransactionStatusCompleted {
			result = current
			replayed = true
			return nil
		}

		now := c.now()
		updated, err := current.Apply(domain.TransactionOpComplete, now, "")
		if err != nil {
			return err
		}
		listingNext, err := c.moveListing(ctx, tx, current.ListingID, domain.TransactionOpComplete, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateTransaction(ctx, updated, current.Status); err != nil {
			return err
		}

		result = updated
		events.add(transactionEvent(domain.EventTransactionCompleted, updated, actor.ID, "", now))
		events.add(listingEvent(domain.EventListingSold, updated.ListingID, actor.ID, "", now, map[string]any{
			"transaction_id": updated.ID,
			"status":         string(listingNext),
		}))
		return events.write(ctx, tx)
	})

	// Параллельный Complete мог выиграть гонку: тогда повтор считается успехом.
	if errors.Is(err, domain.ErrTransactionStatusChanged) || errors.Is(err, domain.ErrListingStatusChanged) {
		if stored, getErr := c.storedTransaction(ctx, transactionID); getErr == nil &&
			stored.Status == domain.TransactionStatusCompleted && authorize(stored) == nil {
			result, replayed, err = stored, true, nil
		}
	}

	fields := log.Fields{"transaction_id": transactionID, "actor_id": actor.ID}
	if err != nil {
		c.finish(op, start, err)
		c.logFailure(err, op, fields)
		return domain.Transaction{}, err
	}
	if replayed {
		c.finishWithResult(op, start, metrics.ResultDuplicate)
		c.logger.WithFields(fields).Debug("transaction already completed")
		return result, nil
	}

	c.finish(op, start, nil)
	c.recordEvents(events)
	c.logger.WithFields(fields).WithField("listing_id", result.ListingID).Info("transaction completed")

	notification := domain.Notification{
		Type:    domain.NotificationTransaction,
		Event:   domain.EventTransactionCompleted,
		Message: "Transaction completed",
		Data:    transactionData(result),
	}
	c.notifier.Publish(result.BuyerID, domain.EventTransactionCompleted, notification)
	c.notifier.Publish(result.SellerID, domain.EventTransactionCompleted, notification)
	return result, nil
}

// Cancel отменяет сделку и возвращает объявление в Available.
func (c *Coordinator) Cancel(ctx context.Context, transactionID string, actor domain.Actor, reason string) (domain.Transaction, error) {
	start := c.begin()

	var (
		result domain.Transaction
		events eventBatch
	)
	err := c.runInTx(ctx, func(ctx context.Context, tx domain.LifecycleTx) error {
		events = eventBatch{}

		current, err := tx.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if !current.Party(actor.ID) {
			return domain.ErrNotTransactionParty
		}

		now := c.now()
		updated, err := current.Apply(domain.TransactionOpCancel, now, reason)
		if err != nil {
			return err
		}
		listingNext, err := c.moveListing(ctx, tx, current.ListingID, domain.TransactionOpCancel, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateTransaction(ctx, updated, current.Status); err != nil {
			return err
		}

		result = updated
		events.add(transactionEvent(domain.EventTransactionCancelled, updated, actor.ID, updated.CancellationReason, now))
		events.add(listingEvent(domain.EventListingReleased, updated.ListingID, actor.ID, updated.CancellationReason, now, map[string]any{
			"transaction_id": updated.ID,
			"status":         string(listingNext),
		}))
		return events.write(ctx, tx)
	})
	c.finish(opCancel, start, err)

	fields := log.Fields{"transaction_id": transactionID, "actor_id": actor.ID}
	if err != nil {
		c.logFailure(err, opCancel, fields)
		return domain.Transaction{}, err
	}

	c.recordEvents(events)
	c.logger.WithFields(fields).WithField("reason", result.CancellationReason).Info("transaction cancelled")

	c.notifier.Publish(result.Counterparty(actor.ID), domain.EventTransactionCancelled, domain.Notification{
		Type:    domain.NotificationTransaction,
		Event:   domain.EventTransactionCancelled,
		Message: "Transaction cancelled: " + result.CancellationReason,
		Data:    transactionData(result),
	})
	return result, nil
}

// HasActiveTransaction сообщает, держит ли объявление незавершённая сделка.
func (c *Coordinator) HasActiveTransaction(ctx context.Context, listingID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.transactions.HasActive(ctx, listingID)
}

// RemoveListing снимает объявление продавцом. Разрешено только для
// Available-объявления без активной сделки.
func (c *Coordinator) RemoveListing(ctx context.Context, listingID string, actor domain.Actor) (domain.Listing, error) {
	return c.moderateListing(ctx, opRemove, listingID, actor, domain.ListingOpRemove, domain.EventListingRemoved,
		func(listing domain.Listing) error {
			if listing.SellerID != actor.ID {
				return domain.ErrNotSeller
			}
			if listing.Status != domain.ListingStatusAvailable {
				return domain.ErrListingLocked
			}
			return nil
		})
}

// HideListing скрывает доступное объявление. Только для модератора.
func (c *Coordinator) HideListing(ctx context.Context, listingID string, actor domain.Actor) (domain.Listing, error) {
	return c.moderateListing(ctx, opHide, listingID, actor, domain.ListingOpHide, domain.EventListingHidden, requireAdmin(actor))
}

// RestoreListing возвращает скрытое объявление в Available. Только для модератора.
func (c *Coordinator) RestoreListing(ctx context.Context, listingID string, actor domain.Actor) (domain.Listing, error) {
	return c.moderateListing(ctx, opRestore, listingID, actor, domain.ListingOpRestore, domain.EventListingRestored, requireAdmin(actor))
}

func requireAdmin(actor domain.Actor) func(domain.Listing) error {
	return func(domain.Listing) error {
		if !actor.IsAdmin() {
			return domain.ErrAdminRequired
		}
		return nil
	}
}

// moderateListing меняет статус объявления без участия сделки.
// Объявление с активной сделкой не трогается.
func (c *Coordinator) moderateListing(
	ctx context.Context,
	op, listingID string,
	actor domain.Actor,
	listingOp domain.ListingOp,
	eventType string,
	authorize func(domain.Listing) error,
) (domain.Listing, error) {
	start := c.begin()

	var (
		result domain.Listing
		events eventBatch
	)
	err := c.runInTx(ctx, func(ctx context.Context, tx domain.LifecycleTx) error {
		events = eventBatch{}

		listing, err := tx.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if err := authorize(listing); err != nil {
			return err
		}
		if _, err := tx.FindActiveTransaction(ctx, listingID); err == nil {
			return domain.ErrListingLocked
		} else if !errors.Is(err, domain.ErrTransactionNotFound) {
			return err
		}

		next, err := domain.NextListingStatus(listing.Status, listingOp)
		if err != nil {
			return err
		}
		now := c.now()
		if err := tx.SwapListingStatus(ctx, listing.ID, listing.Status, next, now); err != nil {
			return err
		}

		result = listing
		result.Status = next
		result.UpdatedAt = now
		events.add(listingEvent(eventType, listing.ID, actor.ID, "", now, map[string]any{
			"previous_status": string(listing.Status),
			"status":          string(next),
		}))
		return events.write(ctx, tx)
	})
	c.finish(op, start, err)

	fields := log.Fields{"listing_id": listingID, "actor_id": actor.ID}
	if err != nil {
		c.logFailure(err, op, fields)
		return domain.Listing{}, err
	}

	c.recordEvents(events)
	c.logger.WithFields(fields).WithField("status", result.Status).Info("listing status changed")
	return result, nil
}

// GetTransaction возвращает сделку участнику или модератору.
func (c *Coordinator) GetTransaction(ctx context.Context, transactionID string, actor domain.Actor) (domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tx, err := c.transactions.Get(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !tx.Party(actor.ID) && !actor.IsAdmin() {
		return domain.Transaction{}, domain.ErrNotTransactionParty
	}
	return tx, nil
}

// ListForUser возвращает сделки актора, новые первыми.
func (c *Coordinator) ListForUser(ctx context.Context, actor domain.Actor, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.transactions.ListByUser(ctx, actor.ID, limit)
}

// moveListing применяет к объявлению операцию, парную операции над сделкой.
func (c *Coordinator) moveListing(ctx context.Context, tx domain.LifecycleTx, listingID string, op domain.TransactionOp, at time.Time) (domain.ListingStatus, error) {
	listingOp, ok := domain.ListingOpFor(op)
	if !ok {
		return "", domain.ErrIllegalTransition
	}
	listing, err := tx.GetListing(ctx, listingID)
	if err != nil {
		return "", err
	}
	next, err := domain.NextListingStatus(listing.Status, listingOp)
	if err != nil {
		return "", err
	}
	if err := tx.SwapListingStatus(ctx, listing.ID, listing.Status, next, at); err != nil {
		return "", err
	}
	return next, nil
}

func (c *Coordinator) runInTx(ctx context.Context, fn func(ctx context.Context, tx domain.LifecycleTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.store.RunInTx(ctx, fn)
}

func (c *Coordinator) storedTransaction(ctx context.Context, transactionID string) (domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.transactions.Get(ctx, transactionID)
}

func (c *Coordinator) begin() time.Time {
	if c.metrics != nil {
		c.metrics.OperationStarted()
	}
	return time.Now()
}

func (c *Coordinator) finish(op string, start time.Time, err error) {
	c.finishWithResult(op, start, metrics.ResultFor(err))
}

func (c *Coordinator) finishWithResult(op string, start time.Time, result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.OperationFinished()
	c.metrics.ObserveOperation(op, result, time.Since(start))
}

func (c *Coordinator) recordEvents(events eventBatch) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordOutboxEvents(len(events))
	c.metrics.RecordTimelineEvents(len(events))
}

// logFailure пишет отказы бизнес-правил в Debug, а сбои инфраструктуры в Error.
func (c *Coordinator) logFailure(err error, op string, fields log.Fields) {
	entry := c.logger.WithError(err).WithFields(fields).WithField("operation", op)
	if domain.KindOf(err) != nil {
		entry.Debug("lifecycle operation rejected")
		return
	}
	entry.Error("lifecycle operation failed")
}

func transactionData(t domain.Transaction) map[string]any {
	return map[string]any{
		"transactionId": t.ID,
		"listingId":     t.ListingID,
		"buyerId":       t.BuyerID,
		"sellerId":      t.SellerID,
		"status":        string(t.Status),
		"amount":        t.Amount.String(),
	}
}
