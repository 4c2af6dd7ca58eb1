package domain

import (
	"context"
	"time"
)

// LifecycleTx: набор операций, выполняемых атомарно внутри одной транзакции хранилища.
// Все изменения статусов объявлений и сделок проходят только через него.
type LifecycleTx interface {
	GetListing(ctx context.Context, id string) (Listing, error)
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	// FindActiveTransaction возвращает сделку в Initiated/Reserved или ErrTransactionNotFound.
	FindActiveTransaction(ctx context.Context, listingID string) (Transaction, error)
	// LatestTransaction возвращает последнюю по CreatedAt сделку объявления или ErrTransactionNotFound.
	LatestTransaction(ctx context.Context, listingID string) (Transaction, error)
	// InsertTransaction создаёт сделку; вторая активная сделка по объявлению даёт ErrActiveTransactionExists.
	InsertTransaction(ctx context.Context, tx Transaction) error
	// SwapListingStatus меняет статус только если текущий равен from, иначе ErrListingStatusChanged.
	SwapListingStatus(ctx context.Context, listingID string, from, to ListingStatus, at time.Time) error
	// UpdateTransaction сохраняет сделку только если её статус всё ещё expected.
	UpdateTransaction(ctx context.Context, tx Transaction, expected TransactionStatus) error
	EnqueueOutbox(ctx context.Context, msg OutboxMessage) error
	AppendTimeline(ctx context.Context, event TimelineEvent) error
}

// LifecycleStore выполняет fn в транзакции: либо применяются все записи, либо ни одной.
type LifecycleStore interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx LifecycleTx) error) error
}

// ListingRepository описывает требования к хранилищу объявлений.
// Статус через него меняется только при создании.
type ListingRepository interface {
	// Create сохраняет новое объявление в статусе Available.
	Create(ctx context.Context, listing Listing) error
	// Get возвращает объявление или ErrListingNotFound.
	Get(ctx context.Context, id string) (Listing, error)
	// UpdateDetails меняет описательные поля, только пока объявление Available, иначе ErrListingLocked.
	UpdateDetails(ctx context.Context, listing Listing) error
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]Listing, error)
	// ListOrphanedReservations находит Reserved-объявления без активной сделки.
	ListOrphanedReservations(ctx context.Context, limit int) ([]Listing, error)
}

// TransactionRepository: чтение сделок вне транзакции жизненного цикла.
type TransactionRepository interface {
	Get(ctx context.Context, id string) (Transaction, error)
	// ListByUser возвращает сделки, где пользователь покупатель или продавец, новые первыми.
	ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error)
	HasActive(ctx context.Context, listingID string) (bool, error)
}

// ReviewRepository описывает хранилище отзывов.
type ReviewRepository interface {
	// Create возвращает ErrDuplicateReview при нарушении уникальности (reviewer, transaction).
	Create(ctx context.Context, review Review) error
	Get(ctx context.Context, id string) (Review, error)
	Update(ctx context.Context, review Review) error
	Delete(ctx context.Context, id string) error
	ListByReviewedUser(ctx context.Context, userID string) ([]Review, error)
	ListByListing(ctx context.Context, listingID string) ([]Review, error)
}

// UserRepository хранит производный рейтинг пользователей.
type UserRepository interface {
	Get(ctx context.Context, id string) (User, error)
	// SaveRating создаёт или обновляет рейтинг пользователя.
	SaveRating(ctx context.Context, summary RatingSummary, at time.Time) error
}

// Notifier: внешний примитив "опубликовать событие пользователю".
// Доставка at-most-once, ошибки не возвращаются.
type Notifier interface {
	Publish(userID, eventType string, payload any)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит историю объявлений и сделок.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, aggregateType, aggregateID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
