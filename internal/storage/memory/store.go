package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

// Store: in-memory хранилище для локальной разработки и тестов.
// Все репозитории разделяют один мьютекс, поэтому RunInTx видит согласованное
// состояние объявлений, сделок, outbox и истории.
type Store struct {
	mu           sync.RWMutex
	listings     map[string]domain.Listing
	transactions map[string]domain.Transaction
	reviews      map[string]domain.Review
	users        map[string]domain.User
	outbox       map[string]*outboxRecord
	outboxSeq    int64
	timeline     map[string][]domain.TimelineEvent
	idempotency  map[string]domain.IdempotencyRecord
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		listings:     make(map[string]domain.Listing),
		transactions: make(map[string]domain.Transaction),
		reviews:      make(map[string]domain.Review),
		users:        make(map[string]domain.User),
		outbox:       make(map[string]*outboxRecord),
		timeline:     make(map[string][]domain.TimelineEvent),
		idempotency:  make(map[string]domain.IdempotencyRecord),
	}
}

// RunInTx выполняет fn под эксклюзивной блокировкой. Записи копятся
// в промежуточном слое и применяются, только если fn вернула nil.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.LifecycleTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newLifecycleTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Ping всегда успешен; нужен для health checker.
func (s *Store) Ping(context.Context) error { return nil }

// Close ничего не освобождает.
func (s *Store) Close() error { return nil }

// Listings возвращает репозиторий объявлений.
func (s *Store) Listings() domain.ListingRepository { return &listingRepository{s: s} }

// Transactions возвращает репозиторий чтения сделок.
func (s *Store) Transactions() domain.TransactionRepository { return &transactionRepository{s: s} }

// Reviews возвращает репозиторий отзывов.
func (s *Store) Reviews() domain.ReviewRepository { return &reviewRepository{s: s} }

// Users возвращает репозиторий рейтингов.
func (s *Store) Users() domain.UserRepository { return &userRepository{s: s} }

// Outbox возвращает репозиторий transactional outbox.
func (s *Store) Outbox() *OutboxRepository { return &OutboxRepository{s: s} }

// Timeline возвращает репозиторий истории.
func (s *Store) Timeline() domain.TimelineRepository { return &timelineRepository{s: s} }

// Idempotency возвращает репозиторий idempotency-ключей.
func (s *Store) Idempotency() domain.IdempotencyRepository { return &idempotencyRepository{s: s} }

func (s *Store) activeTransactionLocked(listingID string) (domain.Transaction, bool) {
	for _, tx := range s.transactions {
		if tx.ListingID == listingID && tx.Status.Active() {
			return tx, true
		}
	}
	return domain.Transaction{}, false
}

var _ domain.LifecycleStore = (*Store)(nil)

// PutListing записывает объявление как есть, минуя проверки (используется в тестах).
func (s *Store) PutListing(listing domain.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[listing.ID] = listing
}

// PutTransaction записывает сделку как есть (используется в тестах).
func (s *Store) PutTransaction(tx domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = tx
}
