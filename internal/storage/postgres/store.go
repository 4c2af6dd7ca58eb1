package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	opTimeout = 5 * time.Second
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// Store оборачивает пул подключений к PostgreSQL и раздаёт репозитории.
type Store struct {
	db *sqlx.DB
}

// Open открывает подключение к PostgreSQL через драйвер pgx и проверяет доступность базы.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// DB возвращает пул, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RunInTx выполняет fn в одной SQL-транзакции. Любая ошибка fn или commit
// откатывает все записи: объявление, сделку, outbox и историю.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.LifecycleTx) error) (err error) {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin lifecycle tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, &lifecycleTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit lifecycle tx: %w", translateConstraintError(err))
	}
	return nil
}

// Listings возвращает репозиторий объявлений.
func (s *Store) Listings() domain.ListingRepository { return &listingRepository{db: s.db} }

// Transactions возвращает репозиторий чтения сделок.
func (s *Store) Transactions() domain.TransactionRepository { return &transactionRepository{db: s.db} }

// Reviews возвращает репозиторий отзывов.
func (s *Store) Reviews() domain.ReviewRepository { return &reviewRepository{db: s.db} }

// Users возвращает репозиторий рейтингов.
func (s *Store) Users() domain.UserRepository { return &userRepository{db: s.db} }

// Outbox возвращает репозиторий transactional outbox.
func (s *Store) Outbox() domain.OutboxRepository { return &outboxRepository{db: s.db} }

// Timeline возвращает репозиторий истории.
func (s *Store) Timeline() domain.TimelineRepository { return &timelineRepository{db: s.db} }

// Idempotency возвращает репозиторий idempotency-ключей.
func (s *Store) Idempotency() domain.IdempotencyRepository { return &idempotencyRepository{db: s.db} }

var _ domain.LifecycleStore = (*Store)(nil)
