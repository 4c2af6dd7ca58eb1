// Package mongodb: реализация хранилища поверх MongoDB (replica set нужен для транзакций).
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

const (
	defaultConnTimeout = 10 * time.Second
	opTimeout          = 5 * time.Second

	collListings     = "listings"
	collTransactions = "transactions"
	collReviews      = "reviews"
	collUsers        = "users"
	collOutbox       = "outbox_messages"
	collTimeline     = "timeline_events"
	collIdempotency  = "idempotency_keys"

	indexOneActivePerListing = "transactions_one_active_per_listing"
	indexReviewPerReviewer   = "reviews_reviewer_transaction_key"
)

var errStoreNotInitialized = errors.New("mongodb store is not initialized")

// Store держит клиента и базу; репозитории разделяют одно подключение.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open подключается к MongoDB, проверяет ping и создаёт индексы.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	store := &Store{client: client, db: client.Database(database)}
	if err := store.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

// EnsureIndexes создаёт индексы, на которых держатся инварианты уникальности.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	specs := map[string][]mongo.IndexModel{
		collTransactions: {
			{
				Keys: bson.D{{Key: "listing_id", Value: 1}},
				Options: options.Index().
					SetName(indexOneActivePerListing).
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"active": true}),
			},
			{Keys: bson.D{{Key: "buyer_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "seller_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		collReviews: {
			{
				Keys:    bson.D{{Key: "reviewer_id", Value: 1}, {Key: "transaction_id", Value: 1}},
				Options: options.Index().SetName(indexReviewPerReviewer).SetUnique(true),
			},
			{Keys: bson.D{{Key: "reviewed_user_id", Value: 1}}},
			{Keys: bson.D{{Key: "listing_id", Value: 1}}},
		},
		collListings: {
			{Keys: bson.D{{Key: "seller_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		collOutbox: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		collTimeline: {
			{Keys: bson.D{{Key: "aggregate_type", Value: 1}, {Key: "aggregate_id", Value: 1}, {Key: "occurred", Value: 1}}},
		},
		collIdempotency: {
			{Keys: bson.D{{Key: "ttl_at", Value: 1}}},
		},
	}

	for coll, models := range specs {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes for %s: %w", coll, err)
		}
	}
	return nil
}

// Ping проверяет доступность primary.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errStoreNotInitialized
	}
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.client.Ping(pingCtx, readpref.Primary())
}

// Close отключает клиента.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// RunInTx выполняет fn в транзакции сессии. Драйвер повторяет fn при
// TransientTransactionError (например, write conflict при гонке резервов),
// поэтому fn не должна иметь побочных эффектов вне tx.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.LifecycleTx) error) error {
	if s == nil || s.client == nil {
		return errStoreNotInitialized
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start mongodb session: %w", err)
	}
	defer session.EndSession(context.Background())

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		return nil, fn(sessCtx, &lifecycleTx{db: s.db})
	})
	return translateWriteError(err)
}

func (s *Store) Listings() domain.ListingRepository { return &listingRepository{db: s.db} }

func (s *Store) Transactions() domain.TransactionRepository { return &transactionRepository{db: s.db} }

func (s *Store) Reviews() domain.ReviewRepository { return &reviewRepository{db: s.db} }

func (s *Store) Users() domain.UserRepository { return &userRepository{db: s.db} }

func (s *Store) Outbox() domain.OutboxRepository { return &outboxRepository{db: s.db} }

func (s *Store) Timeline() domain.TimelineRepository { return &timelineRepository{db: s.db} }

func (s *Store) Idempotency() domain.IdempotencyRepository { return &idempotencyRepository{db: s.db} }

// translateWriteError переводит нарушения уникальных индексов в доменные ошибки.
func translateWriteError(err error) error {
	if err == nil || !mongo.IsDuplicateKeyError(err) {
		return err
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if containsIndex(e.Message, indexReviewPerReviewer) {
				return domain.ErrDuplicateReview
			}
			if containsIndex(e.Message, indexOneActivePerListing) {
				return domain.ErrActiveTransactionExists
			}
		}
	}
	return err
}

var _ domain.LifecycleStore = (*Store)(nil)
