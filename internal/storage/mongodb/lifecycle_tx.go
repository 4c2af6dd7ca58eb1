package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

// lifecycleTx работает в mongo.SessionContext, который RunInTx передаёт в fn.
// Все вызовы должны получать именно этот ctx, иначе запись уйдёт мимо транзакции.
type lifecycleTx struct {
	db *mongo.Database
}

func (t *lifecycleTx) GetListing(ctx context.Context, id string) (domain.Listing, error) {
	return findListing(ctx, t.db, id)
}

func (t *lifecycleTx) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	return findTransaction(ctx, t.db, bson.M{"_id": id})
}

func (t *lifecycleTx) FindActiveTransaction(ctx context.Context, listingID string) (domain.Transaction, error) {
	return findTransaction(ctx, t.db, bson.M{"listing_id": listingID, "active": true})
}

func (t *lifecycleTx) LatestTransaction(ctx context.Context, listingID string) (domain.Transaction, error) {
	var doc transactionDoc
	err := t.db.Collection(collTransactions).FindOne(ctx,
		bson.M{"listing_id": listingID},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Transaction{}, domain.ErrTransactionNotFound
		}
		return domain.Transaction{}, fmt.Errorf("latest transaction: %w", err)
	}
	return doc.toDomain()
}

func (t *lifecycleTx) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	doc, err := transactionToDoc(tx)
	if err != nil {
		return err
	}
	if _, err := t.db.Collection(collTransactions).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrActiveTransactionExists
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (t *lifecycleTx) SwapListingStatus(ctx context.Context, listingID string, from, to domain.ListingStatus, at time.Time) error {
	res, err := t.db.Collection(collListings).UpdateOne(ctx,
		bson.M{"_id": listingID, "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to), "updated_at": at}},
	)
	if err != nil {
		return fmt.Errorf("swap listing status: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := findListing(ctx, t.db, listingID); err != nil {
			return err
		}
		return domain.ErrListingStatusChanged
	}
	return nil
}

func (t *lifecycleTx) UpdateTransaction(ctx context.Context, tx domain.Transaction, expected domain.TransactionStatus) error {
	res, err := t.db.Collection(collTransactions).UpdateOne(ctx,
		bson.M{"_id": tx.ID, "status": string(expected)},
		bson.M{"$set": bson.M{
			"status":              string(tx.Status),
			"active":              tx.Status.Active(),
			"payment_status":      string(tx.PaymentStatus),
			"completion_date":     tx.CompletionDate,
			"cancellation_date":   tx.CancellationDate,
			"cancellation_reason": tx.CancellationReason,
			"updated_at":          tx.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := findTransaction(ctx, t.db, bson.M{"_id": tx.ID}); err != nil {
			return err
		}
		return domain.ErrTransactionStatusChanged
	}
	return nil
}

func (t *lifecycleTx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	_, err := insertOutbox(ctx, t.db, msg)
	return err
}

func (t *lifecycleTx) AppendTimeline(ctx context.Context, event domain.TimelineEvent) error {
	return insertTimeline(ctx, t.db, event)
}

func findListing(ctx context.Context, db *mongo.Database, id string) (domain.Listing, error) {
	var doc listingDoc
	if err := db.Collection(collListings).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Listing{}, domain.ErrListingNotFound
		}
		return domain.Listing{}, fmt.Errorf("get listing: %w", err)
	}
	return doc.toDomain()
}

func findTransaction(ctx context.Context, db *mongo.Database, filter bson.M) (domain.Transaction, error) {
	var doc transactionDoc
	if err := db.Collection(collTransactions).FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Transaction{}, domain.ErrTransactionNotFound
		}
		return domain.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return doc.toDomain()
}

var _ domain.LifecycleTx = (*lifecycleTx)(nil)
