package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

const defaultListLimit = 100

type listingRepository struct {
	db *mongo.Database
}

func (r *listingRepository) Create(ctx context.Context, listing domain.Listing) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	doc, err := listingToDoc(listing)
	if err != nil {
		return err
	}
	if _, err := r.db.Collection(collListings).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrListingAlreadyExists
		}
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (r *listingRepository) Get(ctx context.Context, id string) (domain.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return findListing(ctx, r.db, id)
}

// UpdateDetails отказывает, если объявление не Available или по нему есть активная сделка.
func (r *listingRepository) UpdateDetails(ctx context.Context, listing domain.Listing) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	active, err := r.db.Collection(collTransactions).CountDocuments(ctx, bson.M{"listing_id": listing.ID, "active": true})
	if err != nil {
		return fmt.Errorf("check active transaction: %w", err)
	}
	if active > 0 {
		if _, err := findListing(ctx, r.db, listing.ID); err != nil {
			return err
		}
		return domain.ErrListingLocked
	}

	price, err := toDecimal128(listing.Price)
	if err != nil {
		return err
	}
	res, err := r.db.Collection(collListings).UpdateOne(ctx,
		bson.M{"_id": listing.ID, "status": string(domain.ListingStatusAvailable)},
		bson.M{"$set": bson.M{
			"title":       listing.Title,
			"description": listing.Description,
			"category":    listing.Category,
			"price":       price,
			"updated_at":  listing.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := findListing(ctx, r.db, listing.ID); err != nil {
			return err
		}
		return domain.ErrListingLocked
	}
	return nil
}

func (r *listingRepository) ListBySeller(ctx context.Context, sellerID string, limit int) ([]domain.Listing, error) {
	return r.find(ctx, bson.M{"seller_id": sellerID}, limit, bson.D{{Key: "created_at", Value: -1}})
}

func (r *listingRepository) ListOrphanedReservations(ctx context.Context, limit int) ([]domain.Listing, error) {
	reserved, err := r.find(ctx, bson.M{"status": string(domain.ListingStatusReserved)}, 0, bson.D{{Key: "updated_at", Value: 1}})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultListLimit
	}
	result := make([]domain.Listing, 0)
	for _, listing := range reserved {
		active, err := r.db.Collection(collTransactions).CountDocuments(ctx, bson.M{"listing_id": listing.ID, "active": true})
		if err != nil {
			return nil, fmt.Errorf("check active transaction: %w", err)
		}
		if active > 0 {
			continue
		}
		result = append(result, listing)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (r *listingRepository) find(ctx context.Context, filter bson.M, limit int, sort bson.D) ([]domain.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.Find().SetSort(sort)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.db.Collection(collListings).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find listings: %w", err)
	}
	var docs []listingDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode listings: %w", err)
	}

	result := make([]domain.Listing, 0, len(docs))
	for _, doc := range docs {
		listing, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, listing)
	}
	return result, nil
}

type transactionRepository struct {
	db *mongo.Database
}

func (r *transactionRepository) Get(ctx context.Context, id string) (domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return findTransaction(ctx, r.db, bson.M{"_id": id})
}

func (r *transactionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultListLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := r.db.Collection(collTransactions).Find(ctx,
		bson.M{"$or": bson.A{bson.M{"buyer_id": userID}, bson.M{"seller_id": userID}}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find transactions: %w", err)
	}
	var docs []transactionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}

	result := make([]domain.Transaction, 0, len(docs))
	for _, doc := range docs {
		tx, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, nil
}

func (r *transactionRepository) HasActive(ctx context.Context, listingID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := r.db.Collection(collTransactions).CountDocuments(ctx, bson.M{"listing_id": listingID, "active": true})
	if err != nil {
		return false, fmt.Errorf("check active transaction: %w", err)
	}
	return n > 0, nil
}

type reviewRepository struct {
	db *mongo.Database
}

func (r *reviewRepository) Create(ctx context.Context, review domain.Review) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.Collection(collReviews).InsertOne(ctx, reviewToDoc(review)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateReview
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (r *reviewRepository) Get(ctx context.Context, id string) (domain.Review, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc reviewDoc
	if err := r.db.Collection(collReviews).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Review{}, domain.ErrReviewNotFound
		}
		return domain.Review{}, fmt.Errorf("get review: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *reviewRepository) Update(ctx context.Context, review domain.Review) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.Collection(collReviews).UpdateOne(ctx, bson.M{"_id": review.ID}, bson.M{"$set": bson.M{
		"rating":     review.Rating,
		"comment":    review.Comment,
		"updated_at": review.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrReviewNotFound
	}
	return nil
}

func (r *reviewRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.Collection(collReviews).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrReviewNotFound
	}
	return nil
}

func (r *reviewRepository) ListByReviewedUser(ctx context.Context, userID string) ([]domain.Review, error) {
	return r.find(ctx, bson.M{"reviewed_user_id": userID})
}

func (r *reviewRepository) ListByListing(ctx context.Context, listingID string) ([]domain.Review, error) {
	return r.find(ctx, bson.M{"listing_id": listingID})
}

func (r *reviewRepository) find(ctx context.Context, filter bson.M) ([]domain.Review, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cursor, err := r.db.Collection(collReviews).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("find reviews: %w", err)
	}
	var docs []reviewDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode reviews: %w", err)
	}
	result := make([]domain.Review, 0, len(docs))
	for _, doc := range docs {
		result = append(result, doc.toDomain())
	}
	return result, nil
}

type userRepository struct {
	db *mongo.Database
}

func (r *userRepository) Get(ctx context.Context, id string) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc userDoc
	if err := r.db.Collection(collUsers).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return domain.User{
		ID:           doc.ID,
		Name:         doc.Name,
		Role:         domain.Role(doc.Role),
		Rating:       doc.Rating,
		TotalReviews: doc.TotalReviews,
		UpdatedAt:    doc.UpdatedAt.UTC(),
	}, nil
}

func (r *userRepository) SaveRating(ctx context.Context, summary domain.RatingSummary, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.Collection(collUsers).UpdateOne(ctx,
		bson.M{"_id": summary.UserID},
		bson.M{
			"$set": bson.M{
				"rating":        summary.Rating,
				"total_reviews": summary.TotalReviews,
				"updated_at":    at,
			},
			"$setOnInsert": bson.M{"role": string(domain.RoleUser), "name": ""},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save user rating: %w", err)
	}
	return nil
}

type outboxRepository struct {
	db *mongo.Database
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return insertOutbox(ctx, r.db, msg)
}

func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultListLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cursor, err := r.db.Collection(collOutbox).Find(ctx, bson.M{"status": "pending"}, opts)
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", err)
	}
	var docs []outboxDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode outbox messages: %w", err)
	}

	result := make([]domain.OutboxMessage, 0, len(docs))
	for _, doc := range docs {
		result = append(result, domain.OutboxMessage{
			ID:            doc.ID,
			AggregateType: doc.AggregateType,
			AggregateID:   doc.AggregateID,
			EventType:     doc.EventType,
			Payload:       doc.Payload,
			CreatedAt:     doc.CreatedAt.UTC(),
		})
	}
	return result, nil
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	coll := r.db.Collection(collOutbox)
	count, err := coll.CountDocuments(ctx, bson.M{"status": "pending"})
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("count pending outbox: %w", err)
	}
	stats := domain.OutboxStats{PendingCount: int(count)}
	if count == 0 {
		return stats, nil
	}

	var oldest outboxDoc
	err = coll.FindOne(ctx, bson.M{"status": "pending"}, options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})).Decode(&oldest)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return domain.OutboxStats{}, fmt.Errorf("find oldest pending outbox: %w", err)
	}
	stats.OldestPendingAt = oldest.CreatedAt.UTC()
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, "sent")
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, "failed")
}

func (r *outboxRepository) markStatus(ctx context.Context, id, status string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.Collection(collOutbox).UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"status": status, "updated_at": time.Now().UTC()},
		"$inc": bson.M{"attempt_count": 1},
	})
	if err != nil {
		return fmt.Errorf("mark outbox message as %s: %w", status, err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrOutboxPublish
	}
	return nil
}

func insertOutbox(ctx context.Context, db *mongo.Database, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	doc := outboxDoc{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       msg.Payload,
		Status:        "pending",
		CreatedAt:     msg.CreatedAt,
		UpdatedAt:     now,
	}
	if _, err := db.Collection(collOutbox).InsertOne(ctx, doc); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", err)
	}
	return msg, nil
}

type timelineRepository struct {
	db *mongo.Database
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return insertTimeline(ctx, r.db, event)
}

func (r *timelineRepository) List(ctx context.Context, aggregateType, aggregateID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cursor, err := r.db.Collection(collTimeline).Find(ctx,
		bson.M{"aggregate_type": aggregateType, "aggregate_id": aggregateID},
		options.Find().SetSort(bson.D{{Key: "occurred", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	var docs []timelineDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode timeline events: %w", err)
	}

	events := make([]domain.TimelineEvent, 0, len(docs))
	for _, doc := range docs {
		events = append(events, domain.TimelineEvent{
			AggregateType: doc.AggregateType,
			AggregateID:   doc.AggregateID,
			Type:          doc.Type,
			ActorID:       doc.ActorID,
			Reason:        doc.Reason,
			Occurred:      doc.Occurred.UTC(),
		})
	}
	return events, nil
}

func insertTimeline(ctx context.Context, db *mongo.Database, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}
	doc := timelineDoc{
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Type:          event.Type,
		ActorID:       event.ActorID,
		Reason:        event.Reason,
		Occurred:      event.Occurred,
	}
	if _, err := db.Collection(collTimeline).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("append timeline event: %w", err)
	}
	return nil
}

type idempotencyRepository struct {
	db *mongo.Database
}

// CreateProcessing захватывает ключ upsert-ом: существующая живая запись не трогается.
func (r *idempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	coll := r.db.Collection(collIdempotency)
	doc := idempotencyDoc{
		Key:         key,
		RequestHash: requestHash,
		Status:      string(domain.IdempotencyStatusProcessing),
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Просроченную запись заменяем целиком. При живой фильтр не совпадёт,
	// upsert попытается вставить дубль _id и вернёт duplicate key.
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": key, "ttl_at": bson.M{"$lte": now}}, doc, options.Replace().SetUpsert(true))
	if err == nil {
		return idempotencyFromDoc(doc), nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}

	existing, getErr := r.Get(ctx, key)
	if getErr != nil {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc idempotencyDoc
	if err := r.db.Collection(collIdempotency).FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}
	return idempotencyFromDoc(doc), nil
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	coll := r.db.Collection(collIdempotency)
	filter := bson.M{"ttl_at": bson.M{"$lte": before}}
	if limit > 0 {
		cursor, err := coll.Find(ctx, filter, options.Find().
			SetSort(bson.D{{Key: "ttl_at", Value: 1}}).
			SetLimit(int64(limit)).
			SetProjection(bson.M{"_id": 1}))
		if err != nil {
			return 0, fmt.Errorf("find expired idempotency records: %w", err)
		}
		var ids []struct {
			Key string `bson:"_id"`
		}
		if err := cursor.All(ctx, &ids); err != nil {
			return 0, fmt.Errorf("decode expired idempotency records: %w", err)
		}
		keys := make(bson.A, 0, len(ids))
		for _, id := range ids {
			keys = append(keys, id.Key)
		}
		filter = bson.M{"_id": bson.M{"$in": keys}}
	}

	res, err := coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (r *idempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.Collection(collIdempotency).UpdateOne(ctx, bson.M{"_id": key}, bson.M{"$set": bson.M{
		"response_body": responseBody,
		"http_status":   httpStatus,
		"status":        string(status),
		"updated_at":    time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("mark idempotency key status: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func idempotencyFromDoc(doc idempotencyDoc) domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          doc.Key,
		RequestHash:  doc.RequestHash,
		ResponseBody: append([]byte(nil), doc.ResponseBody...),
		HTTPStatus:   doc.HTTPStatus,
		Status:       domain.IdempotencyStatus(doc.Status),
		TTLAt:        doc.TTLAt.UTC(),
		CreatedAt:    doc.CreatedAt.UTC(),
		UpdatedAt:    doc.UpdatedAt.UTC(),
	}
}

var (
	_ domain.ListingRepository     = (*listingRepository)(nil)
	_ domain.TransactionRepository = (*transactionRepository)(nil)
	_ domain.ReviewRepository      = (*reviewRepository)(nil)
	_ domain.UserRepository        = (*userRepository)(nil)
	_ domain.OutboxRepository      = (*outboxRepository)(nil)
	_ domain.TimelineRepository    = (*timelineRepository)(nil)
	_ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
)
