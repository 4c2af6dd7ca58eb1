package domain

import "time"

// Типы агрегатов для outbox и истории.
const (
	AggregateListing     = "listing"
	AggregateTransaction = "transaction"
	AggregateReview      = "review"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
