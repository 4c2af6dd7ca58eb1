package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

// lifecycleTx копит изменения поверх Store. Вызывается только под s.mu.
type lifecycleTx struct {
	s            *Store
	listings     map[string]domain.Listing
	transactions map[string]domain.Transaction
	outbox       []domain.OutboxMessage
	timeline     []domain.TimelineEvent
}

func newLifecycleTx(s *Store) *lifecycleTx {
	return &lifecycleTx{
		s:            s,
		listings:     make(map[string]domain.Listing),
		transactions: make(map[string]domain.Transaction),
	}
}

func (t *lifecycleTx) GetListing(_ context.Context, id string) (domain.Listing, error) {
	if listing, ok := t.listings[id]; ok {
		return listing, nil
	}
	listing, ok := t.s.listings[id]
	if !ok {
		return domain.Listing{}, domain.ErrListingNotFound
	}
	return listing, nil
}

func (t *lifecycleTx) GetTransaction(_ context.Context, id string) (domain.Transaction, error) {
	if tx, ok := t.transactions[id]; ok {
		return tx, nil
	}
	tx, ok := t.s.transactions[id]
	if !ok {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}
	return tx, nil
}

func (t *lifecycleTx) FindActiveTransaction(_ context.Context, listingID string) (domain.Transaction, error) {
	for _, tx := range t.transactions {
		if tx.ListingID == listingID && tx.Status.Active() {
			return tx, nil
		}
	}
	for id, tx := range t.s.transactions {
		if _, staged := t.transactions[id]; staged {
			continue
		}
		if tx.ListingID == listingID && tx.Status.Active() {
			return tx, nil
		}
	}
	return domain.Transaction{}, domain.ErrTransactionNotFound
}

func (t *lifecycleTx) LatestTransaction(_ context.Context, listingID string) (domain.Transaction, error) {
	var (
		latest domain.Transaction
		found  bool
	)
	consider := func(tx domain.Transaction) {
		if tx.ListingID != listingID {
			return
		}
		if !found || tx.CreatedAt.After(latest.CreatedAt) {
			latest, found = tx, true
		}
	}
	for _, tx := range t.transactions {
		consider(tx)
	}
	for id, tx := range t.s.transactions {
		if _, staged := t.transactions[id]; !staged {
			consider(tx)
		}
	}
	if !found {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}
	return latest, nil
}

func (t *lifecycleTx) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	if _, err := t.FindActiveTransaction(ctx, tx.ListingID); err == nil {
		return domain.ErrActiveTransactionExists
	}
	if _, err := t.GetTransaction(ctx, tx.ID); err == nil {
		return domain.ErrActiveTransactionExists
	}
	t.transactions[tx.ID] = tx
	return nil
}

func (t *lifecycleTx) SwapListingStatus(ctx context.Context, listingID string, from, to domain.ListingStatus, at time.Time) error {
	listing, err := t.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if listing.Status != from {
		return domain.ErrListingStatusChanged
	}
	listing.Status = to
	listing.UpdatedAt = at
	t.listings[listingID] = listing
	return nil
}

func (t *lifecycleTx) UpdateTransaction(ctx context.Context, tx domain.Transaction, expected domain.TransactionStatus) error {
	current, err := t.GetTransaction(ctx, tx.ID)
	if err != nil {
		return err
	}
	if current.Status != expected {
		return domain.ErrTransactionStatusChanged
	}
	t.transactions[tx.ID] = tx
	return nil
}

func (t *lifecycleTx) EnqueueOutbox(_ context.Context, msg domain.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	t.outbox = append(t.outbox, msg)
	return nil
}

func (t *lifecycleTx) AppendTimeline(_ context.Context, event domain.TimelineEvent) error {
	t.timeline = append(t.timeline, event)
	return nil
}

func (t *lifecycleTx) commit() {
	for id, listing := range t.listings {
		t.s.listings[id] = listing
	}
	for id, tx := range t.transactions {
		t.s.transactions[id] = tx
	}
	for _, msg := range t.outbox {
		t.s.enqueueOutboxLocked(msg)
	}
	for _, event := range t.timeline {
		t.s.appendTimelineLocked(event)
	}
}

var _ domain.LifecycleTx = (*lifecycleTx)(nil)
