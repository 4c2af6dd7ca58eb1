package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

type transactionRepository struct {
	s *Store
}

func (r *transactionRepository) Get(_ context.Context, id string) (domain.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	tx, ok := r.s.transactions[id]
	if !ok {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}
	return tx, nil
}

// ListByUser возвращает сделки пользователя, ограничивая выборку limit (если >0).
func (r *transactionRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.Transaction, 0)
	for _, tx := range r.s.transactions {
		if tx.BuyerID == userID || tx.SellerID == userID {
			result = append(result, tx)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *transactionRepository) HasActive(_ context.Context, listingID string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	_, active := r.s.activeTransactionLocked(listingID)
	return active, nil
}

var _ domain.TransactionRepository = (*transactionRepository)(nil)
