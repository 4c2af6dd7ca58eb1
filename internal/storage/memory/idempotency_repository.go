package memory

import (
	"context"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

type idempotencyRepository struct {
	s *Store
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", domain.ErrIdempotencyKeyRequired
	}
	return key, nil
}

// CreateProcessing занимает ключ. Живая запись с тем же ключом даёт конфликт,
// просроченная перезаписывается, не дожидаясь Sweeper.
func (r *idempotencyRepository) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if requestHash = strings.TrimSpace(requestHash); requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if held, ok := r.s.idempotency[key]; ok && !held.Expired(now) {
		conflict := domain.ErrIdempotencyKeyAlreadyExists
		if held.RequestHash != requestHash {
			conflict = domain.ErrIdempotencyHashMismatch
		}
		return copyRecord(held), conflict
	}

	rec := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.s.idempotency[key] = rec
	return copyRecord(rec), nil
}

func (r *idempotencyRepository) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rec, ok := r.s.idempotency[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(rec), nil
}

func (r *idempotencyRepository) MarkDone(_ context.Context, key string, body []byte, status int) error {
	return r.finish(key, domain.IdempotencyStatusDone, body, status)
}

func (r *idempotencyRepository) MarkFailed(_ context.Context, key string, body []byte, status int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, body, status)
}

// DeleteExpired удаляет не больше limit записей с ttl <= before; limit <= 0 снимает ограничение.
func (r *idempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for key, rec := range r.s.idempotency {
		if limit > 0 && n == limit {
			break
		}
		if rec.TTLAt.After(before) {
			continue
		}
		delete(r.s.idempotency, key)
		n++
	}
	return n, nil
}

func (r *idempotencyRepository) finish(key string, status domain.IdempotencyStatus, body []byte, httpStatus int) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.s.idempotency[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	rec.Status = status
	rec.ResponseBody = append([]byte(nil), body...)
	rec.HTTPStatus = httpStatus
	rec.UpdatedAt = time.Now().UTC()
	r.s.idempotency[key] = rec
	return nil
}

func copyRecord(rec domain.IdempotencyRecord) domain.IdempotencyRecord {
	rec.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	return rec
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
