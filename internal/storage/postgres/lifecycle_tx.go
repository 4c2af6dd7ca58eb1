package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

// lifecycleTx исполняет операции жизненного цикла внутри открытой sqlx.Tx.
// Все условные записи проверяют RowsAffected, гонку проигрывает тот, кто пришёл вторым.
type lifecycleTx struct {
	tx *sqlx.Tx
}

func (t *lifecycleTx) GetListing(ctx context.Context, id string) (domain.Listing, error) {
	return getListing(ctx, t.tx, id)
}

func (t *lifecycleTx) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	return getTransaction(ctx, t.tx, id)
}

func (t *lifecycleTx) FindActiveTransaction(ctx context.Context, listingID string) (domain.Transaction, error) {
	var row transactionRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE listing_id = $1 AND status IN ('Initiated', 'Reserved')
		LIMIT 1
	`, listingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Transaction{}, domain.ErrTransactionNotFound
		}
		return domain.Transaction{}, fmt.Errorf("find active transaction: %w", err)
	}
	return row.toDomain(), nil
}

func (t *lifecycleTx) LatestTransaction(ctx context.Context, listingID string) (domain.Transaction, error) {
	var row transactionRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE listing_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, listingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Transaction{}, domain.ErrTransactionNotFound
		}
		return domain.Transaction{}, fmt.Errorf("latest transaction: %w", err)
	}
	return row.toDomain(), nil
}

// InsertTransaction опирается на частичный уникальный индекс по активным сделкам.
func (t *lifecycleTx) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO transactions (
			id, buyer_id, seller_id, listing_id, amount, status, payment_status,
			reservation_date, completion_date, cancellation_date, cancellation_reason, created_at, updated_at
		) VALUES (
			:id, :buyer_id, :seller_id, :listing_id, :amount, :status, :payment_status,
			:reservation_date, :completion_date, :cancellation_date, :cancellation_reason, :created_at, :updated_at
		)
	`, transactionToRow(tx))
	if err != nil {
		if isUniqueViolation(err) {
			// Повтор ID тоже считается конфликтом резерва.
			return domain.ErrActiveTransactionExists
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (t *lifecycleTx) SwapListingStatus(ctx context.Context, listingID string, from, to domain.ListingStatus, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE listings
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, listingID, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("swap listing status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := getListing(ctx, t.tx, listingID); err != nil {
			return err
		}
		return domain.ErrListingStatusChanged
	}
	return nil
}

func (t *lifecycleTx) UpdateTransaction(ctx context.Context, tx domain.Transaction, expected domain.TransactionStatus) error {
	row := transactionToRow(tx)
	res, err := t.tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $3,
		    payment_status = $4,
		    completion_date = $5,
		    cancellation_date = $6,
		    cancellation_reason = $7,
		    updated_at = $8
		WHERE id = $1 AND status = $2
	`, row.ID, string(expected), row.Status, row.PaymentStatus,
		row.CompletionDate, row.CancellationDate, row.CancellationReason, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := getTransaction(ctx, t.tx, tx.ID); err != nil {
			return err
		}
		return domain.ErrTransactionStatusChanged
	}
	return nil
}

func (t *lifecycleTx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	_, err := insertOutbox(ctx, t.tx, msg)
	return err
}

func (t *lifecycleTx) AppendTimeline(ctx context.Context, event domain.TimelineEvent) error {
	return insertTimeline(ctx, t.tx, event)
}

func getListing(ctx context.Context, q sqlx.QueryerContext, id string) (domain.Listing, error) {
	var row listingRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Listing{}, domain.ErrListingNotFound
		}
		return domain.Listing{}, fmt.Errorf("get listing: %w", err)
	}
	return row.toDomain(), nil
}

func getTransaction(ctx context.Context, q sqlx.QueryerContext, id string) (domain.Transaction, error) {
	var row transactionRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Transaction{}, domain.ErrTransactionNotFound
		}
		return domain.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return row.toDomain(), nil
}

var _ domain.LifecycleTx = (*lifecycleTx)(nil)
