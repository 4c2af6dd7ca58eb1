package domain

import "errors"

// Базовые виды ошибок. Конкретные ошибки ниже оборачивают один из них,
// поэтому errors.Is(err, ErrConflict) работает для любой конфликтной ситуации.
var (
	// ErrNotFound: сущность отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrForbidden: у актора нет роли для операции.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict: нарушено условие состояния (включая проигранную гонку и дубликаты).
	ErrConflict = errors.New("conflict")
	// ErrInvalidOperation: запрос не имеет смысла (покупка своего объявления, неверный тип отзыва).
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrExpired: истекло окно редактирования.
	ErrExpired = errors.New("expired")
)

// Error связывает человекочитаемое сообщение с видом ошибки.
type Error struct {
	kind error
	msg  string
}

func newError(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Unwrap позволяет errors.Is добраться до вида ошибки.
func (e *Error) Unwrap() error { return e.kind }

var (
	ErrListingNotFound     = newError(ErrNotFound, "listing not found")
	ErrTransactionNotFound = newError(ErrNotFound, "transaction not found")
	ErrReviewNotFound      = newError(ErrNotFound, "review not found")
	ErrUserNotFound        = newError(ErrNotFound, "user not found")

	// ErrListingNotAvailable: объявление уже зарезервировано, продано или скрыто.
	ErrListingNotAvailable = newError(ErrConflict, "listing is not available")
	// ErrListingStatusChanged: условная запись статуса объявления не прошла.
	ErrListingStatusChanged = newError(ErrConflict, "listing status changed concurrently")
	// ErrActiveTransactionExists: у объявления уже есть незавершённая сделка.
	ErrActiveTransactionExists = newError(ErrConflict, "listing already has an active transaction")
	// ErrTransactionStatusChanged: условная запись сделки не прошла.
	ErrTransactionStatusChanged = newError(ErrConflict, "transaction status changed concurrently")
	// ErrTransactionTerminal: сделка уже завершена другим исходом.
	ErrTransactionTerminal = newError(ErrConflict, "transaction is already finished")
	// ErrIllegalTransition: переход отсутствует в таблице переходов.
	ErrIllegalTransition = newError(ErrConflict, "illegal status transition")
	// ErrListingLocked: объявление нельзя менять, пока оно не Available или есть активная сделка.
	ErrListingLocked = newError(ErrConflict, "listing cannot be modified in its current state")
	// ErrListingAlreadyExists: объявление с таким ID уже сохранено.
	ErrListingAlreadyExists = newError(ErrConflict, "listing already exists")
	// ErrDuplicateReview: повторный отзыв того же автора по той же сделке.
	ErrDuplicateReview = newError(ErrConflict, "transaction already reviewed by this user")

	ErrSelfPurchase          = newError(ErrInvalidOperation, "cannot purchase your own listing")
	ErrInvalidStatusUpdate   = newError(ErrInvalidOperation, "invalid status update")
	ErrReviewTypeInvalid     = newError(ErrInvalidOperation, "invalid review type")
	ErrReviewRoleMismatch    = newError(ErrInvalidOperation, "review type does not match reviewer role")
	ErrReviewNotCompleted    = newError(ErrInvalidOperation, "can only review completed transactions")
	ErrReviewRatingInvalid   = newError(ErrInvalidOperation, "rating must be an integer between 1 and 5")
	ErrReviewCommentTooLong  = newError(ErrInvalidOperation, "comment must be at most 500 characters")
	ErrListingTitleInvalid   = newError(ErrInvalidOperation, "title must be between 3 and 100 characters")
	ErrListingPriceNegative  = newError(ErrInvalidOperation, "price must be non-negative")
	ErrListingSellerRequired = newError(ErrInvalidOperation, "seller id is required")

	ErrNotTransactionParty = newError(ErrForbidden, "actor is not a party of the transaction")
	ErrNotSeller           = newError(ErrForbidden, "only the seller may perform this action")
	ErrNotBuyer            = newError(ErrForbidden, "only the buyer may perform this action")
	ErrNotReviewAuthor     = newError(ErrForbidden, "only the author may modify the review")
	ErrAdminRequired       = newError(ErrForbidden, "admin role required")
	ErrNotVerified         = newError(ErrForbidden, "account is not verified")

	ErrReviewEditWindowClosed = newError(ErrExpired, "cannot update review after 7 days")
)

// Ошибки idempotency-ключей.
var (
	ErrIdempotencyKeyRequired         = newError(ErrInvalidOperation, "idempotency key is required")
	ErrIdempotencyRequestHashRequired = newError(ErrInvalidOperation, "idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = newError(ErrNotFound, "idempotency key not found")
	ErrIdempotencyKeyAlreadyExists    = newError(ErrConflict, "idempotency key already exists")
	ErrIdempotencyHashMismatch        = newError(ErrConflict, "idempotency key reused with a different request")
	ErrIdempotencyInProgress          = newError(ErrConflict, "request with this idempotency key is still in progress")
)

// ErrOutboxPublish: ошибка при публикации или отметке сообщения из outbox.
var ErrOutboxPublish = errors.New("outbox publish failed")

// KindOf возвращает вид ошибки или nil, если ошибка не из доменной таксономии.
func KindOf(err error) error {
	for _, kind := range []error{ErrNotFound, ErrForbidden, ErrConflict, ErrInvalidOperation, ErrExpired} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindName возвращает имя вида для ответов API.
func KindName(err error) string {
	switch KindOf(err) {
	case ErrNotFound:
		return "NotFound"
	case ErrForbidden:
		return "Forbidden"
	case ErrConflict:
		return "Conflict"
	case ErrInvalidOperation:
		return "InvalidOperation"
	case ErrExpired:
		return "Expired"
	default:
		return "Internal"
	}
}

// IsIdempotencyConflict проверяет, что ключ уже занят (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
