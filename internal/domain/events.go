package domain

// Типы событий жизненного цикла. Одни и те же имена уходят в outbox,
// в историю и в уведомления пользователям.
const (
	EventListingCreated  = "listing.created"
	EventListingUpdated  = "listing.updated"
	EventListingReserved = "listing.reserved"
	EventListingSold     = "listing.sold"
	EventListingReleased = "listing.released"
	EventListingRemoved  = "listing.removed"
	EventListingHidden   = "listing.hidden"
	EventListingRestored = "listing.restored"

	EventTransactionReserved  = "transaction.reserved"
	EventTransactionCompleted = "transaction.completed"
	EventTransactionCancelled = "transaction.cancelled"

	EventReviewSubmitted = "review.submitted"
	EventReviewUpdated   = "review.updated"
	EventReviewDeleted   = "review.deleted"
)

// NotificationType группирует уведомления для клиента.
type NotificationType string

const (
	NotificationTransaction NotificationType = "Transaction"
	NotificationReview      NotificationType = "Review"
)

// Notification: полезная нагрузка, которую получает Notifier.
type Notification struct {
	Type    NotificationType `json:"type"`
	Event   string           `json:"event"`
	Message string           `json:"message"`
	Data    any              `json:"data,omitempty"`
}
