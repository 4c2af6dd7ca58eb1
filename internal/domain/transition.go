package domain

// TransactionOp: операция над сделкой.
type TransactionOp string

const (
	// TransactionOpConfirm переводит Initiated в Reserved.
	TransactionOpConfirm  TransactionOp = "confirm"
	TransactionOpComplete TransactionOp = "complete"
	TransactionOpCancel   TransactionOp = "cancel"
)

// ListingOp: операция над статусом объявления.
type ListingOp string

const (
	ListingOpReserve ListingOp = "reserve"
	ListingOpSell    ListingOp = "sell"
	ListingOpRelease ListingOp = "release"
	ListingOpRemove  ListingOp = "remove"
	ListingOpHide    ListingOp = "hide"
	ListingOpRestore ListingOp = "restore"
)

// Таблица переходов сделки: текущий статус × операция → следующий статус.
// Отсутствие пары означает отказ.
var transactionTransitions = map[TransactionStatus]map[TransactionOp]TransactionStatus{
	TransactionStatusInitiated: {
		TransactionOpConfirm:  TransactionStatusReserved,
		TransactionOpComplete: TransactionStatusCompleted,
		TransactionOpCancel:   TransactionStatusCancelled,
	},
	TransactionStatusReserved: {
		TransactionOpComplete: TransactionStatusCompleted,
		TransactionOpCancel:   TransactionStatusCancelled,
	},
}

// Таблица переходов объявления.
var listingTransitions = map[ListingStatus]map[ListingOp]ListingStatus{
	ListingStatusAvailable: {
		ListingOpReserve: ListingStatusReserved,
		ListingOpRemove:  ListingStatusRemoved,
		ListingOpHide:    ListingStatusHidden,
	},
	ListingStatusReserved: {
		ListingOpSell:    ListingStatusSold,
		ListingOpRelease: ListingStatusAvailable,
	},
	ListingStatusHidden: {
		ListingOpRestore: ListingStatusAvailable,
		ListingOpRemove:  ListingStatusRemoved,
	},
}

// NextTransactionStatus возвращает статус после операции или ErrIllegalTransition.
// Для терминальных статусов возвращается ErrTransactionTerminal.
func NextTransactionStatus(current TransactionStatus, op TransactionOp) (TransactionStatus, error) {
	if current.Terminal() {
		return current, ErrTransactionTerminal
	}
	next, ok := transactionTransitions[current][op]
	if !ok {
		return current, ErrIllegalTransition
	}
	return next, nil
}

// NextListingStatus возвращает статус объявления после операции или ErrIllegalTransition.
func NextListingStatus(current ListingStatus, op ListingOp) (ListingStatus, error) {
	next, ok := listingTransitions[current][op]
	if !ok {
		return current, ErrIllegalTransition
	}
	return next, nil
}

// ListingOpFor сопоставляет операцию над сделкой с парной операцией над объявлением.
func ListingOpFor(op TransactionOp) (ListingOp, bool) {
	switch op {
	case TransactionOpComplete:
		return ListingOpSell, true
	case TransactionOpCancel:
		return ListingOpRelease, true
	default:
		return "", false
	}
}
