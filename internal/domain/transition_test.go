package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

func TestNextTransactionStatus(t *testing.T) {
	cases := []struct {
		name    string
		current domain.TransactionStatus
		op      domain.TransactionOp
		want    domain.TransactionStatus
		wantErr error
	}{
		{name: "reserved complete", current: domain.TransactionStatusReserved, op: domain.TransactionOpComplete, want: domain.TransactionStatusCompleted},
		{name: "reserved cancel", current: domain.TransactionStatusReserved, op: domain.TransactionOpCancel, want: domain.TransactionStatusCancelled},
		{name: "initiated complete", current: domain.TransactionStatusInitiated, op: domain.TransactionOpComplete, want: domain.TransactionStatusCompleted},
		{name: "initiated confirm", current: domain.TransactionStatusInitiated, op: domain.TransactionOpConfirm, want: domain.TransactionStatusReserved},
		{name: "reserved confirm", current: domain.TransactionStatusReserved, op: domain.TransactionOpConfirm, wantErr: domain.ErrIllegalTransition},
		{name: "completed cancel", current: domain.TransactionStatusCompleted, op: domain.TransactionOpCancel, wantErr: domain.ErrTransactionTerminal},
		{name: "cancelled complete", current: domain.TransactionStatusCancelled, op: domain.TransactionOpComplete, wantErr: domain.ErrTransactionTerminal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := domain.NextTransactionStatus(tc.current, tc.op)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				require.ErrorIs(t, err, domain.ErrConflict)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNextListingStatus(t *testing.T) {
	allowed := []struct {
		from domain.ListingStatus
		op   domain.ListingOp
		to   domain.ListingStatus
	}{
		{domain.ListingStatusAvailable, domain.ListingOpReserve, domain.ListingStatusReserved},
		{domain.ListingStatusReserved, domain.ListingOpSell, domain.ListingStatusSold},
		{domain.ListingStatusReserved, domain.ListingOpRelease, domain.ListingStatusAvailable},
		{domain.ListingStatusAvailable, domain.ListingOpRemove, domain.ListingStatusRemoved},
		{domain.ListingStatusAvailable, domain.ListingOpHide, domain.ListingStatusHidden},
		{domain.ListingStatusHidden, domain.ListingOpRestore, domain.ListingStatusAvailable},
	}
	for _, tc := range allowed {
		got, err := domain.NextListingStatus(tc.from, tc.op)
		require.NoError(t, err, "%s --%s-->", tc.from, tc.op)
		require.Equal(t, tc.to, got)
	}

	// Терминальные статусы не имеют выходов.
	for _, terminal := range []domain.ListingStatus{domain.ListingStatusSold, domain.ListingStatusRemoved} {
		for _, op := range []domain.ListingOp{domain.ListingOpReserve, domain.ListingOpRelease, domain.ListingOpRestore, domain.ListingOpSell} {
			_, err := domain.NextListingStatus(terminal, op)
			require.ErrorIs(t, err, domain.ErrIllegalTransition)
		}
	}

	_, err := domain.NextListingStatus(domain.ListingStatusReserved, domain.ListingOpReserve)
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestTransactionApply(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tx := domain.Transaction{
		ID:            "tx-1",
		BuyerID:       "buyer",
		SellerID:      "seller",
		ListingID:     "listing",
		Amount:        decimal.NewFromInt(100),
		Status:        domain.TransactionStatusReserved,
		PaymentStatus: domain.PaymentStatusPending,
	}

	completed, err := tx.Apply(domain.TransactionOpComplete, at, "")
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusCompleted, completed.Status)
	require.Equal(t, domain.PaymentStatusCompleted, completed.PaymentStatus)
	require.NotNil(t, completed.CompletionDate)
	require.True(t, completed.CompletionDate.Equal(at))
	require.Equal(t, domain.TransactionStatusReserved, tx.Status, "source must stay untouched")

	cancelled, err := tx.Apply(domain.TransactionOpCancel, at, "")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusCancelled, cancelled.PaymentStatus)
	require.Equal(t, domain.DefaultCancellationReason, cancelled.CancellationReason)

	withReason, err := tx.Apply(domain.TransactionOpCancel, at, "changed mind")
	require.NoError(t, err)
	require.Equal(t, "changed mind", withReason.CancellationReason)

	_, err = completed.Apply(domain.TransactionOpCancel, at, "")
	require.True(t, errors.Is(err, domain.ErrTransactionTerminal))
}

func TestPaymentStatusFor(t *testing.T) {
	require.Equal(t, domain.PaymentStatusPending, domain.PaymentStatusFor(domain.TransactionStatusInitiated))
	require.Equal(t, domain.PaymentStatusPending, domain.PaymentStatusFor(domain.TransactionStatusReserved))
	require.Equal(t, domain.PaymentStatusCompleted, domain.PaymentStatusFor(domain.TransactionStatusCompleted))
	require.Equal(t, domain.PaymentStatusCancelled, domain.PaymentStatusFor(domain.TransactionStatusCancelled))
}
