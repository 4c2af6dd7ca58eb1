package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

func TestOutboxRepository_EnqueueAndPull(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Outbox()

	first, err := repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateTransaction,
		AggregateID:   "tx-1",
		EventType:     "TransactionReserved",
		Payload:       []byte(`{"status":"Reserved"}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	require.False(t, first.CreatedAt.IsZero())

	second, err := repo.Enqueue(ctx, domain.OutboxMessage{AggregateType: domain.AggregateListing, AggregateID: "l-1"})
	require.NoError(t, err)

	pending, err := repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, first.ID, pending[0].ID)
	require.Equal(t, second.ID, pending[1].ID)

	limited, err := repo.PullPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.PendingCount)
	require.True(t, stats.OldestPendingAt.Equal(first.CreatedAt))
}

func TestOutboxRepository_MarkSentAndFailed(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Outbox()

	saved, err := repo.Enqueue(ctx, domain.OutboxMessage{AggregateType: domain.AggregateListing})
	require.NoError(t, err)

	require.NoError(t, repo.MarkSent(ctx, saved.ID))
	require.Empty(t, repo.AllPending())

	require.NoError(t, repo.MarkFailed(ctx, saved.ID))
	require.ErrorIs(t, repo.MarkFailed(ctx, "missing"), domain.ErrOutboxPublish)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}
