package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/campusmarket/internal/health"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", StorageDriverMemory, " MEMORY "} {
		deps, err := initRuntimeDependencies(context.Background(), Config{
			StorageDriver: driver,
		}, log.WithField("test", "memory-storage"))
		require.NoError(t, err, "driver %q", driver)

		assert.NotNil(t, deps.store)
		assert.NotNil(t, deps.listings)
		assert.NotNil(t, deps.transactions)
		assert.NotNil(t, deps.reviews)
		assert.NotNil(t, deps.users)
		assert.NotNil(t, deps.outboxRepo)
		assert.NotNil(t, deps.timelineRepo)
		assert.NotNil(t, deps.idempotencyRepo)

		check := deps.storageChecker.Check(context.Background())
		assert.Equal(t, "storage-memory", check.Name)
		assert.Equal(t, healthcheck.StatusHealthy, check.Status)

		deps.close(log.WithField("test", "memory-storage"))
	}
}

func TestInitRuntimeDependencies_MemoryStoreIsShared(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	deps, err := initRuntimeDependencies(ctx, Config{}, log.WithField("test", "shared"))
	require.NoError(t, err)

	listing := domain.Listing{ID: "listing-1", SellerID: "seller-1", Title: "Desk lamp", Status: domain.ListingStatusAvailable}
	require.NoError(t, deps.listings.Create(ctx, listing))

	// Координатор и репозиторий объявлений должны видеть одни и те же данные.
	err = deps.store.RunInTx(ctx, func(ctx context.Context, tx domain.LifecycleTx) error {
		got, err := tx.GetListing(ctx, "listing-1")
		if err != nil {
			return err
		}
		assert.Equal(t, "seller-1", got.SellerID)
		return nil
	})
	require.NoError(t, err)
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn is required")
}

func TestInitRuntimeDependencies_MongoRequiresURI(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMongo,
	}, log.WithField("test", "mongo-missing-uri"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uri is required")
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage driver")
}

func TestRuntimeDepsClose_Nil(t *testing.T) {
	var deps *runtimeDeps
	deps.close(log.WithField("test", "nil-close"))
}
