package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/campusmarket/internal/health"
	"github.com/vladislavdragonenkov/campusmarket/internal/storage/memory"
	"github.com/vladislavdragonenkov/campusmarket/internal/storage/mongodb"
	"github.com/vladislavdragonenkov/campusmarket/internal/storage/postgres"
)

// backend: общий набор методов всех хранилищ.
type backend interface {
	domain.LifecycleStore
	Ping(ctx context.Context) error
	Close() error
	Listings() domain.ListingRepository
	Transactions() domain.TransactionRepository
	Reviews() domain.ReviewRepository
	Users() domain.UserRepository
	Timeline() domain.TimelineRepository
	Idempotency() domain.IdempotencyRepository
}

// runtimeDeps: репозитории выбранного хранилища.
type runtimeDeps struct {
	store           domain.LifecycleStore
	listings        domain.ListingRepository
	transactions    domain.TransactionRepository
	reviews         domain.ReviewRepository
	users           domain.UserRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

func newRuntimeDeps(b backend, outbox domain.OutboxRepository, name string) *runtimeDeps {
	return &runtimeDeps{
		store:           b,
		listings:        b.Listings(),
		transactions:    b.Transactions(),
		reviews:         b.Reviews(),
		users:           b.Users(),
		outboxRepo:      outbox,
		timelineRepo:    b.Timeline(),
		idempotencyRepo: b.Idempotency(),
		storageChecker:  healthcheck.NewPingChecker(name, b),
		closeFn:         b.Close,
	}
}

// initRuntimeDependencies открывает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDeps, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver)); driver {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		logger.Info("using in-memory storage")
		return newRuntimeDeps(store, store.Outbox(), "storage-memory"), nil

	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, fmt.Errorf("postgres dsn is required for storage driver %q", driver)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		logger.Info("using postgres storage")
		return newRuntimeDeps(store, store.Outbox(), "storage-postgres"), nil

	case StorageDriverMongo:
		if strings.TrimSpace(cfg.MongoURI) == "" {
			return nil, fmt.Errorf("mongo uri is required for storage driver %q", driver)
		}
		database := cfg.MongoDatabase
		if database == "" {
			database = DefaultConfig().MongoDatabase
		}
		store, err := mongodb.Open(ctx, cfg.MongoURI, database)
		if err != nil {
			return nil, err
		}
		logger.WithField("database", database).Info("using mongo storage")
		return newRuntimeDeps(store, store.Outbox(), "storage-mongo"), nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func (d *runtimeDeps) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
