package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
)

const (
	migrationsDir     = "sql/migrations"
	migrationLockKey  = int64(20260314)
	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

// Direction: направление применения миграций.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func (m migration) label() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// MigrationStatus: снимок состояния схемы.
type MigrationStatus struct {
	Version int64
	Applied int
	Pending []string
}

// Migrator применяет встроенные SQL-миграции под advisory lock,
// чтобы несколько реплик не мигрировали одновременно.
type Migrator struct {
	db         *sqlx.DB
	migrations []migration
}

// NewMigrator читает миграции из fsys (каталог sql/migrations).
func NewMigrator(db *sqlx.DB, fsys fs.FS) (*Migrator, error) {
	if db == nil {
		return nil, errStoreNotInitialized
	}
	migrations, err := loadMigrationsFromFS(fsys)
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, migrations: migrations}, nil
}

// Migrator возвращает мигратор по встроенному набору миграций.
func (s *Store) Migrator() (*Migrator, error) {
	if s == nil {
		return nil, errStoreNotInitialized
	}
	return NewMigrator(s.db, migrationsFS)
}

// MigrateUp применяет up-миграции; steps=0: все доступные.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	m, err := s.Migrator()
	if err != nil {
		return err
	}
	return m.Run(ctx, DirectionUp, steps)
}

// MigrateDown откатывает миграции; steps<=0 трактуется как один шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	m, err := s.Migrator()
	if err != nil {
		return err
	}
	return m.Run(ctx, DirectionDown, steps)
}

// Status возвращает текущую версию, число применённых и список ожидающих миграций.
func (m *Migrator) Status(ctx context.Context) (MigrationStatus, error) {
	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := m.db.ExecContext(queryCtx, migrationTableDDL); err != nil {
		return MigrationStatus{}, fmt.Errorf("ensure migration table: %w", err)
	}

	var versions []int64
	if err := m.db.SelectContext(queryCtx, &versions, `SELECT version FROM schema_migrations ORDER BY version`); err != nil {
		return MigrationStatus{}, fmt.Errorf("query migration status: %w", err)
	}

	applied := make(map[int64]bool, len(versions))
	status := MigrationStatus{Applied: len(versions), Pending: make([]string, 0)}
	for _, v := range versions {
		applied[v] = true
		if v > status.Version {
			status.Version = v
		}
	}
	for _, mig := range m.migrations {
		if !applied[mig.Version] {
			status.Pending = append(status.Pending, mig.label())
		}
	}
	return status, nil
}

// Run выполняет миграции в заданном направлении.
func (m *Migrator) Run(ctx context.Context, direction Direction, steps int) error {
	conn, err := m.db.Connx(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	var applied []int64
	if err := conn.SelectContext(ctx, &applied, `SELECT version FROM schema_migrations ORDER BY version`); err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}

	plan, err := m.plan(direction, applied, steps)
	if err != nil {
		return err
	}
	for _, mig := range plan {
		if err := applyOne(ctx, conn, direction, mig); err != nil {
			return err
		}
	}
	return nil
}

// plan выбирает миграции для применения. Для up: неприменённые по возрастанию,
// для down: последние применённые по убыванию.
func (m *Migrator) plan(direction Direction, applied []int64, steps int) ([]migration, error) {
	appliedSet := make(map[int64]bool, len(applied))
	for _, v := range applied {
		appliedSet[v] = true
	}

	switch direction {
	case DirectionUp:
		plan := make([]migration, 0)
		for _, mig := range m.migrations {
			if appliedSet[mig.Version] {
				continue
			}
			plan = append(plan, mig)
			if steps > 0 && len(plan) >= steps {
				break
			}
		}
		return plan, nil
	case DirectionDown:
		if steps <= 0 {
			steps = 1
		}
		byVersion := make(map[int64]migration, len(m.migrations))
		for _, mig := range m.migrations {
			byVersion[mig.Version] = mig
		}
		desc := append([]int64(nil), applied...)
		sort.Slice(desc, func(i, j int) bool { return desc[i] > desc[j] })

		plan := make([]migration, 0, steps)
		for _, v := range desc {
			if len(plan) >= steps {
				break
			}
			mig, ok := byVersion[v]
			if !ok {
				return nil, fmt.Errorf("cannot rollback unknown migration version %d", v)
			}
			plan = append(plan, mig)
		}
		return plan, nil
	default:
		return nil, fmt.Errorf("unsupported migration direction: %s", direction)
	}
}

func applyOne(ctx context.Context, conn *sqlx.Conn, direction Direction, m migration) error {
	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (%s %s): %w", direction, m.label(), err)
	}

	body, record, args := m.UpSQL, `INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`, []any{m.Version, m.Name}
	if direction == DirectionDown {
		body, record, args = m.DownSQL, `DELETE FROM schema_migrations WHERE version = $1`, []any{m.Version}
	}

	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute %s migration %s: %w", direction, m.label(), err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record %s migration %s: %w", direction, m.label(), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %s: %w", direction, m.label(), err)
	}
	return nil
}

func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		base := entry.Name()
		matches := migrationFilePattern.FindStringSubmatch(base)
		if len(matches) != 4 {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}

		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", base, err)
		}
		name, direction := matches[2], Direction(matches[3])

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, base))
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", base, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, name)
		}

		target := &m.UpSQL
		if direction == DirectionDown {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m.label())
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}
