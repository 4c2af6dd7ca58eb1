package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsFromFS_Success(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_init.up.sql":   {Data: []byte("CREATE TABLE test_a (id INT);")},
		"sql/migrations/0001_init.down.sql": {Data: []byte("DROP TABLE IF EXISTS test_a;")},
		"sql/migrations/0002_more.up.sql":   {Data: []byte("CREATE TABLE test_b (id INT);")},
		"sql/migrations/0002_more.down.sql": {Data: []byte("DROP TABLE IF EXISTS test_b;")},
		"sql/migrations/README.md":          {Data: []byte("ignored")},
	}

	migrations, err := loadMigrationsFromFS(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	require.Equal(t, int64(1), migrations[0].Version)
	require.Equal(t, "init", migrations[0].Name)
	require.Equal(t, "0002_more", migrations[1].label())
}

func TestLoadMigrationsFromFS_Errors(t *testing.T) {
	t.Parallel()

	cases := map[string]fstest.MapFS{
		"both up and down": {
			"sql/migrations/0001_init.up.sql": {Data: []byte("CREATE TABLE test_a (id INT);")},
		},
		"invalid migration file name": {
			"sql/migrations/not_a_migration.sql": {Data: []byte("SELECT 1;")},
		},
		"migration file is empty": {
			"sql/migrations/0001_init.up.sql":   {Data: []byte("   \n")},
			"sql/migrations/0001_init.down.sql": {Data: []byte("DROP TABLE IF EXISTS test;")},
		},
		"name mismatch": {
			"sql/migrations/0001_init.up.sql":  {Data: []byte("SELECT 1;")},
			"sql/migrations/0001_other.up.sql": {Data: []byte("SELECT 1;")},
		},
		"no migration files": {
			"sql/migrations/.keep": {Data: []byte("")},
		},
	}

	for want, fsys := range cases {
		t.Run(want, func(t *testing.T) {
			_, err := loadMigrationsFromFS(fsys)
			require.Error(t, err)
			require.Contains(t, err.Error(), want)
		})
	}
}

func TestEmbeddedMigrationsAreConsistent(t *testing.T) {
	migrations, err := loadMigrationsFromFS(migrationsFS)
	require.NoError(t, err)
	require.Len(t, migrations, 3)
	for i, m := range migrations {
		require.Equal(t, int64(i+1), m.Version)
	}
	require.Contains(t, migrations[0].UpSQL, constraintOneActivePerListing)
	require.Contains(t, migrations[0].UpSQL, constraintReviewPerReviewer)
}

func TestMigratorPlan(t *testing.T) {
	m := &Migrator{migrations: []migration{
		{Version: 1, Name: "a"},
		{Version: 2, Name: "b"},
		{Version: 3, Name: "c"},
	}}

	up, err := m.plan(DirectionUp, []int64{1}, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"0002_b", "0003_c"}, labels(up))

	up, err = m.plan(DirectionUp, nil, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"0001_a"}, labels(up))

	down, err := m.plan(DirectionDown, []int64{1, 2, 3}, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"0003_c"}, labels(down))

	down, err = m.plan(DirectionDown, []int64{1, 2}, 5)
	require.NoError(t, err)
	require.Equal(t, []string{"0002_b", "0001_a"}, labels(down))

	_, err = m.plan(DirectionDown, []int64{9}, 1)
	require.ErrorContains(t, err, "unknown migration version 9")

	_, err = m.plan(Direction("sideways"), nil, 0)
	require.ErrorContains(t, err, "unsupported migration direction")
}

func labels(ms []migration) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.label())
	}
	return out
}
