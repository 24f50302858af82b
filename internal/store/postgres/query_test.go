package postgres

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/papersim/internal/domain"
)

func TestAppendListOpts(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args := appendListOpts("SELECT * FROM fills WHERE agent_id = $1", []any{"a1"},
		domain.ListOpts{Since: &since, Limit: 10, Offset: 20}, "executed_at")

	assert.Equal(t,
		"SELECT * FROM fills WHERE agent_id = $1 AND executed_at >= $2 ORDER BY executed_at DESC LIMIT $3 OFFSET $4",
		query)
	assert.Equal(t, []any{"a1", since, 10, 20}, args)
}

func TestAppendListOpts_NoFilters(t *testing.T) {
	query, args := appendListOpts("SELECT * FROM audit_log WHERE TRUE", nil, domain.ListOpts{}, "created_at")
	assert.Equal(t, "SELECT * FROM audit_log WHERE TRUE ORDER BY created_at DESC", query)
	assert.Empty(t, args)
}

func TestParseNumeric(t *testing.T) {
	d, err := parseNumeric("123.4500")
	require.NoError(t, err)
	assert.Equal(t, "123.45", d.String())

	d, err = parseNumeric("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = parseNumeric("abc")
	assert.Error(t, err)

	none, err := optionalNumeric(nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/sim?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "sim"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
	assert.Equal(t, "postgres://sim:p%40ss%2Fw@db:6543/sim?sslmode=require",
		DSN(ClientConfig{User: "sim", Password: "p@ss/w", Host: "db", Port: 6543, Database: "sim", SSLMode: "require"}))
}

func TestLoadMigrations_SortedWithChecksums(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_b.sql":   {Data: []byte("SELECT 2;")},
		"m/001_a.sql":   {Data: []byte("SELECT 1;")},
		"m/README.md":   {Data: []byte("notes")},
		"m/sub/003.sql": {Data: []byte("SELECT 3;")},
	}
	ms, err := loadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "001_a.sql", ms[0].name)
	assert.Equal(t, "002_b.sql", ms[1].name)
	assert.Equal(t, "SELECT 1;", ms[0].sql)
	assert.Len(t, ms[0].checksum, 64)
	assert.NotEqual(t, ms[0].checksum, ms[1].checksum)
}

func TestPendingMigrations(t *testing.T) {
	all := []migration{
		{name: "001_a.sql", checksum: "aa"},
		{name: "002_b.sql", checksum: "bb"},
	}

	pending, err := pendingMigrations(all, map[string]string{"001_a.sql": "aa"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "002_b.sql", pending[0].name)

	pending, err = pendingMigrations(all, map[string]string{"001_a.sql": "aa", "002_b.sql": "bb"})
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = pendingMigrations(all, map[string]string{"001_a.sql": "edited"})
	assert.ErrorContains(t, err, "001_a.sql changed")
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	ms, err := loadMigrations(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, "001_init.sql", ms[0].name)
}
