package database

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsIsOrdered(t *testing.T) {
	t.Parallel()

	all, err := loadMigrations()
	require.NoError(t, err)
	require.Len(t, all, 2)

	assert.Equal(t, "001_initial", all[0].version)
	assert.Equal(t, "002_token_flags_monotonic", all[1].version)
	assert.True(t, strings.Contains(all[0].sql, "CREATE TABLE IF NOT EXISTS tokens"))
	assert.True(t, strings.Contains(all[1].sql, "tokens_flags_monotonic"))
}

func TestPendingSkipsApplied(t *testing.T) {
	t.Parallel()

	all := []migration{{version: "001_a"}, {version: "002_b"}, {version: "003_c"}}

	got := pending(all, map[string]bool{"002_b": true})
	require.Len(t, got, 2)
	assert.Equal(t, "001_a", got[0].version)
	assert.Equal(t, "003_c", got[1].version)

	assert.Empty(t, pending(all, map[string]bool{"001_a": true, "002_b": true, "003_c": true}))
}

func TestEnsureSchemaRequiresPool(t *testing.T) {
	t.Parallel()

	var db *DB
	assert.Error(t, db.EnsureSchema(context.Background()))
}
