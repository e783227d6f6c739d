package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/color-pulse/internal/model"
)

// TestMigrate_FromOlderVersion upgrades a database that only has the rules table
// and checks existing rules survive.
func TestMigrate_FromOlderVersion(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "old.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	tx, err := store.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, migrations[0].Up(tx))
	_, err = tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migrations[0].Version))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	// Rules written by older clients store numbers as JSON numbers.
	_, err = store.db.ExecContext(ctx, `
		INSERT INTO color_rules (name, conditions, is_active, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
	`, "Legacy", `[{"column":"PX","operator":"greater than","value":100,"type":"where"}]`,
		store.now(), store.now())
	require.NoError(t, err)

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	require.NoError(t, store.Migrate(ctx))

	version, err = store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)

	rule, err := store.GetRuleByName(ctx, "legacy")
	require.NoError(t, err)
	require.Len(t, rule.Conditions, 1)
	assert.Equal(t, model.Scalar("100"), rule.Conditions[0].Value)
	assert.Equal(t, "PX", rule.Conditions[0].Field)
}

func TestMigrate_CanceledContext(t *testing.T) {
	store, err := NewSQLiteStorage(MemoryPath)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, store.Migrate(ctx))
}
