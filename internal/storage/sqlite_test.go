package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Veraticus/color-pulse/internal/common"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

func TestNewSQLiteStorage_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "pulse.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error = %v", err)
	}
	defer func() { _ = store.Close() }()

	if store.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", store.Path(), dbPath)
	}
}

func TestNewSQLiteStorage_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteStorage("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestMigrate(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != ExpectedSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, ExpectedSchemaVersion)
	}

	// Running again is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	for _, table := range []string{"color_rules", "rule_logs", "color_sessions", "color_outputs", "committed_colors"} {
		var count int
		err := store.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s was not created", table)
		}
	}
}

func TestMigrate_InMemory(t *testing.T) {
	store, err := NewSQLiteStorage(MemoryPath)
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error = %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
}

func TestMigrations_AreOrdered(t *testing.T) {
	for i, m := range migrations {
		if m.Version != i+1 {
			t.Errorf("migration at index %d has version %d", i, m.Version)
		}
		if m.Description == "" {
			t.Errorf("migration %d has no description", m.Version)
		}
	}
	if last := migrations[len(migrations)-1].Version; last != ExpectedSchemaVersion {
		t.Errorf("last migration is %d, ExpectedSchemaVersion is %d", last, ExpectedSchemaVersion)
	}
}

func TestRetryBusy(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	store.retry.InitialDelay = time.Millisecond
	ctx := context.Background()

	t.Run("retries while busy", func(t *testing.T) {
		calls := 0
		err := store.retryBusy(ctx, func() error {
			calls++
			if calls < 3 {
				return fmt.Errorf("insert: %w", sqlite3.Error{Code: sqlite3.ErrBusy})
			}
			return nil
		})
		if err != nil {
			t.Fatalf("retryBusy() error = %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("other errors are returned at once", func(t *testing.T) {
		calls := 0
		err := store.retryBusy(ctx, func() error {
			calls++
			return common.ErrDuplicateEntry
		})
		if !errors.Is(err, common.ErrDuplicateEntry) {
			t.Errorf("retryBusy() error = %v, want ErrDuplicateEntry", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := store.retryBusy(ctx, func() error {
			calls++
			return sqlite3.Error{Code: sqlite3.ErrLocked}
		})
		if !errors.Is(err, common.ErrMaxRetries) {
			t.Errorf("retryBusy() error = %v, want ErrMaxRetries", err)
		}
		if calls != busyRetry.MaxAttempts {
			t.Errorf("calls = %d, want %d", calls, busyRetry.MaxAttempts)
		}
	})
}
