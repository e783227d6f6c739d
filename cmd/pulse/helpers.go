package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/Veraticus/color-pulse/internal/common"
	"github.com/Veraticus/color-pulse/internal/config"
	"github.com/Veraticus/color-pulse/internal/session"
	"github.com/Veraticus/color-pulse/internal/sheet"
	"github.com/Veraticus/color-pulse/internal/storage"
)

// app bundles the configured collaborators a command needs.
type app struct {
	db    *storage.SQLiteStorage
	store *session.Store
	cfg   config.Config
}

// loadConfig resolves the application settings from viper.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.Config{}, common.NewUserError("invalid configuration", err)
	}
	return cfg, nil
}

// initStorage opens the database and brings its schema up to date.
func initStorage(ctx context.Context, dbPath string) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// newApp opens storage and builds a session store backed by it. Sessions live
// in the database between invocations, so every command sees the same sessions.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := initStorage(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var sink session.OutputSink = db
	if cfg.OutputDest == config.DestinationExcel {
		sink = sheet.NewWriter(cfg.OutputDir)
	}

	store := session.NewStore(session.Options{
		Rules:     db,
		Sink:      sink,
		Persister: db,
		TTL:       cfg.SessionTTL,
		Retention: cfg.SessionRetention,
	})

	return &app{cfg: cfg, db: db, store: store}, nil
}

// Close stops the session store and closes the database.
func (a *app) Close() {
	a.store.Stop()
	if err := a.db.Close(); err != nil {
		slog.Error("failed to close storage", "error", err)
	}
}

// parseIDs reads rule or output ids given as separate arguments or comma lists.
func parseIDs(values []string) ([]int, error) {
	var ids []int
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.Atoi(part)
			if err != nil || id <= 0 {
				return nil, common.NewUserError(fmt.Sprintf("invalid id %q", part), err)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// parseID reads a single positive id argument.
func parseID(value string) (int, error) {
	ids, err := parseIDs([]string{value})
	if err != nil {
		return 0, err
	}
	if len(ids) != 1 {
		return 0, common.NewUserError(fmt.Sprintf("expected one id, got %q", value), nil)
	}
	return ids[0], nil
}
