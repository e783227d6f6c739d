package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Veraticus/color-pulse/internal/common"
	"github.com/Veraticus/color-pulse/internal/session"
)

// SaveSession writes a session snapshot, replacing any earlier one.
func (s *SQLiteStorage) SaveSession(ctx context.Context, sess *session.Session) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSession(sess); err != nil {
		return err
	}

	snapshot, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	err = s.retryBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `
		INSERT INTO color_sessions (id, owner_id, source, status, rows_count, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			rows_count = excluded.rows_count,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`, sess.ID, sess.OwnerID, sess.Source, string(sess.Status), len(sess.Current), string(snapshot),
			sess.CreatedAt.UTC(), sess.UpdatedAt.UTC())
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// LoadSession reads a session snapshot.
func (s *SQLiteStorage) LoadSession(ctx context.Context, id string) (*session.Session, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	var snapshot string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM color_sessions WHERE id = ?`, id).Scan(&snapshot)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess session.Session
	if err := json.Unmarshal([]byte(snapshot), &sess); err != nil {
		return nil, fmt.Errorf("%w: session %s has an unreadable snapshot: %w", common.ErrDatabaseCorrupted, id, err)
	}

	return &sess, nil
}

// DeleteSession removes a session snapshot.
func (s *SQLiteStorage) DeleteSession(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM color_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("session %s: %w", id, common.ErrNotFound)
	}

	return nil
}

// ListSessions returns summaries of every stored session, newest first.
func (s *SQLiteStorage) ListSessions(ctx context.Context) ([]session.Summary, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, source, status, rows_count, created_at, updated_at
		FROM color_sessions
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []session.Summary
	for rows.Next() {
		var sum session.Summary
		if err := rows.Scan(&sum.ID, &sum.OwnerID, &sum.Source, &sum.Status, &sum.Rows,
			&sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		summaries = append(summaries, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return summaries, nil
}
