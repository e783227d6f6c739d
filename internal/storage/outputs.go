package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/color-pulse/internal/common"
	"github.com/Veraticus/color-pulse/internal/model"
	"github.com/Veraticus/color-pulse/internal/ranking"
	"github.com/Veraticus/color-pulse/internal/session"
)

// OutputRecord is one entry of the commit history.
type OutputRecord struct {
	CommittedAt    time.Time     `json:"committed_at"`
	SessionID      string        `json:"session_id"`
	OwnerID        string        `json:"owner_id"`
	Source         string        `json:"source"`
	AppliedRuleIDs []int         `json:"applied_rule_ids"`
	Stats          ranking.Stats `json:"stats"`
	ID             int           `json:"id"`
	DeletedCount   int           `json:"deleted_count"`
}

// Location returns the sink location string for an output ID.
func Location(outputID int) string {
	return fmt.Sprintf("output/%d", outputID)
}

// WriteColors stores the committed rows of a session and returns the location of the
// new output. A session can be written only once.
func (s *SQLiteStorage) WriteColors(ctx context.Context, out session.Output) (string, error) {
	if err := validateContext(ctx); err != nil {
		return "", err
	}
	if err := validateOutput(out); err != nil {
		return "", err
	}

	ruleIDs, err := json.Marshal(out.AppliedRuleIDs)
	if err != nil {
		return "", fmt.Errorf("failed to encode rule IDs: %w", err)
	}

	var outputID int
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM color_outputs WHERE session_id = ?`, out.SessionID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check existing output: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: session %s was already committed", common.ErrDuplicateEntry, out.SessionID)
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO color_outputs (
				session_id, owner_id, source, total_rows, parent_rows, child_rows,
				unique_keys, deleted_count, applied_rule_ids, committed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, out.SessionID, out.OwnerID, out.Source, out.Stats.Total, out.Stats.Parents, out.Stats.Children,
			out.Stats.UniqueKeys, out.DeletedCount, string(ruleIDs), out.CommittedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert output: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get output ID: %w", err)
		}
		outputID = int(id)

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO committed_colors (
				output_id, position, message_id, security_key, as_of_date, rank_hint,
				price, is_parent, parent_id, child_count, attributes
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i, row := range out.Rows {
			attrs, err := encodeAttributes(row.Attributes)
			if err != nil {
				return fmt.Errorf("row %s: %w", row.ID, err)
			}
			if _, err := stmt.ExecContext(ctx,
				outputID, i, row.ID, row.SecurityKey, nullTime(row.AsOfDate), row.RankHint,
				nullPrice(row.Price), row.IsParent, nullString(row.ParentID), row.ChildCount, attrs,
			); err != nil {
				return fmt.Errorf("failed to insert row %s: %w", row.ID, err)
			}
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	return Location(outputID), nil
}

// ListOutputs returns the commit history, newest first. A non-positive limit returns
// everything.
func (s *SQLiteStorage) ListOutputs(ctx context.Context, limit int) ([]OutputRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, session_id, owner_id, source, total_rows, parent_rows, child_rows,
			unique_keys, deleted_count, applied_rule_ids, committed_at
		FROM color_outputs
		ORDER BY committed_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outputs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []OutputRecord
	for rows.Next() {
		var rec OutputRecord
		var ruleIDs string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.OwnerID, &rec.Source,
			&rec.Stats.Total, &rec.Stats.Parents, &rec.Stats.Children, &rec.Stats.UniqueKeys,
			&rec.DeletedCount, &ruleIDs, &rec.CommittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan output: %w", err)
		}
		if err := json.Unmarshal([]byte(ruleIDs), &rec.AppliedRuleIDs); err != nil {
			return nil, fmt.Errorf("%w: output %d has unreadable rule IDs: %w", common.ErrDatabaseCorrupted, rec.ID, err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outputs: %w", err)
	}

	return records, nil
}

// GetOutputRows returns the committed rows of an output in their committed order.
func (s *SQLiteStorage) GetOutputRows(ctx context.Context, outputID int) ([]model.RankedColor, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM color_outputs WHERE id = ?`, outputID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check output: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("output %d: %w", outputID, common.ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, security_key, as_of_date, rank_hint, price,
			is_parent, parent_id, child_count, attributes
		FROM committed_colors
		WHERE output_id = ?
		ORDER BY position
	`, outputID)
	if err != nil {
		return nil, fmt.Errorf("failed to query committed colors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.RankedColor
	for rows.Next() {
		var rc model.RankedColor
		var asOf sql.NullTime
		var price, parentID, attrs sql.NullString
		if err := rows.Scan(&rc.ID, &rc.SecurityKey, &asOf, &rc.RankHint, &price,
			&rc.IsParent, &parentID, &rc.ChildCount, &attrs); err != nil {
			return nil, fmt.Errorf("failed to scan committed color: %w", err)
		}

		if asOf.Valid {
			rc.AsOfDate = asOf.Time
		}
		rc.ParentID = parentID.String
		if price.Valid {
			d, err := decimal.NewFromString(price.String)
			if err != nil {
				return nil, fmt.Errorf("%w: row %s has price %q", common.ErrDatabaseCorrupted, rc.ID, price.String)
			}
			rc.Price = decimal.NewNullDecimal(d)
		}
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &rc.Attributes); err != nil {
				return nil, fmt.Errorf("%w: row %s has unreadable attributes: %w", common.ErrDatabaseCorrupted, rc.ID, err)
			}
		}

		result = append(result, rc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating committed colors: %w", err)
	}

	return result, nil
}

func encodeAttributes(attrs map[string]any) (sql.NullString, error) {
	if len(attrs) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode attributes: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullPrice(p decimal.NullDecimal) sql.NullString {
	if !p.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: p.Decimal.String(), Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
