package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/color-pulse/internal/common"
	"github.com/Veraticus/color-pulse/internal/model"
)

const ruleColumns = `id, name, conditions, is_active, created_at, updated_at`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateRule stores a new rule and records it in the audit log. Rule names are
// unique, ignoring case.
func (s *SQLiteStorage) CreateRule(ctx context.Context, rule *model.Rule, actor string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}

	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkRuleName(ctx, tx, rule.Name, 0); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO color_rules (name, conditions, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, strings.TrimSpace(rule.Name), string(conditions), rule.IsActive, now, now)
		if err != nil {
			return fmt.Errorf("failed to create rule: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get rule ID: %w", err)
		}

		rule.ID = int(id)
		rule.Name = strings.TrimSpace(rule.Name)
		rule.CreatedAt = now
		rule.UpdatedAt = now

		return insertRuleLog(ctx, tx, rule.ID, rule.Name, model.RuleActionCreated, string(conditions), actor, now)
	})
}

// GetRule retrieves a rule by ID.
func (s *SQLiteStorage) GetRule(ctx context.Context, id int) (*model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getRule(ctx, s.db, id)
}

// GetRuleByName retrieves a rule by name, ignoring case.
func (s *SQLiteStorage) GetRuleByName(ctx context.Context, name string) (*model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM color_rules WHERE name = ? COLLATE NOCASE`,
		strings.TrimSpace(name))
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %q: %w", name, common.ErrNotFound)
	}
	return rule, err
}

// ListRules returns every rule ordered by ID.
func (s *SQLiteStorage) ListRules(ctx context.Context) ([]model.Rule, error) {
	return s.listRules(ctx, `SELECT `+ruleColumns+` FROM color_rules ORDER BY id`)
}

// GetActiveRules returns the active rules ordered by ID.
func (s *SQLiteStorage) GetActiveRules(ctx context.Context) ([]model.Rule, error) {
	return s.listRules(ctx, `SELECT `+ruleColumns+` FROM color_rules WHERE is_active = 1 ORDER BY id`)
}

func (s *SQLiteStorage) listRules(ctx context.Context, query string) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return result, nil
}

// UpdateRule replaces the name, conditions and activation state of a rule.
func (s *SQLiteStorage) UpdateRule(ctx context.Context, rule *model.Rule, actor string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}

	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkRuleName(ctx, tx, rule.Name, rule.ID); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE color_rules
			SET name = ?, conditions = ?, is_active = ?, updated_at = ?
			WHERE id = ?
		`, strings.TrimSpace(rule.Name), string(conditions), rule.IsActive, now, rule.ID)
		if err != nil {
			return fmt.Errorf("failed to update rule: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("rule %d: %w", rule.ID, common.ErrNotFound)
		}

		rule.Name = strings.TrimSpace(rule.Name)
		rule.UpdatedAt = now

		return insertRuleLog(ctx, tx, rule.ID, rule.Name, model.RuleActionUpdated, string(conditions), actor, now)
	})
}

// DeleteRule removes a rule. The audit log keeps its history.
func (s *SQLiteStorage) DeleteRule(ctx context.Context, id int, actor string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rule, err := getRule(ctx, tx, id)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM color_rules WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete rule: %w", err)
		}

		return insertRuleLog(ctx, tx, rule.ID, rule.Name, model.RuleActionDeleted, "", actor, now)
	})
}

// ToggleRule flips the activation state of a rule and returns the new state.
func (s *SQLiteStorage) ToggleRule(ctx context.Context, id int, actor string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}

	var active bool
	now := s.now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rule, err := getRule(ctx, tx, id)
		if err != nil {
			return err
		}
		active = !rule.IsActive

		if _, err := tx.ExecContext(ctx,
			`UPDATE color_rules SET is_active = ?, updated_at = ? WHERE id = ?`,
			active, now, id); err != nil {
			return fmt.Errorf("failed to toggle rule: %w", err)
		}

		details := "deactivated"
		if active {
			details = "activated"
		}
		return insertRuleLog(ctx, tx, rule.ID, rule.Name, model.RuleActionToggled, details, actor, now)
	})
	return active, err
}

// RecordRuleApplication logs how many rows each rule excluded from a session.
func (s *SQLiteStorage) RecordRuleApplication(ctx context.Context, sessionID string, perRule map[int]int, actor string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(sessionID, "sessionID"); err != nil {
		return err
	}

	ids := make([]int, 0, len(perRule))
	for id := range perRule {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			rule, err := getRule(ctx, tx, id)
			if err != nil {
				return err
			}
			details := fmt.Sprintf("session %s: excluded %d rows", sessionID, perRule[id])
			if err := insertRuleLog(ctx, tx, id, rule.Name, model.RuleActionApplied, details, actor, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRuleLogs returns audit log entries, newest first. A ruleID of zero returns the
// entries of every rule. A non-positive limit returns everything.
func (s *SQLiteStorage) GetRuleLogs(ctx context.Context, ruleID, limit int) ([]model.RuleLog, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT id, rule_id, rule_name, action, details, actor, created_at FROM rule_logs`
	var args []any
	if ruleID > 0 {
		query += ` WHERE rule_id = ?`
		args = append(args, ruleID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []model.RuleLog
	for rows.Next() {
		var entry model.RuleLog
		var details sql.NullString
		if err := rows.Scan(&entry.ID, &entry.RuleID, &entry.RuleName, &entry.Action,
			&details, &entry.Actor, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule log: %w", err)
		}
		entry.Details = details.String
		logs = append(logs, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule logs: %w", err)
	}

	return logs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*model.Rule, error) {
	var rule model.Rule
	var conditions string
	if err := row.Scan(&rule.ID, &rule.Name, &conditions, &rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("%w: rule %d has unreadable conditions: %w", common.ErrDatabaseCorrupted, rule.ID, err)
	}

	return &rule, nil
}

func getRule(ctx context.Context, q queryer, id int) (*model.Rule, error) {
	row := q.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM color_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
	}
	return rule, err
}

// checkRuleName rejects a name already used by a rule other than exceptID.
func checkRuleName(ctx context.Context, q queryer, name string, exceptID int) error {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM color_rules WHERE name = ? COLLATE NOCASE AND id != ?`,
		strings.TrimSpace(name), exceptID).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check rule name: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: rule named %q already exists", common.ErrDuplicateEntry, name)
	}
	return nil
}

func insertRuleLog(ctx context.Context, q queryer, ruleID int, ruleName string, action model.RuleAction, details, actor string, at time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO rule_logs (rule_id, rule_name, action, details, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ruleID, ruleName, string(action), details, actor, at)
	if err != nil {
		return fmt.Errorf("failed to write rule log: %w", err)
	}
	return nil
}
