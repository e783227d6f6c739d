package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Rule is a named exclusion rule. A color matching the rule's conditions is removed
// from the working set when the rule is applied.
type Rule struct {
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Name       string      `json:"name"`
	Conditions []Condition `json:"conditions"`
	ID         int         `json:"id"`
	IsActive   bool        `json:"is_active"`
}

// Condition is one predicate of a rule.
type Condition struct {
	Field    string   `json:"column"`
	Operator Operator `json:"operator"`
	Value    Scalar   `json:"value"`
	Value2   Scalar   `json:"value2,omitempty"` // Upper bound, between only
	JoinType JoinType `json:"type"`
}

// JoinType combines a condition with the result of the conditions before it.
type JoinType string

// Join type constants.
const (
	JoinWhere JoinType = "where"
	JoinAnd   JoinType = "and"
	JoinOr    JoinType = "or"
)

// Operator is the comparison a condition performs.
type Operator string

// Operator constants.
const (
	OpEqualTo            Operator = "equal_to"
	OpNotEqualTo         Operator = "not_equal_to"
	OpLessThan           Operator = "less_than"
	OpGreaterThan        Operator = "greater_than"
	OpLessThanEqualTo    Operator = "less_than_equal_to"
	OpGreaterThanEqualTo Operator = "greater_than_equal_to"
	OpBetween            Operator = "between"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "not_contains"
	OpStartsWith         Operator = "starts_with"
	OpEndsWith           Operator = "ends_with"
)

// operatorAliases maps the spellings used by rule editors and older rule data onto
// the canonical operators.
var operatorAliases = map[string]Operator{
	"equal to":              OpEqualTo,
	"is equal to":           OpEqualTo,
	"equals":                OpEqualTo,
	"not equal to":          OpNotEqualTo,
	"is not equal to":       OpNotEqualTo,
	"not_equals":            OpNotEqualTo,
	"less than":             OpLessThan,
	"is less than":          OpLessThan,
	"greater than":          OpGreaterThan,
	"is greater than":       OpGreaterThan,
	"less than equal to":    OpLessThanEqualTo,
	"less_or_equal":         OpLessThanEqualTo,
	"greater than equal to": OpGreaterThanEqualTo,
	"greater_or_equal":      OpGreaterThanEqualTo,
	"starts with":           OpStartsWith,
	"ends with":             OpEndsWith,
	"does not contain":      OpNotContains,
}

// NormalizeOperator maps an operator spelling onto its canonical form. Unrecognized
// spellings are returned lowercased but otherwise untouched.
func NormalizeOperator(op Operator) Operator {
	key := strings.ToLower(strings.TrimSpace(string(op)))
	if canonical, ok := operatorAliases[key]; ok {
		return canonical
	}
	return Operator(key)
}

// IsKnown reports whether the operator (after normalization) is supported.
func (o Operator) IsKnown() bool {
	switch NormalizeOperator(o) {
	case OpEqualTo, OpNotEqualTo, OpLessThan, OpGreaterThan,
		OpLessThanEqualTo, OpGreaterThanEqualTo, OpBetween,
		OpContains, OpNotContains, OpStartsWith, OpEndsWith:
		return true
	}
	return false
}

// Scalar is a condition operand. It is held as text and accepts JSON strings,
// numbers and booleans.
type Scalar string

// String returns the operand text.
func (s Scalar) String() string {
	return string(s)
}

// IsEmpty reports whether the operand is blank.
func (s Scalar) IsEmpty() bool {
	return strings.TrimSpace(string(s)) == ""
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}

	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("invalid scalar: %w", err)
		}
		*s = Scalar(str)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*s = Scalar(num.String())
		return nil
	}

	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if b {
			*s = "true"
		} else {
			*s = "false"
		}
		return nil
	}

	return fmt.Errorf("invalid scalar: %s", string(data))
}

// RuleAction is the kind of change recorded in the rule audit log.
type RuleAction string

// Rule audit actions.
const (
	RuleActionCreated RuleAction = "created"
	RuleActionUpdated RuleAction = "updated"
	RuleActionDeleted RuleAction = "deleted"
	RuleActionToggled RuleAction = "toggled"
	RuleActionApplied RuleAction = "applied"
)

// RuleLog is one entry of the rule audit log.
type RuleLog struct {
	CreatedAt time.Time  `json:"created_at"`
	RuleName  string     `json:"rule_name"`
	Action    RuleAction `json:"action"`
	Details   string     `json:"details,omitempty"`
	Actor     string     `json:"actor"`
	ID        int        `json:"id"`
	RuleID    int        `json:"rule_id"`
}
