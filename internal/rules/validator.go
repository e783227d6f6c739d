package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/color-pulse/internal/common"
	"github.com/Veraticus/color-pulse/internal/model"
)

// ErrInvalidRule is returned when a rule definition is structurally unusable.
var ErrInvalidRule = errors.New("invalid rule")

// Validate checks the structure of a rule before it is stored. Unsupported
// operators are tolerated here; they simply never match at evaluation time.
func Validate(rule model.Rule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if len(rule.Conditions) == 0 {
		return fmt.Errorf("%w: rule %q has no conditions", ErrInvalidRule, rule.Name)
	}

	for i, cond := range rule.Conditions {
		join := normalizeJoin(cond.JoinType)
		switch {
		case i == 0 && join != model.JoinWhere:
			return fmt.Errorf("%w: first condition must be %q, got %q", ErrInvalidRule, model.JoinWhere, cond.JoinType)
		case i > 0 && join == model.JoinWhere:
			return fmt.Errorf("%w: condition %d: %q is only allowed first", ErrInvalidRule, i+1, model.JoinWhere)
		case i > 0 && join != model.JoinAnd && join != model.JoinOr:
			return fmt.Errorf("%w: condition %d: unknown join type %q", ErrInvalidRule, i+1, cond.JoinType)
		}

		if strings.TrimSpace(cond.Field) == "" {
			return fmt.Errorf("%w: condition %d: column is required", ErrInvalidRule, i+1)
		}
		if model.NormalizeOperator(cond.Operator) == model.OpBetween && (cond.Value.IsEmpty() || cond.Value2.IsEmpty()) {
			return fmt.Errorf("%w: condition %d: between requires value and value2", ErrInvalidRule, i+1)
		}
	}

	return nil
}

// UnknownOperators lists the operators in the rule that evaluation does not support.
func UnknownOperators(rule model.Rule) []string {
	var unknown []string
	for _, cond := range rule.Conditions {
		if !cond.Operator.IsKnown() {
			unknown = append(unknown, string(cond.Operator))
		}
	}
	return unknown
}

// Lint reports conditions that will silently never match. The returned error wraps
// common.ErrMalformedCondition and is meant as a warning for rule authors.
func Lint(rule model.Rule) error {
	unknown := UnknownOperators(rule)
	if len(unknown) == 0 {
		return nil
	}
	return fmt.Errorf("%w: rule %q uses unsupported operators: %s",
		common.ErrMalformedCondition, rule.Name, strings.Join(unknown, ", "))
}
