// Package rules evaluates exclusion rules against colors.
package rules

import (
	"log/slog"
	"strings"

	"github.com/Veraticus/color-pulse/internal/model"
	"github.com/shopspring/decimal"
)

// operatorFunc compares the string form of a field against a condition's operands.
type operatorFunc func(fieldValue string, cond model.Condition) bool

// operators is the dispatch table for supported operators. Anything missing from it
// evaluates to false.
var operators = map[model.Operator]operatorFunc{
	model.OpEqualTo:            opEqualTo,
	model.OpNotEqualTo:         opNotEqualTo,
	model.OpLessThan:           numericCompare(func(c int) bool { return c < 0 }),
	model.OpGreaterThan:        numericCompare(func(c int) bool { return c > 0 }),
	model.OpLessThanEqualTo:    numericCompare(func(c int) bool { return c <= 0 }),
	model.OpGreaterThanEqualTo: numericCompare(func(c int) bool { return c >= 0 }),
	model.OpBetween:            opBetween,
	model.OpContains:           opContains,
	model.OpNotContains:        opNotContains,
	model.OpStartsWith:         opStartsWith,
	model.OpEndsWith:           opEndsWith,
}

// EvaluateCondition reports whether a single condition holds for the color.
// A condition on a missing field, with an unsupported operator, or with operands
// that cannot be compared is false.
func EvaluateCondition(cond model.Condition, row model.Color) bool {
	fieldValue, ok := row.Field(cond.Field)
	if !ok {
		return false
	}

	fn, ok := operators[model.NormalizeOperator(cond.Operator)]
	if !ok {
		slog.Debug("Condition has unsupported operator",
			"column", cond.Field,
			"operator", string(cond.Operator),
			"row_id", row.ID)
		return false
	}

	return fn(fieldValue, cond)
}

// parseNumber parses s as a decimal, ignoring surrounding whitespace.
func parseNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// equalValues compares numerically when both sides are numbers, otherwise as
// case-insensitive text.
func equalValues(fieldValue, operand string) bool {
	if a, ok := parseNumber(fieldValue); ok {
		if b, ok := parseNumber(operand); ok {
			return a.Equal(b)
		}
	}
	return strings.EqualFold(fieldValue, operand)
}

func opEqualTo(fieldValue string, cond model.Condition) bool {
	return equalValues(fieldValue, cond.Value.String())
}

func opNotEqualTo(fieldValue string, cond model.Condition) bool {
	return !equalValues(fieldValue, cond.Value.String())
}

func numericCompare(accept func(int) bool) operatorFunc {
	return func(fieldValue string, cond model.Condition) bool {
		a, ok := parseNumber(fieldValue)
		if !ok {
			return false
		}
		b, ok := parseNumber(cond.Value.String())
		if !ok {
			return false
		}
		return accept(a.Cmp(b))
	}
}

func opBetween(fieldValue string, cond model.Condition) bool {
	if cond.Value.IsEmpty() || cond.Value2.IsEmpty() {
		return false
	}
	v, ok := parseNumber(fieldValue)
	if !ok {
		return false
	}
	lo, ok := parseNumber(cond.Value.String())
	if !ok {
		return false
	}
	hi, ok := parseNumber(cond.Value2.String())
	if !ok {
		return false
	}
	return lo.LessThanOrEqual(v) && v.LessThanOrEqual(hi)
}

func opContains(fieldValue string, cond model.Condition) bool {
	return strings.Contains(strings.ToLower(fieldValue), strings.ToLower(cond.Value.String()))
}

func opNotContains(fieldValue string, cond model.Condition) bool {
	return !opContains(fieldValue, cond)
}

func opStartsWith(fieldValue string, cond model.Condition) bool {
	return strings.HasPrefix(strings.ToLower(fieldValue), strings.ToLower(cond.Value.String()))
}

func opEndsWith(fieldValue string, cond model.Condition) bool {
	return strings.HasSuffix(strings.ToLower(fieldValue), strings.ToLower(cond.Value.String()))
}
