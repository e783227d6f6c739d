package rules

import (
	"log/slog"
	"strings"

	"github.com/Veraticus/color-pulse/internal/model"
)

// Result is the outcome of applying a set of rules to a batch of colors.
type Result struct {
	PerRuleExcluded map[int]int // Rule ID -> rows it excluded first
	Kept            []model.Color
	Excluded        []model.Color
	ExcludedCount   int
	RulesApplied    int
	OriginalCount   int
}

// AppliesTo reports whether the rule matches the color.
//
// Conditions are folded strictly left to right: the first seeds the result, each
// "and" condition ANDs into it and each "or" condition ORs into it. There is no
// operator precedence, so [A, or B, and C] means (A || B) && C. A "where" after the
// first position restarts the chain. A rule without conditions matches nothing.
func AppliesTo(rule model.Rule, row model.Color) bool {
	if len(rule.Conditions) == 0 {
		return false
	}

	var result bool
	for i, cond := range rule.Conditions {
		match := EvaluateCondition(cond, row)
		if i == 0 {
			result = match
			continue
		}

		switch normalizeJoin(cond.JoinType) {
		case model.JoinAnd:
			result = result && match
		case model.JoinOr:
			result = result || match
		case model.JoinWhere:
			result = match
		}
	}

	return result
}

// Apply removes every color matched by at least one of the given rules. Rules are
// evaluated in order and an excluded color is credited to the first rule that
// matched it. Activation state is ignored: callers decide which rules to pass.
func Apply(ruleSet []model.Rule, rows []model.Color) Result {
	result := Result{
		Kept:            make([]model.Color, 0, len(rows)),
		PerRuleExcluded: make(map[int]int, len(ruleSet)),
		RulesApplied:    len(ruleSet),
		OriginalCount:   len(rows),
	}

	if len(ruleSet) == 0 {
		result.Kept = append(result.Kept, rows...)
		return result
	}

	for _, rule := range ruleSet {
		if unknown := UnknownOperators(rule); len(unknown) > 0 {
			slog.Warn("Rule has unsupported operators; affected conditions never match",
				"rule_id", rule.ID,
				"rule", rule.Name,
				"operators", unknown)
		}
		result.PerRuleExcluded[rule.ID] = 0
	}

	for _, row := range rows {
		excluded := false
		for _, rule := range ruleSet {
			if AppliesTo(rule, row) {
				result.PerRuleExcluded[rule.ID]++
				excluded = true
				break
			}
		}

		if excluded {
			result.Excluded = append(result.Excluded, row)
			continue
		}
		result.Kept = append(result.Kept, row)
	}

	result.ExcludedCount = len(result.Excluded)

	slog.Debug("Applied exclusion rules",
		"rules", result.RulesApplied,
		"original", result.OriginalCount,
		"excluded", result.ExcludedCount,
		"remaining", len(result.Kept))

	return result
}

// Matches returns the colors the rule would exclude on its own.
func Matches(rule model.Rule, rows []model.Color) []model.Color {
	var matched []model.Color
	for _, row := range rows {
		if AppliesTo(rule, row) {
			matched = append(matched, row)
		}
	}
	return matched
}

func normalizeJoin(j model.JoinType) model.JoinType {
	return model.JoinType(strings.ToLower(strings.TrimSpace(string(j))))
}
