package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/color-pulse/internal/cli"
	"github.com/Veraticus/color-pulse/internal/common"
	"github.com/Veraticus/color-pulse/internal/model"
	"github.com/Veraticus/color-pulse/internal/ranking"
	"github.com/Veraticus/color-pulse/internal/rules"
	"github.com/Veraticus/color-pulse/internal/sheet"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage exclusion rules",
		Long: `List, add, edit, toggle and delete the rules that exclude colors from a
session. Conditions are written as "[join] column operator value", for example:

  pulse rules add "Drop GS" --cond "where ticker starts_with GS" --cond "and price > 100"

Conditions combine strictly left to right with no precedence.`,
	}

	cmd.AddCommand(listRulesCmd())
	cmd.AddCommand(addRuleCmd())
	cmd.AddCommand(editRuleCmd())
	cmd.AddCommand(deleteRuleCmd())
	cmd.AddCommand(toggleRuleCmd())
	cmd.AddCommand(testRuleCmd())
	cmd.AddCommand(ruleLogCmd())

	return cmd
}

func listRulesCmd() *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			list := a.db.ListRules
			if activeOnly {
				list = a.db.GetActiveRules
			}
			ruleSet, err := list(ctx)
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(ruleSet) == 0 {
				fmt.Fprintln(out, cli.InfoStyle.Render("No rules found. Use 'pulse rules add' to create one."))
				return nil
			}
			return cli.RenderRules(out, ruleSet)
		},
	}

	cmd.Flags().BoolVar(&activeOnly, "active", false, "only show active rules")
	return cmd
}

func addRuleCmd() *cobra.Command {
	var (
		conds    []string
		inactive bool
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a new rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			conditions, err := parseConditions(conds)
			if err != nil {
				return err
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rule := model.Rule{Name: args[0], Conditions: conditions, IsActive: !inactive}
			if err := a.db.CreateRule(ctx, &rule, a.cfg.Owner); err != nil {
				if errors.Is(err, common.ErrDuplicateEntry) {
					return common.NewUserError(fmt.Sprintf("a rule named %q already exists", rule.Name), err)
				}
				return fmt.Errorf("failed to create rule: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Created rule %d: %s", rule.ID, rule.Name)))
			fmt.Fprintln(out, cli.SubtleStyle.Render(cli.DescribeRule(rule)))
			warnUnsupported(out, rule)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&conds, "cond", nil, `condition, e.g. "where ticker contains GS" (repeatable)`)
	cmd.Flags().BoolVar(&inactive, "inactive", false, "create the rule switched off")
	_ = cmd.MarkFlagRequired("cond")
	return cmd
}

func editRuleCmd() *cobra.Command {
	var (
		name  string
		conds []string
	)

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Rename a rule or replace its conditions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if name == "" && len(conds) == 0 {
				return common.NewUserError("nothing to change: pass --name or --cond", nil)
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rule, err := a.db.GetRule(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to load rule: %w", err)
			}
			if name != "" {
				rule.Name = name
			}
			if len(conds) > 0 {
				if rule.Conditions, err = parseConditions(conds); err != nil {
					return err
				}
			}

			if err := a.db.UpdateRule(ctx, rule, a.cfg.Owner); err != nil {
				return fmt.Errorf("failed to update rule: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Updated rule %d: %s", rule.ID, rule.Name)))
			fmt.Fprintln(out, cli.SubtleStyle.Render(cli.DescribeRule(*rule)))
			warnUnsupported(out, *rule)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "new rule name")
	cmd.Flags().StringArrayVar(&conds, "cond", nil, "replacement condition (repeatable)")
	return cmd
}

func deleteRuleCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rule, err := a.db.GetRule(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to load rule: %w", err)
			}

			out := cmd.OutOrStdout()
			if !yes {
				ok, err := cli.Confirm(ctx, cli.NewNonBlockingReader(cmd.InOrStdin()), out,
					fmt.Sprintf("Delete rule %q?", rule.Name))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, cli.FormatInfo("Nothing deleted."))
					return nil
				}
			}

			if err := a.db.DeleteRule(ctx, id, a.cfg.Owner); err != nil {
				return fmt.Errorf("failed to delete rule: %w", err)
			}
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Deleted rule %d: %s", id, rule.Name)))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func toggleRuleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Switch a rule on or off",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			active, err := a.db.ToggleRule(ctx, id, a.cfg.Owner)
			if err != nil {
				return fmt.Errorf("failed to toggle rule: %w", err)
			}

			state := "inactive"
			if active {
				state = "active"
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Rule %d is now %s", id, state)))
			return nil
		},
	}
}

func testRuleCmd() *cobra.Command {
	var sheetName string

	cmd := &cobra.Command{
		Use:   "test <id> <workbook>",
		Short: "Show which colors of a workbook a rule would exclude",
		Long: `Read a workbook and list the colors the rule matches, without creating a
session or changing anything.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rule, err := a.db.GetRule(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to load rule: %w", err)
			}

			if sheetName == "" {
				sheetName = a.cfg.ImportSheet
			}
			result, err := sheet.NewReader(sheetName).ReadFile(ctx, args[1])
			if err != nil {
				return fmt.Errorf("failed to read workbook: %w", err)
			}

			out := cmd.OutOrStdout()
			matched := rules.Matches(*rule, result.Colors)
			fmt.Fprintln(out, cli.FormatTitle(fmt.Sprintf("Rule %d: %s", rule.ID, rule.Name)))
			fmt.Fprintln(out, cli.SubtleStyle.Render(cli.DescribeRule(*rule)))
			warnUnsupported(out, *rule)

			if len(matched) == 0 {
				fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("No colors matched out of %d.", len(result.Colors))))
				return nil
			}
			fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("%d of %d colors would be excluded:", len(matched), len(result.Colors))))
			return cli.RenderColors(out, ranking.RankAndGroup(matched), conditionFields(*rule), 0)
		},
	}

	cmd.Flags().StringVar(&sheetName, "sheet", "", "worksheet to read (default: first sheet)")
	return cmd
}

func ruleLogCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log [id]",
		Short: "Show the rule audit log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var id int
			if len(args) == 1 {
				var err error
				if id, err = parseID(args[0]); err != nil {
					return err
				}
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			logs, err := a.db.GetRuleLogs(ctx, id, limit)
			if err != nil {
				return fmt.Errorf("failed to read rule log: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(logs) == 0 {
				fmt.Fprintln(out, cli.InfoStyle.Render("No rule changes recorded."))
				return nil
			}
			return cli.RenderRuleLogs(out, logs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of entries (0 for all)")
	return cmd
}

// warnUnsupported points out conditions that can never match.
func warnUnsupported(out io.Writer, rule model.Rule) {
	if err := rules.Lint(rule); err != nil {
		slog.Debug("rule has unsupported operators", "rule", rule.Name, "error", err)
		fmt.Fprintln(out, cli.FormatWarning(err.Error()))
	}
}

// conditionFields returns the non-core columns a rule looks at, for display.
func conditionFields(rule model.Rule) []string {
	seen := make(map[string]bool)
	var fields []string
	for _, c := range rule.Conditions {
		name := strings.ToLower(strings.TrimSpace(c.Field))
		if _, core := model.CanonicalField(name); core || seen[name] {
			continue
		}
		seen[name] = true
		fields = append(fields, name)
	}
	return fields
}

var symbolOperators = map[string]model.Operator{
	"=":  model.OpEqualTo,
	"==": model.OpEqualTo,
	"!=": model.OpNotEqualTo,
	"<>": model.OpNotEqualTo,
	"<":  model.OpLessThan,
	">":  model.OpGreaterThan,
	"<=": model.OpLessThanEqualTo,
	">=": model.OpGreaterThanEqualTo,
}

// parseConditions turns --cond flag values into rule conditions. The first
// condition defaults to "where", later ones to "and".
func parseConditions(values []string) ([]model.Condition, error) {
	if len(values) == 0 {
		return nil, common.NewUserError("at least one --cond is required", nil)
	}

	conditions := make([]model.Condition, 0, len(values))
	for i, value := range values {
		cond, err := parseCondition(value, i == 0)
		if err != nil {
			return nil, common.NewUserError(fmt.Sprintf("invalid condition %q", value), err)
		}
		conditions = append(conditions, cond)
	}
	return conditions, nil
}

func parseCondition(s string, first bool) (model.Condition, error) {
	tokens := strings.Fields(s)

	join := model.JoinAnd
	if first {
		join = model.JoinWhere
	}
	if len(tokens) > 0 {
		switch model.JoinType(strings.ToLower(tokens[0])) {
		case model.JoinWhere, model.JoinAnd, model.JoinOr:
			join = model.JoinType(strings.ToLower(tokens[0]))
			tokens = tokens[1:]
		}
	}

	if len(tokens) < 3 {
		return model.Condition{}, fmt.Errorf("expected column, operator and value")
	}

	op, ok := symbolOperators[tokens[1]]
	if !ok {
		op = model.NormalizeOperator(model.Operator(tokens[1]))
	}

	cond := model.Condition{JoinType: join, Field: tokens[0], Operator: op}
	operands := tokens[2:]
	if op == model.OpBetween {
		if len(operands) == 3 && strings.EqualFold(operands[1], "and") {
			operands = []string{operands[0], operands[2]}
		}
		if len(operands) != 2 {
			return model.Condition{}, fmt.Errorf("between needs a lower and an upper bound")
		}
		cond.Value = model.Scalar(operands[0])
		cond.Value2 = model.Scalar(operands[1])
		return cond, nil
	}

	cond.Value = model.Scalar(strings.Join(operands, " "))
	return cond, nil
}
