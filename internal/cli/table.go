package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/color-pulse/internal/model"
	"github.com/Veraticus/color-pulse/internal/ranking"
	"github.com/Veraticus/color-pulse/internal/session"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))

// Table collects rows and writes them as aligned columns.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends a row. Missing cells are left blank.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the header, a separator and every row to w.
func (t *Table) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if n := lipgloss.Width(row[i]); n > widths[i] {
				widths[i] = n
			}
		}
	}

	header := make([]string, len(t.headers))
	separator := make([]string, len(t.headers))
	for i, h := range t.headers {
		header[i] = headerStyle.Render(h)
		separator[i] = strings.Repeat("─", widths[i])
	}
	if _, err := fmt.Fprintln(tw, strings.Join(header, "\t")); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := fmt.Fprintln(tw, strings.Join(separator, "\t")); err != nil {
		return fmt.Errorf("failed to write separator: %w", err)
	}

	for _, row := range t.rows {
		cells := make([]string, len(t.headers))
		copy(cells, row)
		if _, err := fmt.Fprintln(tw, strings.Join(cells, "\t")); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return tw.Flush()
}

// RenderColors writes a ranked batch, one row per color, followed by any
// requested attribute columns. A limit of zero or less shows every row.
func RenderColors(w io.Writer, rows []model.RankedColor, attributes []string, limit int) error {
	headers := []string{"#", "ID", "CUSIP", "DATE", "RANK", "PX", "GROUP"}
	for _, attr := range attributes {
		headers = append(headers, strings.ToUpper(attr))
	}
	table := NewTable(headers...)

	shown := rows
	if limit > 0 && len(rows) > limit {
		shown = rows[:limit]
	}

	for i, r := range shown {
		cells := []string{
			strconv.Itoa(i + 1),
			r.ID,
			r.SecurityKey,
			r.AsOfDate.Format(model.DateLayout),
			strconv.Itoa(r.RankHint),
			formatPrice(r),
			formatGroup(r),
		}
		for _, attr := range attributes {
			v, _ := r.Field(attr)
			cells = append(cells, v)
		}
		table.AddRow(cells...)
	}

	if err := table.Render(w); err != nil {
		return err
	}
	if hidden := len(rows) - len(shown); hidden > 0 {
		if _, err := fmt.Fprintln(w, SubtleStyle.Render(fmt.Sprintf("… %d more", hidden))); err != nil {
			return err
		}
	}
	return nil
}

func formatPrice(r model.RankedColor) string {
	if !r.Price.Valid {
		return "-"
	}
	return r.Price.Decimal.String()
}

func formatGroup(r model.RankedColor) string {
	if r.IsParent {
		if r.ChildCount == 0 {
			return ParentStyle.Render("parent")
		}
		return ParentStyle.Render(fmt.Sprintf("parent (+%d)", r.ChildCount))
	}
	return ChildStyle.Render("└ " + r.ParentID)
}

// FormatStats renders batch statistics on one line.
func FormatStats(stats ranking.Stats) string {
	return fmt.Sprintf("%d colors · %d parents · %d children · %d securities",
		stats.Total, stats.Parents, stats.Children, stats.UniqueKeys)
}

// RenderSessions writes one row per session summary.
func RenderSessions(w io.Writer, sessions []session.Summary) error {
	table := NewTable("SESSION", "OWNER", "STATUS", "ROWS", "SOURCE", "UPDATED")
	for _, s := range sessions {
		table.AddRow(
			s.ID,
			s.OwnerID,
			formatStatus(s.Status),
			strconv.Itoa(s.Rows),
			s.Source,
			s.UpdatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	return table.Render(w)
}

func formatStatus(status session.Status) string {
	switch status {
	case session.StatusOpen:
		return SuccessStyle.Render(string(status))
	case session.StatusCommitting:
		return WarningStyle.Render(string(status))
	case session.StatusCommitted:
		return InfoStyle.Render(string(status))
	default:
		return SubtleStyle.Render(string(status))
	}
}

// RenderRules writes one row per rule with its conditions spelled out.
func RenderRules(w io.Writer, rules []model.Rule) error {
	table := NewTable("ID", "NAME", "ACTIVE", "CONDITIONS")
	for _, r := range rules {
		active := SuccessStyle.Render("yes")
		if !r.IsActive {
			active = SubtleStyle.Render("no")
		}
		table.AddRow(strconv.Itoa(r.ID), r.Name, active, DescribeRule(r))
	}
	return table.Render(w)
}

// DescribeRule spells out a rule's conditions, for example
// "where ticker contains GS and price > 100".
func DescribeRule(rule model.Rule) string {
	if len(rule.Conditions) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(rule.Conditions))
	for i, c := range rule.Conditions {
		join := string(c.JoinType)
		if i == 0 || join == "" {
			join = string(model.JoinWhere)
			if i > 0 {
				join = string(model.JoinAnd)
			}
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", join, c.Field, describeOperand(c)))
	}
	return strings.Join(parts, " ")
}

var operatorSymbols = map[model.Operator]string{
	model.OpEqualTo:            "=",
	model.OpNotEqualTo:         "!=",
	model.OpLessThan:           "<",
	model.OpGreaterThan:        ">",
	model.OpLessThanEqualTo:    "<=",
	model.OpGreaterThanEqualTo: ">=",
	model.OpContains:           "contains",
	model.OpNotContains:        "does not contain",
	model.OpStartsWith:         "starts with",
	model.OpEndsWith:           "ends with",
}

func describeOperand(c model.Condition) string {
	op := model.NormalizeOperator(c.Operator)
	if op == model.OpBetween {
		return fmt.Sprintf("between %s and %s", c.Value, c.Value2)
	}
	if symbol, ok := operatorSymbols[op]; ok {
		return fmt.Sprintf("%s %s", symbol, c.Value)
	}
	return fmt.Sprintf("%s %s", c.Operator, c.Value)
}

// RenderRuleLogs writes the audit trail of rule changes.
func RenderRuleLogs(w io.Writer, logs []model.RuleLog) error {
	table := NewTable("WHEN", "RULE", "ACTION", "BY", "DETAILS")
	for _, l := range logs {
		table.AddRow(
			l.CreatedAt.Local().Format(time.DateTime),
			l.RuleName,
			string(l.Action),
			l.Actor,
			l.Details,
		)
	}
	return table.Render(w)
}
