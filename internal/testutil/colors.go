// Package testutil provides shared fixtures for pulse tests: color batches, rules
// and a migrated SQLite database.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/color-pulse/internal/model"
)

// Date parses a YYYY-MM-DD date or fails the test.
func Date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(model.DateLayout, s)
	if err != nil {
		t.Fatalf("invalid fixture date %q: %v", s, err)
	}
	return d
}

// Price returns a valid nullable decimal for the given text or fails the test.
func Price(t *testing.T, s string) decimal.NullDecimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("invalid fixture price %q: %v", s, err)
	}
	return decimal.NewNullDecimal(d)
}

// ColorBuilder assembles a batch of colors for a test.
//
// Example:
//
//	rows := testutil.NewColorBuilder(t).
//		Add("1", "C1", "2025-01-10", 1, "100").
//		Add("2", "C1", "2025-01-09", 1, "99").
//		Build()
type ColorBuilder struct {
	t    *testing.T
	rows []model.Color
}

// NewColorBuilder starts an empty batch.
func NewColorBuilder(t *testing.T) *ColorBuilder {
	t.Helper()
	return &ColorBuilder{t: t}
}

// Add appends a color. An empty price leaves the price unset.
func (b *ColorBuilder) Add(id, securityKey, date string, rank int, price string) *ColorBuilder {
	b.t.Helper()
	c := model.Color{
		ID:          id,
		SecurityKey: securityKey,
		AsOfDate:    Date(b.t, date),
		RankHint:    rank,
	}
	if price != "" {
		c.Price = Price(b.t, price)
	}
	b.rows = append(b.rows, c)
	return b
}

// With sets an attribute on the most recently added color.
func (b *ColorBuilder) With(key string, value any) *ColorBuilder {
	b.t.Helper()
	if len(b.rows) == 0 {
		b.t.Fatalf("With(%q) called before Add", key)
	}
	last := &b.rows[len(b.rows)-1]
	if last.Attributes == nil {
		last.Attributes = make(map[string]any)
	}
	last.Attributes[key] = value
	return b
}

// Build returns the batch.
func (b *ColorBuilder) Build() []model.Color {
	out := make([]model.Color, len(b.rows))
	for i, c := range b.rows {
		out[i] = c.Clone()
	}
	return out
}

// SampleColors returns a small mixed batch: two securities with several quotes each,
// one singleton and one color without a security key.
func SampleColors(t *testing.T) []model.Color {
	t.Helper()
	return NewColorBuilder(t).
		Add("M1", "912828XG0", "2025-01-10", 1, "99.50").With("ticker", "T 2.5 05/30").With("source", "BrokerA").
		Add("M2", "912828XG0", "2025-01-10", 2, "99.25").With("ticker", "T 2.5 05/30").With("source", "BrokerB").
		Add("M3", "38141GXZ2", "2025-01-09", 1, "101.70").With("ticker", "GS 4.25").With("source", "BrokerA").
		Add("M4", "912828XG0", "2025-01-08", 1, "98.00").With("ticker", "T 2.5 05/30").With("source", "BrokerC").
		Add("M5", "38141GXZ2", "2025-01-09", 3, "").With("ticker", "GS 4.25").With("source", "BrokerC").
		Add("M6", "", "2025-01-07", 1, "100").With("ticker", "UNKNOWN").
		Build()
}

// NewRule builds a rule from (join, column, operator, value) quadruples.
func NewRule(t *testing.T, id int, name string, conds ...string) model.Rule {
	t.Helper()
	if len(conds)%4 != 0 {
		t.Fatalf("NewRule(%q): conditions must come in groups of four, got %d values", name, len(conds))
	}

	rule := model.Rule{ID: id, Name: name, IsActive: true}
	for i := 0; i < len(conds); i += 4 {
		rule.Conditions = append(rule.Conditions, model.Condition{
			JoinType: model.JoinType(conds[i]),
			Field:    conds[i+1],
			Operator: model.Operator(conds[i+2]),
			Value:    model.Scalar(conds[i+3]),
		})
	}
	return rule
}

// IDs returns the IDs of the ranked colors in order.
func IDs(rows []model.RankedColor) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

// ManualIDs returns n synthetic row IDs the way the importer generates them.
func ManualIDs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("MANUAL_%d", i+1)
	}
	return out
}
