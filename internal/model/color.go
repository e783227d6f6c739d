// Package model defines the core data structures for the pulse application.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Canonical names of the core color fields as seen by rule conditions.
const (
	FieldID          = "id"
	FieldSecurityKey = "security_key"
	FieldAsOfDate    = "as_of_date"
	FieldRankHint    = "rank_hint"
	FieldPrice       = "price"
)

// DateLayout is the string form of AsOfDate used by rule conditions and exports.
const DateLayout = "2006-01-02"

// coreFieldAliases maps every accepted spelling of a core field (including the
// legacy spreadsheet column names) to its canonical name.
var coreFieldAliases = map[string]string{
	"id":           FieldID,
	"message_id":   FieldID,
	"security_key": FieldSecurityKey,
	"securitykey":  FieldSecurityKey,
	"cusip":        FieldSecurityKey,
	"as_of_date":   FieldAsOfDate,
	"asofdate":     FieldAsOfDate,
	"date":         FieldAsOfDate,
	"rank_hint":    FieldRankHint,
	"rankhint":     FieldRankHint,
	"rank":         FieldRankHint,
	"price":        FieldPrice,
	"px":           FieldPrice,
}

// CanonicalField resolves a field name or column header to its core field name.
// It reports false for anything that is not a core field.
func CanonicalField(name string) (string, bool) {
	canonical, ok := coreFieldAliases[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

// Color is a single broker price quote for a security.
type Color struct {
	AsOfDate    time.Time           `json:"as_of_date"`
	Attributes  map[string]any      `json:"attributes,omitempty"` // Additional columns (ticker, source, bias, bid, ask...)
	Price       decimal.NullDecimal `json:"price"`
	ID          string              `json:"id"`
	SecurityKey string              `json:"security_key"` // CUSIP
	RankHint    int                 `json:"rank_hint"`
}

// Clone returns a copy of the color that shares no mutable state with the receiver.
func (c Color) Clone() Color {
	if c.Attributes == nil {
		return c
	}
	attrs := make(map[string]any, len(c.Attributes))
	for k, v := range c.Attributes {
		attrs[k] = v
	}
	c.Attributes = attrs
	return c
}

// Field returns the string form of the named field and whether it is present.
// Core fields are matched by canonical name or alias, everything else is looked up
// case-insensitively in Attributes.
func (c Color) Field(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", false
	}

	switch coreFieldAliases[key] {
	case FieldID:
		return c.ID, c.ID != ""
	case FieldSecurityKey:
		return c.SecurityKey, c.SecurityKey != ""
	case FieldAsOfDate:
		if c.AsOfDate.IsZero() {
			return "", false
		}
		return c.AsOfDate.Format(DateLayout), true
	case FieldRankHint:
		if c.RankHint < 1 {
			return "", false
		}
		return strconv.Itoa(c.RankHint), true
	case FieldPrice:
		if !c.Price.Valid {
			return "", false
		}
		return c.Price.Decimal.String(), true
	}

	if v, ok := c.Attributes[name]; ok {
		return formatAttribute(v)
	}
	for k, v := range c.Attributes {
		if strings.EqualFold(k, key) {
			return formatAttribute(v)
		}
	}
	return "", false
}

// formatAttribute renders an attribute value as text. A nil value counts as absent.
func formatAttribute(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case decimal.Decimal:
		return val.String(), true
	case time.Time:
		return val.Format(DateLayout), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return fmt.Sprint(val), true
	}
}

// RankedColor is a color annotated with its position in the parent/child hierarchy
// of its security group.
type RankedColor struct {
	ParentID string `json:"parent_id,omitempty"`
	Color
	ChildCount int  `json:"child_count"`
	IsParent   bool `json:"is_parent"`
}

// Colors strips the hierarchy annotations, returning fresh copies of the colors.
func Colors(ranked []RankedColor) []Color {
	out := make([]Color, len(ranked))
	for i, r := range ranked {
		out[i] = r.Color.Clone()
	}
	return out
}
