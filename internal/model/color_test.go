package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColor_Field(t *testing.T) {
	color := Color{
		ID:          "MSG-1",
		SecurityKey: "912828XG0",
		AsOfDate:    time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		RankHint:    2,
		Price:       decimal.NewNullDecimal(decimal.RequireFromString("101.70")),
		Attributes: map[string]any{
			"Ticker": "T 2.5 05/30",
			"bid":    99.5,
			"desk":   nil,
		},
	}

	tests := []struct {
		name   string
		field  string
		want   string
		wantOK bool
	}{
		{name: "canonical id", field: "id", want: "MSG-1", wantOK: true},
		{name: "legacy message id", field: "MESSAGE_ID", want: "MSG-1", wantOK: true},
		{name: "cusip alias", field: "CUSIP", want: "912828XG0", wantOK: true},
		{name: "date alias", field: "date", want: "2025-01-10", wantOK: true},
		{name: "rank alias", field: "RANK", want: "2", wantOK: true},
		{name: "px alias keeps decimal text", field: "PX", want: "101.7", wantOK: true},
		{name: "attribute exact", field: "Ticker", want: "T 2.5 05/30", wantOK: true},
		{name: "attribute case insensitive", field: "TICKER", want: "T 2.5 05/30", wantOK: true},
		{name: "numeric attribute", field: "bid", want: "99.5", wantOK: true},
		{name: "nil attribute is absent", field: "desk", wantOK: false},
		{name: "unknown field", field: "sector", wantOK: false},
		{name: "blank field", field: "  ", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := color.Field(tt.field)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestColor_FieldMissingCoreValues(t *testing.T) {
	var color Color

	for _, field := range []string{FieldID, FieldSecurityKey, FieldAsOfDate, FieldRankHint, FieldPrice} {
		_, ok := color.Field(field)
		assert.False(t, ok, field)
	}

	// Ranks start at 1, so zero and negative hints read as unset.
	for _, hint := range []int{0, -3} {
		_, ok := Color{RankHint: hint}.Field("rank")
		assert.False(t, ok, hint)
	}
}

func TestColor_Clone(t *testing.T) {
	original := Color{ID: "1", Attributes: map[string]any{"ticker": "AAA"}}

	clone := original.Clone()
	clone.Attributes["ticker"] = "BBB"

	assert.Equal(t, "AAA", original.Attributes["ticker"])
	assert.Nil(t, Color{ID: "2"}.Clone().Attributes)
}

func TestColors(t *testing.T) {
	ranked := []RankedColor{
		{Color: Color{ID: "1", Attributes: map[string]any{"k": "v"}}, IsParent: true, ChildCount: 1},
		{Color: Color{ID: "2"}, ParentID: "1"},
	}

	colors := Colors(ranked)
	require.Len(t, colors, 2)
	assert.Equal(t, "1", colors[0].ID)

	colors[0].Attributes["k"] = "changed"
	assert.Equal(t, "v", ranked[0].Attributes["k"])
}

func TestColor_JSON(t *testing.T) {
	color := Color{
		ID:          "1",
		SecurityKey: "C1",
		AsOfDate:    time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		RankHint:    1,
		Price:       decimal.NewNullDecimal(decimal.RequireFromString("99.125")),
	}

	data, err := json.Marshal(RankedColor{Color: color, IsParent: true})
	require.NoError(t, err)

	var decoded RankedColor
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.IsParent)
	assert.Equal(t, "C1", decoded.SecurityKey)
	assert.True(t, decoded.Price.Valid)
	assert.True(t, decoded.Price.Decimal.Equal(color.Price.Decimal))
	assert.True(t, decoded.AsOfDate.Equal(color.AsOfDate))
}

func TestCanonicalField(t *testing.T) {
	tests := map[string]string{
		"MESSAGE_ID": FieldID,
		" Cusip ":    FieldSecurityKey,
		"DATE":       FieldAsOfDate,
		"RANK":       FieldRankHint,
		"px":         FieldPrice,
	}
	for header, want := range tests {
		got, ok := CanonicalField(header)
		assert.True(t, ok, header)
		assert.Equal(t, want, got, header)
	}

	_, ok := CanonicalField("TICKER")
	assert.False(t, ok)
}
