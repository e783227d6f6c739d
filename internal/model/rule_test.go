package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeOperator(t *testing.T) {
	tests := []struct {
		in   Operator
		want Operator
	}{
		{in: "equal_to", want: OpEqualTo},
		{in: "Equal To", want: OpEqualTo},
		{in: " equals ", want: OpEqualTo},
		{in: "is greater than", want: OpGreaterThan},
		{in: "greater_or_equal", want: OpGreaterThanEqualTo},
		{in: "less_or_equal", want: OpLessThanEqualTo},
		{in: "does not contain", want: OpNotContains},
		{in: "STARTS WITH", want: OpStartsWith},
		{in: "regex", want: "regex"},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeOperator(tt.in))
		})
	}
}

func TestOperator_IsKnown(t *testing.T) {
	assert.True(t, OpBetween.IsKnown())
	assert.True(t, Operator("Is Less Than").IsKnown())
	assert.False(t, Operator("regex").IsKnown())
	assert.False(t, Operator("").IsKnown())
}

func TestScalar_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Scalar
		wantErr bool
	}{
		{name: "string", input: `"GS"`, want: "GS"},
		{name: "integer", input: `100`, want: "100"},
		{name: "decimal keeps text", input: `101.70`, want: "101.70"},
		{name: "true", input: `true`, want: "true"},
		{name: "false", input: `false`, want: "false"},
		{name: "null", input: `null`, want: ""},
		{name: "object", input: `{"a":1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Scalar
			err := s.UnmarshalJSON([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s)
		})
	}
}

func TestRule_DecodeLegacyJSON(t *testing.T) {
	data := `{
		"id": 7,
		"name": "Drop stale GS",
		"is_active": true,
		"conditions": [
			{"type": "where", "column": "Ticker", "operator": "starts with", "value": "GS"},
			{"type": "and", "column": "PX", "operator": "between", "value": 99, "value2": "101.5"}
		]
	}`

	var rule Rule
	require.NoError(t, json.Unmarshal([]byte(data), &rule))

	assert.Equal(t, 7, rule.ID)
	require.Len(t, rule.Conditions, 2)
	assert.Equal(t, JoinWhere, rule.Conditions[0].JoinType)
	assert.Equal(t, "Ticker", rule.Conditions[0].Field)
	assert.Equal(t, OpStartsWith, NormalizeOperator(rule.Conditions[0].Operator))
	assert.Equal(t, Scalar("99"), rule.Conditions[1].Value)
	assert.Equal(t, Scalar("101.5"), rule.Conditions[1].Value2)
}
