package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    string
		expectError bool
	}{
		{"DecimalString", `"100.50"`, "100.50", false},
		{"Number", `100.5`, "100.5", false},
		{"NumberWithExponent", `1e-8`, "1e-8", false},
		{"Null", `null`, "", false},
		{"Bool", `true`, "", true},
		{"Object", `{"price":"1"}`, "", true},
		{"Array", `["1"]`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v Value
			err := json.Unmarshal([]byte(tt.input), &v)

			if tt.expectError {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, v.String(), "value should keep the text as received")
		})
	}
}

func TestValue_MarshalKeepsWireForm(t *testing.T) {
	type holder struct {
		S Value `json:"s"`
		N Value `json:"n"`
		E Value `json:"e"`
	}

	var h holder
	require.NoError(t, json.Unmarshal([]byte(`{"s":"0.00100","n":2.50}`), &h))

	out, err := json.Marshal(h)
	require.NoError(t, err)

	assert.JSONEq(t, `{"s":"0.00100","n":2.50,"e":null}`, string(out))
}

func TestValue_Decimal(t *testing.T) {
	d, ok := NewValue("100.7").Decimal()
	assert.True(t, ok)
	assert.True(t, decimal.RequireFromString("100.7").Equal(d))

	d, ok = NewNumberValue(json.Number("3")).Decimal()
	assert.True(t, ok)
	assert.True(t, decimal.NewFromInt(3).Equal(d))

	_, ok = NewValue("").Decimal()
	assert.False(t, ok, "absent value is not a number")

	_, ok = NewValue("abc").Decimal()
	assert.False(t, ok, "garbage text is not a number")
}
