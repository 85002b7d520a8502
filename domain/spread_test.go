package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateSpread(t *testing.T) {
	tests := []struct {
		name      string
		top       TopOfBook
		expected  string
		available bool
	}{
		{
			name:      "Scenario",
			top:       TopOfBook{BestBidPrice: NewValue("100.5"), BestBidQty: NewValue("2"), BestAskPrice: NewValue("100.7"), BestAskQty: NewValue("1")},
			expected:  "0.20000000",
			available: true,
		},
		{
			name:      "NumericPrices",
			top:       TopOfBook{BestBidPrice: NewNumberValue(json.Number("0.07123")), BestAskPrice: NewNumberValue(json.Number("0.07124"))},
			expected:  "0.00001000",
			available: true,
		},
		{
			name:      "RoundedToPrecision",
			top:       TopOfBook{BestBidPrice: NewValue("1.000000001"), BestAskPrice: NewValue("1.000000009")},
			expected:  "0.00000001",
			available: true,
		},
		{
			name:      "CrossedBookRenderedAsIs",
			top:       TopOfBook{BestBidPrice: NewValue("101"), BestAskPrice: NewValue("100.5")},
			expected:  "-0.50000000",
			available: true,
		},
		{
			name:     "EmptyBook",
			top:      TopOfBook{},
			expected: SpreadUnavailable,
		},
		{
			name:     "MissingBid",
			top:      TopOfBook{BestAskPrice: NewValue("100.7")},
			expected: SpreadUnavailable,
		},
		{
			name:     "MissingAsk",
			top:      TopOfBook{BestBidPrice: NewValue("100.5")},
			expected: SpreadUnavailable,
		},
		{
			name:     "ZeroBid",
			top:      TopOfBook{BestBidPrice: NewValue("0"), BestAskPrice: NewValue("100.7")},
			expected: SpreadUnavailable,
		},
		{
			name:     "ZeroAskAsNumber",
			top:      TopOfBook{BestBidPrice: NewValue("100.5"), BestAskPrice: NewNumberValue(json.Number("0.0"))},
			expected: SpreadUnavailable,
		},
		{
			name:     "NonNumericPrice",
			top:      TopOfBook{BestBidPrice: NewValue("n/a"), BestAskPrice: NewValue("100.7")},
			expected: SpreadUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.top

			spread := CalculateSpread(tt.top)

			assert.Equal(t, tt.available, spread.Available)
			assert.Equal(t, tt.expected, spread.String())
			assert.Equal(t, before, tt.top, "input must not be mutated")
		})
	}
}
