package domain

import "github.com/shopspring/decimal"

// SpreadPrecision is the number of fractional digits a spread is rendered with.
const SpreadPrecision = 8

// SpreadUnavailable is rendered when the spread cannot be derived.
const SpreadUnavailable = "N/A"

type Spread struct {
	Value     decimal.Decimal
	Available bool
}

// CalculateSpread derives best ask minus best bid. The spread is available only
// when both prices are present, numeric and non-zero.
func CalculateSpread(top TopOfBook) Spread {
	bid, ok := top.BestBidPrice.Decimal()
	if !ok || bid.IsZero() {
		return Spread{}
	}

	ask, ok := top.BestAskPrice.Decimal()
	if !ok || ask.IsZero() {
		return Spread{}
	}

	return Spread{Value: ask.Sub(bid), Available: true}
}

func (s Spread) String() string {
	if !s.Available {
		return SpreadUnavailable
	}
	return s.Value.StringFixed(SpreadPrecision)
}
