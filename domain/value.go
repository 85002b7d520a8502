package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Value is a price or a quantity as the feed sends it. Upstreams emit either
// decimal strings ("100.5") or plain JSON numbers (100.5); the text is kept
// verbatim so that it renders exactly as received. The zero Value is absent.
type Value struct {
	raw    string
	number bool
}

func NewValue(s string) Value {
	return Value{raw: s}
}

func NewNumberValue(n json.Number) Value {
	return Value{raw: n.String(), number: true}
}

func (v Value) String() string {
	return v.raw
}

func (v Value) IsEmpty() bool {
	return v.raw == ""
}

// Decimal parses the value. ok is false for absent or non-numeric text.
func (v Value) Decimal() (d decimal.Decimal, ok bool) {
	if v.IsEmpty() {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(v.raw)
	if err != nil {
		return decimal.Zero, false
	}

	return d, true
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.IsEmpty():
		return []byte("null"), nil
	case v.number:
		return []byte(v.raw), nil
	default:
		return json.Marshal(v.raw)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = NewValue(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected decimal string or number, got %s", data)
	}

	*v = NewNumberValue(n)
	return nil
}
