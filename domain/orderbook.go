package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TopOfBook holds the best bid and ask. Every field is absent until the first
// message arrives. best_ask_price >= best_bid_price is expected but a crossed
// book is passed through untouched.
type TopOfBook struct {
	BestBidPrice Value `json:"best_bid_price"`
	BestBidQty   Value `json:"best_bid_qty"`
	BestAskPrice Value `json:"best_ask_price"`
	BestAskQty   Value `json:"best_ask_qty"`
}

func (t TopOfBook) IsEmpty() bool {
	return t.BestBidPrice.IsEmpty() && t.BestBidQty.IsEmpty() &&
		t.BestAskPrice.IsEmpty() && t.BestAskQty.IsEmpty()
}

// DepthLevel is a [price, quantity] pair.
type DepthLevel struct {
	Price    Value
	Quantity Value
}

func NewDepthLevel(price, quantity string) DepthLevel {
	return DepthLevel{Price: NewValue(price), Quantity: NewValue(quantity)}
}

func (l DepthLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]Value{l.Price, l.Quantity})
}

func (l *DepthLevel) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("depth level must be a [price, quantity] array: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("depth level must have 2 elements, got %d", len(raw))
	}

	var level DepthLevel
	if err := json.Unmarshal(raw[0], &level.Price); err != nil {
		return fmt.Errorf("depth level price: %w", err)
	}
	if err := json.Unmarshal(raw[1], &level.Quantity); err != nil {
		return fmt.Errorf("depth level quantity: %w", err)
	}
	if level.Price.IsEmpty() || level.Quantity.IsEmpty() {
		return fmt.Errorf("depth level %s has an empty price or quantity", bytes.TrimSpace(data))
	}

	*l = level
	return nil
}

// OrderBookDepth lists price levels per side, best first: bids descending,
// asks ascending. The sides may differ in length.
type OrderBookDepth struct {
	Bids []DepthLevel `json:"bids"`
	Asks []DepthLevel `json:"asks"`
}

// OrderBookSnapshot is the unit of state replacement. Each inbound message is
// the complete current book, never a delta.
type OrderBookSnapshot struct {
	TopOfBook      TopOfBook      `json:"top_of_book"`
	OrderBookDepth OrderBookDepth `json:"order_book_depth"`
}

func EmptySnapshot() OrderBookSnapshot {
	return OrderBookSnapshot{
		TopOfBook: TopOfBook{},
		OrderBookDepth: OrderBookDepth{
			Bids: []DepthLevel{},
			Asks: []DepthLevel{},
		},
	}
}

func (s OrderBookSnapshot) Clone() OrderBookSnapshot {
	return OrderBookSnapshot{
		TopOfBook: s.TopOfBook,
		OrderBookDepth: OrderBookDepth{
			Bids: cloneLevels(s.OrderBookDepth.Bids),
			Asks: cloneLevels(s.OrderBookDepth.Asks),
		},
	}
}

func cloneLevels(levels []DepthLevel) []DepthLevel {
	if levels == nil {
		return nil
	}
	out := make([]DepthLevel, len(levels))
	copy(out, levels)
	return out
}

type wireDepth struct {
	Bids *[]DepthLevel `json:"bids"`
	Asks *[]DepthLevel `json:"asks"`
}

type wireSnapshot struct {
	TopOfBook      *TopOfBook `json:"top_of_book"`
	OrderBookDepth *wireDepth `json:"order_book_depth"`
}

// ParseSnapshot validates a feed payload against the snapshot schema. Either a
// fully typed snapshot or an error wrapping ErrMalformedSnapshot is returned.
func ParseSnapshot(data []byte) (OrderBookSnapshot, error) {
	var wire wireSnapshot
	if err := json.Unmarshal(data, &wire); err != nil {
		return OrderBookSnapshot{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	if wire.TopOfBook == nil {
		return OrderBookSnapshot{}, fmt.Errorf("%w: top_of_book is missing", ErrMalformedSnapshot)
	}
	if wire.OrderBookDepth == nil {
		return OrderBookSnapshot{}, fmt.Errorf("%w: order_book_depth is missing", ErrMalformedSnapshot)
	}
	if wire.OrderBookDepth.Bids == nil {
		return OrderBookSnapshot{}, fmt.Errorf("%w: order_book_depth.bids is missing", ErrMalformedSnapshot)
	}
	if wire.OrderBookDepth.Asks == nil {
		return OrderBookSnapshot{}, fmt.Errorf("%w: order_book_depth.asks is missing", ErrMalformedSnapshot)
	}

	return OrderBookSnapshot{
		TopOfBook: *wire.TopOfBook,
		OrderBookDepth: OrderBookDepth{
			Bids: *wire.OrderBookDepth.Bids,
			Asks: *wire.OrderBookDepth.Asks,
		},
	}, nil
}
