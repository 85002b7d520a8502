// Package presentation turns order book snapshots into display rows.
package presentation

import "github.com/spooky-finn/go-orderbook-live/domain"

const NotAvailable = "N/A"

type TopOfBookRow struct {
	BestBidPrice string `json:"best_bid_price"`
	BestBidQty   string `json:"best_bid_qty"`
	BestAskPrice string `json:"best_ask_price"`
	BestAskQty   string `json:"best_ask_qty"`
}

// Level is one side of a depth row. Empty marks the shorter side of the book.
type Level struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Empty    bool   `json:"empty"`
}

func (l Level) PriceText() string {
	if l.Empty {
		return ""
	}
	return l.Price
}

func (l Level) QuantityText() string {
	if l.Empty {
		return ""
	}
	return l.Quantity
}

type DepthRow struct {
	Bid Level `json:"bid"`
	Ask Level `json:"ask"`
}

type View struct {
	Pair      string       `json:"pair"`
	TopOfBook TopOfBookRow `json:"top_of_book"`
	Spread    string       `json:"spread"`
	Depth     []DepthRow   `json:"depth"`
}

// Render builds the view of snapshot for pair. The snapshot is only read.
func Render(pair domain.Pair, snapshot domain.OrderBookSnapshot) View {
	return View{
		Pair:      pair.String(),
		TopOfBook: RenderTopOfBook(snapshot.TopOfBook),
		Spread:    domain.CalculateSpread(snapshot.TopOfBook).String(),
		Depth:     RenderDepth(snapshot.OrderBookDepth),
	}
}

func RenderTopOfBook(top domain.TopOfBook) TopOfBookRow {
	return TopOfBookRow{
		BestBidPrice: display(top.BestBidPrice),
		BestBidQty:   display(top.BestBidQty),
		BestAskPrice: display(top.BestAskPrice),
		BestAskQty:   display(top.BestAskQty),
	}
}

// RenderDepth pairs bids and asks by index. The row count is the length of
// the longer side.
func RenderDepth(depth domain.OrderBookDepth) []DepthRow {
	n := max(len(depth.Bids), len(depth.Asks))
	rows := make([]DepthRow, n)
	for i := range rows {
		rows[i] = DepthRow{
			Bid: levelAt(depth.Bids, i),
			Ask: levelAt(depth.Asks, i),
		}
	}
	return rows
}

func levelAt(levels []domain.DepthLevel, i int) Level {
	if i >= len(levels) {
		return Level{Empty: true}
	}
	return Level{
		Price:    levels[i].Price.String(),
		Quantity: levels[i].Quantity.String(),
	}
}

func display(v domain.Value) string {
	if v.IsEmpty() {
		return NotAvailable
	}
	return v.String()
}
