package terminal

import (
	"fmt"
	"strings"

	"github.com/spooky-finn/go-orderbook-live/presentation"
	"github.com/spooky-finn/go-orderbook-live/usecase"
)

// levelCell renders a price and quantity as "price, qty". An empty level is
// a blank cell.
func levelCell(price, qty string, empty bool) string {
	if empty {
		return ""
	}
	return fmt.Sprintf("%s, %s", price, qty)
}

func formatTopOfBook(view presentation.View) (bid, ask string) {
	top := view.TopOfBook
	return levelCell(top.BestBidPrice, top.BestBidQty, false), levelCell(top.BestAskPrice, top.BestAskQty, false)
}

// formatDepth returns the bid and ask columns, one level per line. Both
// columns have the same number of lines.
func formatDepth(rows []presentation.DepthRow) (bids, asks string) {
	var b, a strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
			a.WriteByte('\n')
		}
		b.WriteString(levelCell(row.Bid.PriceText(), row.Bid.QuantityText(), row.Bid.Empty))
		a.WriteString(levelCell(row.Ask.PriceText(), row.Ask.QuantityText(), row.Ask.Empty))
	}
	return b.String(), a.String()
}

func formatStatus(status usecase.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", status.State)
	if !status.Pair.IsZero() {
		fmt.Fprintf(&b, "  pair %s", status.Pair)
	}
	if status.ConnectionID != "" {
		fmt.Fprintf(&b, "  connection %s", shortID(status.ConnectionID))
	}
	if status.Err != nil {
		fmt.Fprintf(&b, "  error: %v", status.Err)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
