package kucoin

import (
	"fmt"
	"strings"

	"github.com/Kucoin/kucoin-go-sdk"
	"github.com/spooky-finn/go-orderbook-live/domain"
)

// PartOrderBookModel is the aggregated partial order book returned by
// /api/v1/market/orderbook/level2_{20,100}.
type PartOrderBookModel struct {
	Sequence string     `json:"sequence"`
	Time     int64      `json:"time"`
	Bids     [][]string `json:"bids"`
	Asks     [][]string `json:"asks"`
}

type KucoinSyncAPI struct {
	apiService *kucoin.ApiService
}

func NewKucoinSyncAPI(baseURI string) *KucoinSyncAPI {
	return &KucoinSyncAPI{
		apiService: kucoin.NewApiService(kucoin.ApiBaseURIOption(baseURI)),
	}
}

// WsConnOpts requests a public token and the instance servers to connect to.
func (api *KucoinSyncAPI) WsConnOpts() (*kucoin.WebSocketTokenModel, error) {
	resp, err := api.apiService.WebSocketPublicToken()
	if err != nil {
		return nil, fmt.Errorf("failed to get ws connection options: %w", err)
	}

	data := &kucoin.WebSocketTokenModel{}
	if err := resp.ReadData(data); err != nil {
		return nil, fmt.Errorf("failed to read ws connection options: %w, response: %s", err, resp.Message)
	}

	return data, nil
}

// OrderBookSnapshot returns the aggregated book of symbol. KuCoin only
// serves 20 and 100 levels, any other depth is rounded up.
func (api *KucoinSyncAPI) OrderBookSnapshot(symbol string, depth int) (domain.OrderBookSnapshot, error) {
	levels := int64(20)
	if depth > 20 {
		levels = 100
	}

	resp, err := api.apiService.AggregatedPartOrderBook(symbol, levels)
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("failed to get order book snapshot: %w", err)
	}

	data := &PartOrderBookModel{}
	if err := resp.ReadData(data); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("failed to read order book snapshot: %w, response: %s", err, resp.RawData)
	}

	return snapshotFromLevels(data.Bids, data.Asks, depth), nil
}

// snapshotFromLevels builds a snapshot whose top of book is the first level
// of each side. limit <= 0 keeps every level.
func snapshotFromLevels(bids, asks [][]string, limit int) domain.OrderBookSnapshot {
	snapshot := domain.OrderBookSnapshot{
		OrderBookDepth: domain.OrderBookDepth{
			Bids: toDepthLevels(bids, limit),
			Asks: toDepthLevels(asks, limit),
		},
	}

	if len(snapshot.OrderBookDepth.Bids) > 0 {
		best := snapshot.OrderBookDepth.Bids[0]
		snapshot.TopOfBook.BestBidPrice = best.Price
		snapshot.TopOfBook.BestBidQty = best.Quantity
	}
	if len(snapshot.OrderBookDepth.Asks) > 0 {
		best := snapshot.OrderBookDepth.Asks[0]
		snapshot.TopOfBook.BestAskPrice = best.Price
		snapshot.TopOfBook.BestAskQty = best.Quantity
	}

	return snapshot
}

func toDepthLevels(levels [][]string, limit int) []domain.DepthLevel {
	out := make([]domain.DepthLevel, 0, len(levels))
	for _, level := range levels {
		if limit > 0 && len(out) == limit {
			break
		}
		if len(level) < 2 || strings.TrimSpace(level[0]) == "" || strings.TrimSpace(level[1]) == "" {
			continue
		}
		out = append(out, domain.NewDepthLevel(level[0], level[1]))
	}
	return out
}
