package binance

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spooky-finn/go-orderbook-live/domain"
	"github.com/spooky-finn/go-orderbook-live/infrastructure/logger"
)

const (
	bookTickerSuffix   = "@bookTicker"
	partialDepthSuffix = "@depth20@100ms"
)

type BookTickerData struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

type PartialDepthData struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type snapshotSeeder interface {
	OrderBookSnapshot(ctx context.Context, pair domain.Pair, limit int) (domain.OrderBookSnapshot, error)
}

type BinanceStreamAPI struct {
	streamClient *BinanceStreamClient
	syncAPI      snapshotSeeder
	seedDepth    int
	log          *logger.Entry
}

// NewBinanceStreamAPI builds a book source. syncAPI may be nil, otherwise a
// new stream starts from a websocket API snapshot of seedDepth levels.
func NewBinanceStreamAPI(client *BinanceStreamClient, syncAPI *BinanceSyncAPI, seedDepth int) *BinanceStreamAPI {
	api := &BinanceStreamAPI{
		streamClient: client,
		seedDepth:    seedDepth,
		log:          logger.GetLogger().WithComponent("binance-stream-api"),
	}
	if syncAPI != nil {
		api.syncAPI = syncAPI
	}
	return api
}

// Topics returns the stream names carrying the book of pair.
func Topics(pair domain.Pair) []string {
	symbol := pair.Lower()
	return []string{symbol + bookTickerSuffix, symbol + partialDepthSuffix}
}

// BookStream merges the book ticker and the partial depth stream of pair into
// full snapshots. Nothing is emitted until both parts are known. The stream
// keeps only the latest snapshot for a slow reader.
func (bs *BinanceStreamAPI) BookStream(ctx context.Context, pair domain.Pair) (*domain.Subscription[domain.OrderBookSnapshot], error) {
	subscription, err := bs.streamClient.Subscribe(ctx, Topics(pair)...)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.OrderBookSnapshot, 1)
	go func() {
		defer close(out)

		book := bookAssembler{}
		if bs.syncAPI != nil {
			seed, err := bs.syncAPI.OrderBookSnapshot(ctx, pair, bs.seedDepth)
			if err != nil {
				bs.log.WithError(err).WithFields(logger.Fields{"pair": pair.String()}).Warn("failed to seed order book")
			} else {
				book.seed(seed)
				domain.SendLatest(out, book.snapshot())
			}
		}

		for message := range subscription.Stream {
			if !bs.apply(&book, message) || !book.ready() {
				continue
			}
			domain.SendLatest(out, book.snapshot())
		}
	}()

	return &domain.Subscription[domain.OrderBookSnapshot]{
		Stream:      out,
		Unsubscribe: subscription.Unsubscribe,
		Topic:       subscription.Topic,
	}, nil
}

func (bs *BinanceStreamAPI) apply(book *bookAssembler, message RawMessage) bool {
	switch {
	case strings.HasSuffix(message.Stream, bookTickerSuffix):
		var data BookTickerData
		if err := json.Unmarshal(message.Data, &data); err != nil {
			bs.log.WithError(err).WithFields(logger.Fields{"stream": message.Stream}).Warn("error unmarshaling book ticker")
			return false
		}
		book.top = domain.TopOfBook{
			BestBidPrice: domain.NewValue(data.BidPrice),
			BestBidQty:   domain.NewValue(data.BidQty),
			BestAskPrice: domain.NewValue(data.AskPrice),
			BestAskQty:   domain.NewValue(data.AskQty),
		}
		book.hasTop = true
		return true

	case strings.HasSuffix(message.Stream, partialDepthSuffix):
		var data PartialDepthData
		if err := json.Unmarshal(message.Data, &data); err != nil {
			bs.log.WithError(err).WithFields(logger.Fields{"stream": message.Stream}).Warn("error unmarshaling depth")
			return false
		}
		book.depth = domain.OrderBookDepth{
			Bids: toDepthLevels(data.Bids),
			Asks: toDepthLevels(data.Asks),
		}
		book.hasDepth = true
		return true
	}

	return false
}

type bookAssembler struct {
	top      domain.TopOfBook
	depth    domain.OrderBookDepth
	hasTop   bool
	hasDepth bool
}

func (b *bookAssembler) seed(snapshot domain.OrderBookSnapshot) {
	b.top = snapshot.TopOfBook
	b.depth = snapshot.OrderBookDepth
	b.hasTop = true
	b.hasDepth = true
}

func (b *bookAssembler) ready() bool {
	return b.hasTop && b.hasDepth
}

func (b *bookAssembler) snapshot() domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{TopOfBook: b.top, OrderBookDepth: b.depth}.Clone()
}
