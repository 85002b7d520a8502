package kucoin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spooky-finn/go-orderbook-live/domain"
	"github.com/spooky-finn/go-orderbook-live/infrastructure/logger"
)

const depthTopicPrefix = "/spotMarket/level2Depth50:"

// Level2DepthModel is the payload of the level2Depth50 topic.
type Level2DepthModel struct {
	Asks      [][]string `json:"asks"`
	Bids      [][]string `json:"bids"`
	Timestamp int64      `json:"timestamp"`
}

type KucoinStreamAPI struct {
	wc          *KucoinStreamClient
	syncAPI     *KucoinSyncAPI
	quoteAssets []string
	seed        bool
	log         *logger.Entry
}

func NewKucoinStreamAPI(wc *KucoinStreamClient, syncAPI *KucoinSyncAPI, quoteAssets []string, seed bool) *KucoinStreamAPI {
	return &KucoinStreamAPI{
		wc:          wc,
		syncAPI:     syncAPI,
		quoteAssets: quoteAssets,
		seed:        seed,
		log:         logger.GetLogger().WithComponent("kucoin-stream-api"),
	}
}

// Symbol converts pair to the dash separated KuCoin symbol.
func (s *KucoinStreamAPI) Symbol(pair domain.Pair) (string, error) {
	return pair.Join("-", s.quoteAssets)
}

func (s *KucoinStreamAPI) BookStream(ctx context.Context, pair domain.Pair) (*domain.Subscription[domain.OrderBookSnapshot], error) {
	symbol, err := s.Symbol(pair)
	if err != nil {
		return nil, fmt.Errorf("kucoin symbol for %s: %w", pair, err)
	}

	subscription, err := s.wc.Subscribe(ctx, depthTopicPrefix+symbol)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.OrderBookSnapshot, 1)
	go func() {
		defer close(out)

		if s.seed {
			snapshot, err := s.syncAPI.OrderBookSnapshot(symbol, 50)
			if err != nil {
				s.log.WithError(err).WithFields(logger.Fields{"symbol": symbol}).Warn("failed to seed order book")
			} else {
				domain.SendLatest(out, snapshot)
			}
		}

		for msg := range subscription.Stream {
			snapshot, err := decodeDepth(msg)
			if err != nil {
				s.log.WithError(err).WithFields(logger.Fields{"symbol": symbol}).Warn("error unmarshaling depth")
				continue
			}
			domain.SendLatest(out, snapshot)
		}
	}()

	return &domain.Subscription[domain.OrderBookSnapshot]{
		Stream:      out,
		Unsubscribe: subscription.Unsubscribe,
		Topic:       subscription.Topic,
	}, nil
}

func decodeDepth(data []byte) (domain.OrderBookSnapshot, error) {
	var model Level2DepthModel
	if err := json.Unmarshal(data, &model); err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	return snapshotFromLevels(model.Bids, model.Asks, 0), nil
}
