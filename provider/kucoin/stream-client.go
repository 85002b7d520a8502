package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Kucoin/kucoin-go-sdk"
	"github.com/spooky-finn/go-orderbook-live/domain"
	"github.com/spooky-finn/go-orderbook-live/infrastructure/logger"
)

// KucoinStreamClient opens one SDK websocket client per subscription. Public
// tokens are requested for every connection.
type KucoinStreamClient struct {
	syncAPI *KucoinSyncAPI
	log     *logger.Entry
}

func NewKucoinStreamClient(syncAPI *KucoinSyncAPI) *KucoinStreamClient {
	return &KucoinStreamClient{
		syncAPI: syncAPI,
		log:     logger.GetLogger().WithComponent("kucoin-stream-client"),
	}
}

// Subscribe streams the data field of every message published on topic.
func (c *KucoinStreamClient) Subscribe(ctx context.Context, topic string) (*domain.Subscription[json.RawMessage], error) {
	token, err := c.syncAPI.WsConnOpts()
	if err != nil {
		return nil, err
	}

	client := c.syncAPI.apiService.NewWebSocketClient(token)
	messages, errs, err := client.Connect()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to kucoin ws: %w", err)
	}

	if err := client.Subscribe(kucoin.NewSubscribeMessage(topic, false)); err != nil {
		client.Stop()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	c.log.WithFields(logger.Fields{"topic": topic}).Info("subscribed")

	out := make(chan json.RawMessage)
	done := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() { close(done) })
	}

	go func() {
		defer close(out)
		defer client.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case err := <-errs:
				c.log.WithError(err).WithFields(logger.Fields{"topic": topic}).Warn("stream connection closed")
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				if msg.Topic != topic {
					continue
				}
				select {
				case out <- msg.RawData:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}()

	return &domain.Subscription[json.RawMessage]{
		Stream:      out,
		Unsubscribe: unsubscribe,
		Topic:       topic,
	}, nil
}
