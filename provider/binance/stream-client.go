package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spooky-finn/go-orderbook-live/domain"
	"github.com/spooky-finn/go-orderbook-live/infrastructure/logger"
)

const (
	handshakeTimeout = 5 * time.Second
	readLimit        = 655350
)

// Message is the envelope of the combined stream endpoint.
type Message[T any] struct {
	Stream string `json:"stream"`
	Data   T      `json:"data"`
}

type RawMessage = Message[json.RawMessage]

// BinanceStreamClient opens combined market streams. Each subscription owns
// its own connection so a pair can be dropped without touching the others.
type BinanceStreamClient struct {
	baseURL string
	dialer  *websocket.Dialer
	log     *logger.Entry
}

func NewBinanceStreamClient(baseURL string) *BinanceStreamClient {
	return &BinanceStreamClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		log: logger.GetLogger().WithComponent("binance-stream-client"),
	}
}

// StreamURL returns the combined stream URL for the given stream names.
func (c *BinanceStreamClient) StreamURL(streams ...string) string {
	return c.baseURL + "/stream?streams=" + strings.Join(streams, "/")
}

// Subscribe connects to the combined stream of streams. The returned stream is
// closed when the connection ends, ctx is done or Unsubscribe is called.
func (c *BinanceStreamClient) Subscribe(ctx context.Context, streams ...string) (*domain.Subscription[RawMessage], error) {
	if len(streams) == 0 {
		return nil, fmt.Errorf("no streams to subscribe to")
	}

	endpoint := c.StreamURL(streams...)
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}
	conn.SetReadLimit(readLimit)

	topic := strings.Join(streams, "/")
	c.log.WithFields(logger.Fields{"topic": topic}).Info("subscribed")

	ch := make(chan RawMessage)
	done := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(done)
			_ = conn.Close()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-done:
		}
	}()

	go c.read(conn, topic, ch, done, unsubscribe)

	return &domain.Subscription[RawMessage]{
		Stream:      ch,
		Unsubscribe: unsubscribe,
		Topic:       topic,
	}, nil
}

func (c *BinanceStreamClient) read(conn *websocket.Conn, topic string, ch chan<- RawMessage, done <-chan struct{}, unsubscribe func()) {
	defer close(ch)
	defer unsubscribe()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				c.log.WithError(err).WithFields(logger.Fields{"topic": topic}).Warn("stream connection closed")
			}
			return
		}

		var message RawMessage
		if err := json.Unmarshal(msg, &message); err != nil || message.Stream == "" {
			c.log.WithFields(logger.Fields{"topic": topic, "message": string(msg)}).Warn("unexpected stream message")
			continue
		}

		select {
		case ch <- message:
		case <-done:
			return
		}
	}
}
