package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spooky-finn/go-orderbook-live/domain"
	"github.com/spooky-finn/go-orderbook-live/infrastructure/logger"
)

const requestTimeout = 10 * time.Second

var (
	ErrTimeout        = errors.New("timeout error")
	ErrAPIClosed      = errors.New("binance websocket api connection closed")
	ErrRequestRefused = errors.New("binance websocket api request refused")
)

type GenericMessage[T any] struct {
	ID     string    `json:"id"`
	Status int       `json:"status"`
	Result T         `json:"result"`
	Error  *APIError `json:"error,omitempty"`
}

type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type DepthResult struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type BookTickerResult struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	BidQty   string `json:"bidQty"`
	AskPrice string `json:"askPrice"`
	AskQty   string `json:"askQty"`
}

type pendingCall struct {
	conn *websocket.Conn
	ch   chan []byte
}

type apiRequest struct {
	ID     string                 `json:"id"`
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
}

// BinanceSyncAPI answers one-off market data requests over the websocket API.
// The connection is opened on first use and shared by concurrent requests.
type BinanceSyncAPI struct {
	endpoint string
	dialer   *websocket.Dialer
	log      *logger.Entry

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]pendingCall

	writeMutex sync.Mutex
}

func NewBinanceSyncAPI(endpoint string) *BinanceSyncAPI {
	return &BinanceSyncAPI{
		endpoint: endpoint,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		log:     logger.GetLogger().WithComponent("binance-sync-api"),
		pending: make(map[string]pendingCall),
	}
}

// OrderBookSnapshot requests depth and the book ticker of pair and merges
// them into one snapshot.
func (api *BinanceSyncAPI) OrderBookSnapshot(ctx context.Context, pair domain.Pair, limit int) (domain.OrderBookSnapshot, error) {
	var depth GenericMessage[DepthResult]
	if err := api.call(ctx, "depth", map[string]interface{}{"symbol": pair.String(), "limit": limit}, &depth); err != nil {
		return domain.OrderBookSnapshot{}, err
	}

	var ticker GenericMessage[BookTickerResult]
	if err := api.call(ctx, "ticker.book", map[string]interface{}{"symbol": pair.String()}, &ticker); err != nil {
		return domain.OrderBookSnapshot{}, err
	}

	return domain.OrderBookSnapshot{
		TopOfBook: domain.TopOfBook{
			BestBidPrice: domain.NewValue(ticker.Result.BidPrice),
			BestBidQty:   domain.NewValue(ticker.Result.BidQty),
			BestAskPrice: domain.NewValue(ticker.Result.AskPrice),
			BestAskQty:   domain.NewValue(ticker.Result.AskQty),
		},
		OrderBookDepth: domain.OrderBookDepth{
			Bids: toDepthLevels(depth.Result.Bids),
			Asks: toDepthLevels(depth.Result.Asks),
		},
	}, nil
}

func (api *BinanceSyncAPI) Close() error {
	api.mu.Lock()
	conn := api.conn
	api.conn = nil
	api.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (api *BinanceSyncAPI) call(ctx context.Context, method string, params map[string]interface{}, out interface{}) error {
	id := uuid.NewString()
	ch := make(chan []byte, 1)

	conn, err := api.register(ctx, id, ch)
	if err != nil {
		return err
	}
	defer api.unregister(id)

	api.writeMutex.Lock()
	err = conn.WriteJSON(apiRequest{ID: id, Method: method, Params: params})
	api.writeMutex.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send %s request: %w", method, err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case msg, ok := <-ch:
		if !ok {
			return ErrAPIClosed
		}
		var status GenericMessage[json.RawMessage]
		if err := json.Unmarshal(msg, &status); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", method, err)
		}
		if status.Status != http.StatusOK {
			if status.Error != nil {
				return fmt.Errorf("%w: %s status %d code %d: %s", ErrRequestRefused, method, status.Status, status.Error.Code, status.Error.Msg)
			}
			return fmt.Errorf("%w: %s status %d", ErrRequestRefused, method, status.Status)
		}
		if err := json.Unmarshal(msg, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", method, err)
		}
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (api *BinanceSyncAPI) register(ctx context.Context, id string, ch chan []byte) (*websocket.Conn, error) {
	api.mu.Lock()
	defer api.mu.Unlock()

	if api.conn == nil {
		conn, _, err := api.dialer.DialContext(ctx, api.endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial binance websocket api: %w", err)
		}
		conn.SetReadLimit(readLimit)
		api.conn = conn
		go api.listener(conn)
	}

	api.pending[id] = pendingCall{conn: api.conn, ch: ch}
	return api.conn, nil
}

func (api *BinanceSyncAPI) unregister(id string) {
	api.mu.Lock()
	delete(api.pending, id)
	api.mu.Unlock()
}

func (api *BinanceSyncAPI) listener(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			api.log.WithError(err).Debug("websocket api connection closed")
			api.drop(conn)
			return
		}

		var envelope struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(msg, &envelope); err != nil || envelope.ID == "" {
			continue
		}

		api.mu.Lock()
		call, ok := api.pending[envelope.ID]
		if ok {
			delete(api.pending, envelope.ID)
		}
		api.mu.Unlock()

		if ok {
			call.ch <- msg
		}
	}
}

// drop fails every pending request of conn so callers do not wait for the
// timeout.
func (api *BinanceSyncAPI) drop(conn *websocket.Conn) {
	api.mu.Lock()
	defer api.mu.Unlock()

	if api.conn == conn {
		api.conn = nil
	}
	for id, call := range api.pending {
		if call.conn != conn {
			continue
		}
		close(call.ch)
		delete(api.pending, id)
	}
	_ = conn.Close()
}

func toDepthLevels(levels [][]string) []domain.DepthLevel {
	out := make([]domain.DepthLevel, 0, len(levels))
	for _, level := range levels {
		if len(level) < 2 || strings.TrimSpace(level[0]) == "" || strings.TrimSpace(level[1]) == "" {
			continue
		}
		out = append(out, domain.NewDepthLevel(level[0], level[1]))
	}
	return out
}
