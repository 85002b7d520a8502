package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spooky-finn/go-orderbook-live/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newAPIServer answers websocket API requests with the result returned by
// respond for the request method.
func newAPIServer(t *testing.T, respond func(req apiRequest) map[string]interface{}) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req apiRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			resp := respond(req)
			resp["id"] = req.ID
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBinanceSyncAPI_OrderBookSnapshot(t *testing.T) {
	depthParams := make(chan map[string]interface{}, 1)
	srv := newAPIServer(t, func(req apiRequest) map[string]interface{} {
		switch req.Method {
		case "depth":
			depthParams <- req.Params
			return map[string]interface{}{
				"status": 200,
				"result": map[string]interface{}{
					"lastUpdateId": 1027024,
					"bids":         [][]string{{"100.5", "2"}, {"100.4", "5"}},
					"asks":         [][]string{{"100.7", "1"}},
				},
			}
		case "ticker.book":
			return map[string]interface{}{
				"status": 200,
				"result": map[string]string{
					"symbol": "BTCUSDT", "bidPrice": "100.5", "bidQty": "2", "askPrice": "100.7", "askQty": "1",
				},
			}
		}
		return map[string]interface{}{"status": 400, "error": map[string]interface{}{"code": -1, "msg": "unknown"}}
	})

	api := NewBinanceSyncAPI(wsURL(srv))
	defer api.Close()

	snapshot, err := api.OrderBookSnapshot(context.Background(), "BTCUSDT", 20)
	require.NoError(t, err)

	params := <-depthParams
	assert.Equal(t, "BTCUSDT", params["symbol"])
	assert.EqualValues(t, 20, params["limit"])
	assert.Equal(t, "0.20000000", domain.CalculateSpread(snapshot.TopOfBook).String())
	assert.Len(t, snapshot.OrderBookDepth.Bids, 2)
	assert.Len(t, snapshot.OrderBookDepth.Asks, 1)
}

func TestBinanceSyncAPI_RequestRefused(t *testing.T) {
	srv := newAPIServer(t, func(req apiRequest) map[string]interface{} {
		return map[string]interface{}{
			"status": 400,
			"error":  map[string]interface{}{"code": -1121, "msg": "Invalid symbol."},
		}
	})

	api := NewBinanceSyncAPI(wsURL(srv))
	defer api.Close()

	_, err := api.OrderBookSnapshot(context.Background(), "NOPE", 5)
	require.ErrorIs(t, err, ErrRequestRefused)
	assert.Contains(t, err.Error(), "Invalid symbol.")
}

func TestBinanceSyncAPI_ConnectionDropFailsPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// read the request and hang up without answering
		_, _, _ = conn.ReadMessage()
		_ = conn.Close()
	}))
	defer srv.Close()

	api := NewBinanceSyncAPI(wsURL(srv))
	defer api.Close()

	_, err := api.OrderBookSnapshot(context.Background(), "BTCUSDT", 5)
	assert.ErrorIs(t, err, ErrAPIClosed)
}

func TestBinanceStreamAPI_SeedsFromSyncAPI(t *testing.T) {
	apiSrv := newAPIServer(t, func(req apiRequest) map[string]interface{} {
		if req.Method == "depth" {
			return map[string]interface{}{"status": 200, "result": map[string]interface{}{
				"lastUpdateId": 1, "bids": [][]string{{"1.0", "1"}}, "asks": [][]string{{"1.2", "1"}},
			}}
		}
		return map[string]interface{}{"status": 200, "result": map[string]string{
			"bidPrice": "1.0", "bidQty": "1", "askPrice": "1.2", "askQty": "1",
		}}
	})
	streamSrv, _ := newStreamServer(t)

	syncAPI := NewBinanceSyncAPI(wsURL(apiSrv))
	defer syncAPI.Close()
	api := NewBinanceStreamAPI(NewBinanceStreamClient(wsURL(streamSrv)), syncAPI, 5)

	subscription, err := api.BookStream(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	defer subscription.Unsubscribe()

	snapshot := receive(t, subscription.Stream)
	assert.Equal(t, "0.20000000", domain.CalculateSpread(snapshot.TopOfBook).String())
	assert.Equal(t, []domain.DepthLevel{domain.NewDepthLevel("1.0", "1")}, snapshot.OrderBookDepth.Bids)
}

func TestToDepthLevels(t *testing.T) {
	levels := toDepthLevels([][]string{{"100.5", "2"}, {"", "1"}, {"100.3"}, {"100.2", ""}, {"100.1", "7"}})

	assert.Equal(t, []domain.DepthLevel{domain.NewDepthLevel("100.5", "2"), domain.NewDepthLevel("100.1", "7")}, levels)

	data, err := json.Marshal(domain.OrderBookDepth{Bids: levels, Asks: []domain.DepthLevel{}})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "null")
}
