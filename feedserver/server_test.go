package feedserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spooky-finn/go-orderbook-live/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpstream struct {
	ch           chan domain.OrderBookSnapshot
	unsubscribed chan struct{}
	once         sync.Once
}

func (u *fakeUpstream) Unsubscribe() {
	u.once.Do(func() { close(u.unsubscribed) })
}

type fakeSource struct {
	mu        sync.Mutex
	upstreams map[domain.Pair][]*fakeUpstream
	opened    chan domain.Pair
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		upstreams: make(map[domain.Pair][]*fakeUpstream),
		opened:    make(chan domain.Pair, 16),
	}
}

func (f *fakeSource) BookStream(ctx context.Context, pair domain.Pair) (*domain.Subscription[domain.OrderBookSnapshot], error) {
	up := &fakeUpstream{
		ch:           make(chan domain.OrderBookSnapshot, 16),
		unsubscribed: make(chan struct{}),
	}
	f.mu.Lock()
	f.upstreams[pair] = append(f.upstreams[pair], up)
	f.mu.Unlock()
	f.opened <- pair

	out := make(chan domain.OrderBookSnapshot)
	go func() {
		defer close(out)
		for {
			select {
			case s := <-up.ch:
				select {
				case out <- s:
				case <-up.unsubscribed:
					return
				}
			case <-up.unsubscribed:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return &domain.Subscription[domain.OrderBookSnapshot]{
		Stream:      out,
		Unsubscribe: up.Unsubscribe,
		Topic:       pair.String(),
	}, nil
}

func (f *fakeSource) upstream(t *testing.T, pair domain.Pair) *fakeUpstream {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	ups := f.upstreams[pair]
	require.NotEmpty(t, ups)
	return ups[len(ups)-1]
}

func snapshot(bid, ask string) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		TopOfBook: domain.TopOfBook{
			BestBidPrice: domain.NewValue(bid),
			BestBidQty:   domain.NewValue("1"),
			BestAskPrice: domain.NewValue(ask),
			BestAskQty:   domain.NewValue("1"),
		},
		OrderBookDepth: domain.OrderBookDepth{
			Bids: []domain.DepthLevel{domain.NewDepthLevel(bid, "1")},
			Asks: []domain.DepthLevel{domain.NewDepthLevel(ask, "1")},
		},
	}
}

func startRelay(t *testing.T, source domain.BookSource) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	hub := NewHub(source, HubConfig{BroadcastInterval: 20 * time.Millisecond, RetryDelay: 20 * time.Millisecond})
	go hub.Run(ctx)

	srv := httptest.NewServer(NewServer(hub, ServerConfig{DefaultPair: "BTCUSDT"}).Handler())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) domain.OrderBookSnapshot {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	snapshot, err := domain.ParseSnapshot(data)
	require.NoError(t, err)
	return snapshot
}

func waitOpened(t *testing.T, source *fakeSource, want domain.Pair) {
	t.Helper()
	select {
	case got := <-source.opened:
		assert.Equal(t, want, got)
	case <-time.After(3 * time.Second):
		t.Fatalf("upstream for %s was not opened", want)
	}
}

func TestServer_RelaysSnapshots(t *testing.T) {
	source := newFakeSource()
	url := startRelay(t, source)

	conn := dial(t, url+"/?pair=ethbtc")
	waitOpened(t, source, "ETHBTC")

	source.upstream(t, "ETHBTC").ch <- snapshot("0.0712", "0.0713")

	got := readSnapshot(t, conn)
	assert.Equal(t, "0.0712", got.TopOfBook.BestBidPrice.String())
	assert.Equal(t, "0.00010000", domain.CalculateSpread(got.TopOfBook).String())
}

func TestServer_DefaultPair(t *testing.T) {
	source := newFakeSource()
	url := startRelay(t, source)

	dial(t, url)
	waitOpened(t, source, "BTCUSDT")
}

func TestServer_InvalidPair(t *testing.T) {
	source := newFakeSource()
	url := startRelay(t, source)

	_, resp, err := websocket.DefaultDialer.Dial(url+"/?pair=BTC/USDT", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_OnlyChangedBooksAreSent(t *testing.T) {
	source := newFakeSource()
	url := startRelay(t, source)

	conn := dial(t, url+"/?pair=BTCUSDT")
	waitOpened(t, source, "BTCUSDT")
	up := source.upstream(t, "BTCUSDT")

	up.ch <- snapshot("100.5", "100.7")
	readSnapshot(t, conn)

	// several ticks pass without a new snapshot
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestServer_SharedUpstreamIsRefCounted(t *testing.T) {
	source := newFakeSource()
	url := startRelay(t, source)

	first := dial(t, url+"/?pair=BTCUSDT")
	waitOpened(t, source, "BTCUSDT")
	up := source.upstream(t, "BTCUSDT")

	up.ch <- snapshot("100.5", "100.7")
	readSnapshot(t, first)

	// a late joiner gets the latest book without a second upstream
	second := dial(t, url+"/?pair=BTCUSDT")
	got := readSnapshot(t, second)
	assert.Equal(t, "100.7", got.TopOfBook.BestAskPrice.String())

	up.ch <- snapshot("100.6", "100.8")
	assert.Equal(t, "100.6", readSnapshot(t, first).TopOfBook.BestBidPrice.String())
	assert.Equal(t, "100.6", readSnapshot(t, second).TopOfBook.BestBidPrice.String())

	select {
	case pair := <-source.opened:
		t.Fatalf("unexpected second upstream for %s", pair)
	default:
	}

	require.NoError(t, first.Close())
	require.NoError(t, second.Close())

	select {
	case <-up.unsubscribed:
	case <-time.After(3 * time.Second):
		t.Fatal("upstream was not released after the last client left")
	}
}

func TestServer_UpstreamIsReopened(t *testing.T) {
	source := newFakeSource()
	url := startRelay(t, source)

	conn := dial(t, url+"/?pair=BTCUSDT")
	waitOpened(t, source, "BTCUSDT")

	// the upstream ends on its own
	source.upstream(t, "BTCUSDT").Unsubscribe()
	waitOpened(t, source, "BTCUSDT")

	source.upstream(t, "BTCUSDT").ch <- snapshot("1", "2")
	assert.Equal(t, "1", readSnapshot(t, conn).TopOfBook.BestBidPrice.String())
}

func TestServer_Healthz(t *testing.T) {
	hub := NewHub(newFakeSource(), HubConfig{})
	srv := httptest.NewServer(NewServer(hub, ServerConfig{DefaultPair: "BTCUSDT"}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
