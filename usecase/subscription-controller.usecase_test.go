package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/spooky-finn/go-orderbook-live/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

const scenarioPayload = `{
	"top_of_book": {"best_bid_price":"100.5","best_bid_qty":"2","best_ask_price":"100.7","best_ask_qty":"1"},
	"order_book_depth": {"bids":[["100.5","2"],["100.4","5"]],"asks":[["100.7","1"]]}
}`

const ethPayload = `{
	"top_of_book": {"best_bid_price":"0.0712","best_bid_qty":"1500","best_ask_price":"0.0713","best_ask_qty":"20"},
	"order_book_depth": {"bids":[["0.0712","1500"]],"asks":[["0.0713","20"]]}
}`

type fakeConn struct {
	frames    chan []byte
	failure   chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames:  make(chan []byte, 16),
		failure: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) send(payload string) { f.frames <- []byte(payload) }

// fail makes the next read after the queued frames return err.
func (f *fakeConn) fail(err error) { f.failure <- err }

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-f.frames:
		return data, nil
	default:
	}

	select {
	case data := <-f.frames:
		return data, nil
	case err := <-f.failure:
		return nil, err
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	conns map[domain.Pair][]*fakeConn
	dials []domain.Pair
	err   error
	block chan struct{}
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(map[domain.Pair][]*fakeConn)}
}

func (d *fakeDialer) Dial(ctx context.Context, pair domain.Pair) (domain.FeedConn, error) {
	d.mu.Lock()
	d.dials = append(d.dials, pair)
	block, err := d.block, d.err
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	conn := newFakeConn()
	d.mu.Lock()
	d.conns[pair] = append(d.conns[pair], conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) last(t *testing.T, pair domain.Pair) *fakeConn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	conns := d.conns[pair]
	require.NotEmpty(t, conns, "no connection dialed for %s", pair)
	return conns[len(conns)-1]
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func mustParse(t *testing.T, payload string) domain.OrderBookSnapshot {
	t.Helper()
	snapshot, err := domain.ParseSnapshot([]byte(payload))
	require.NoError(t, err)
	return snapshot
}

func newController(t *testing.T, dialer domain.FeedDialer, opts SubscriptionControllerOptions) *SubscriptionController {
	t.Helper()
	c := NewSubscriptionController(dialer, domain.NewOrderBookStorage(), opts)
	t.Cleanup(c.Stop)
	return c
}

func waitForSnapshot(t *testing.T, c *SubscriptionController, want domain.OrderBookSnapshot) {
	t.Helper()
	require.Eventually(t, func() bool {
		got := c.Storage().Current()
		return assert.ObjectsAreEqual(want, got)
	}, waitFor, tick)
}

func TestSubscriptionController_Scenario(t *testing.T) {
	dialer := newFakeDialer()
	c := newController(t, dialer, SubscriptionControllerOptions{})

	require.NoError(t, c.Start(context.Background(), "btcusdt"))

	status := c.Status()
	assert.Equal(t, StateLive, status.State)
	assert.Equal(t, domain.Pair("BTCUSDT"), status.Pair)
	assert.NotEmpty(t, status.ConnectionID)
	assert.NoError(t, status.Err)

	dialer.last(t, "BTCUSDT").send(scenarioPayload)
	waitForSnapshot(t, c, mustParse(t, scenarioPayload))

	spread := domain.CalculateSpread(c.Storage().Current().TopOfBook)
	assert.Equal(t, "0.20000000", spread.String())
}

func TestSubscriptionController_StartTwice(t *testing.T) {
	c := newController(t, newFakeDialer(), SubscriptionControllerOptions{})

	require.NoError(t, c.Start(context.Background(), "BTCUSDT"))
	assert.ErrorIs(t, c.Start(context.Background(), "ETHBTC"), ErrControllerStarted)
	assert.Equal(t, domain.Pair("BTCUSDT"), c.Status().Pair)
}

func TestSubscriptionController_MalformedFrameKeepsLastGood(t *testing.T) {
	dialer := newFakeDialer()
	c := newController(t, dialer, SubscriptionControllerOptions{})
	require.NoError(t, c.Start(context.Background(), "BTCUSDT"))
	conn := dialer.last(t, "BTCUSDT")

	conn.send(scenarioPayload)
	waitForSnapshot(t, c, mustParse(t, scenarioPayload))
	version := c.Storage().Version()

	conn.send(`{"top_of_book": {}}`)
	conn.send(`not json`)
	conn.send(ethPayload)
	waitForSnapshot(t, c, mustParse(t, ethPayload))

	assert.Equal(t, version+1, c.Storage().Version())
	assert.Equal(t, StateLive, c.Status().State)
}

func TestSubscriptionController_SwitchPair(t *testing.T) {
	dialer := newFakeDialer()
	c := newController(t, dialer, SubscriptionControllerOptions{})
	require.NoError(t, c.Start(context.Background(), "BTCUSDT"))

	connA := dialer.last(t, "BTCUSDT")
	connA.send(scenarioPayload)
	waitForSnapshot(t, c, mustParse(t, scenarioPayload))
	oldID := c.Status().ConnectionID

	require.NoError(t, c.SetPair(context.Background(), "ETHBTC"))

	assert.True(t, connA.isClosed())
	assert.Equal(t, domain.EmptySnapshot(), c.Storage().Current())

	status := c.Status()
	assert.Equal(t, StateLive, status.State)
	assert.Equal(t, domain.Pair("ETHBTC"), status.Pair)
	assert.NotEqual(t, oldID, status.ConnectionID)

	dialer.last(t, "ETHBTC").send(ethPayload)
	waitForSnapshot(t, c, mustParse(t, ethPayload))
}

func TestSubscriptionController_StaleFrameIsNotPublished(t *testing.T) {
	dialer := newFakeDialer()
	c := newController(t, dialer, SubscriptionControllerOptions{})
	require.NoError(t, c.Start(context.Background(), "BTCUSDT"))

	c.mu.Lock()
	stale := c.active
	c.mu.Unlock()

	require.NoError(t, c.SetPair(context.Background(), "ETHBTC"))
	version := c.Storage().Version()

	// a frame of the replaced connection that was already read off the wire
	c.handleFrame(stale, []byte(scenarioPayload))

	assert.Equal(t, version, c.Storage().Version())
	assert.Equal(t, domain.EmptySnapshot(), c.Storage().Current())
}

func TestSubscriptionController_SamePairIsNoop(t *testing.T) {
	dialer := newFakeDialer()
	c := newController(t, dialer, SubscriptionControllerOptions{})
	require.NoError(t, c.Start(context.Background(), "BTCUSDT"))

	dialer.last(t, "BTCUSDT").send(scenarioPayload)
	waitForSnapshot(t, c, mustParse(t, scenarioPayload))
	id := c.Status().ConnectionID

	require.NoError(t, c.SetPair(context.Background(), " btcusdt "))

	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, id, c.Status().ConnectionID)
	assert.Equal(t, mustParse(t, scenarioPayload), c.Storage().Current())
}

func TestSubscriptionController_InvalidPair(t *testing.T) {
	dialer := newFakeDialer()
	c := newController(t, dialer, SubscriptionControllerOptions{AvailablePairs: []string{"BTCUSDT", "ETHBTC"}})
	require.NoError(t, c.Start(context.Background(), "BTCUSDT"))
	dialer.last(t, "BTCUSDT").send(scenarioPayload)
	waitForSnapshot(t, c, mustParse(t, scenarioPayload))
	before := c.Status()

	for _, input := range []string{"", "   ", "BTC/USDT", "XRPUSDT"} {
		err := c.SetPair(context.Background(), input)
		assert.ErrorIs(t, err, domain.ErrInvalidPair, "input %q", input)
	}

	assert.Equal(t, before, c.Status())
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, mustParse(t, scenarioPayload), c.Storage().Current())
}

func TestSubscriptionController_ConnectionLost(t *testing.T) {
	dialer := newFakeDialer()
	c := newController(t, dialer, SubscriptionControllerOptions{})
	require.NoError(t, c.Start(context.Background(), "BTCUSDT"))

	conn := dialer.last(t, "BTCUSDT")
	conn.send(scenarioPayload)
	conn.fail(io.ErrUnexpectedEOF)

	require.Eventually(t, func() bool { return c.Status().State == StateIdle }, waitFor, tick)

	status := c.Status()
	assert.ErrorIs(t, status.Err, domain.ErrConnectionClosed)
	assert.ErrorIs(t, status.Err, io.ErrUnexpectedEOF)
	assert.Empty(t, status.ConnectionID)
	// frames received before the failure are still published and kept
	assert.Equal(t, mustParse(t, scenarioPayload), c.Storage().Current())
	assert.Equal(t, 1, dialer.dialCount())

	require.NoError(t, c.SetPair(context.Background(), "BTCUSDT"))
	assert.Equal(t, StateLive, c.Status().State)
	assert.NoError(t, c.Status().Err)
	assert.Equal(t, 2, dialer.dialCount())
}

func TestSubscriptionController_DialFailure(t *testing.T) {
	dialer := newFakeDialer()
	dialer.err = errors.New("connection refused")
	c := newController(t, dialer, SubscriptionControllerOptions{})

	err := c.Start(context.Background(), "BTCUSDT")
	require.Error(t, err)

	status := c.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.ErrorIs(t, status.Err, domain.ErrConnectionClosed)
	assert.Equal(t, domain.EmptySnapshot(), c.Storage().Current())

	dialer.mu.Lock()
	dialer.err = nil
	dialer.mu.Unlock()

	require.NoError(t, c.Start(context.Background(), "BTCUSDT"))
	assert.Equal(t, StateLive, c.Status().State)
}

func TestSubscriptionController_SupersededDial(t *testing.T) {
	dialer := newFakeDialer()
	dialer.block = make(chan struct{})
	c := newController(t, dialer, SubscriptionControllerOptions{})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(context.Background(), "BTCUSDT") }()

	require.Eventually(t, func() bool { return c.Status().State == StateConnecting }, waitFor, tick)

	c.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSubscriptionSuperseded)
	case <-time.After(waitFor):
		t.Fatal("dial was not cancelled")
	}
	assert.Equal(t, StateIdle, c.Status().State)
}

func TestSubscriptionController_Stop(t *testing.T) {
	dialer := newFakeDialer()
	c := newController(t, dialer, SubscriptionControllerOptions{})

	c.Stop()
	assert.Equal(t, StateIdle, c.Status().State)

	require.NoError(t, c.Start(context.Background(), "BTCUSDT"))
	conn := dialer.last(t, "BTCUSDT")
	conn.send(scenarioPayload)
	waitForSnapshot(t, c, mustParse(t, scenarioPayload))

	c.Stop()
	c.Stop()

	assert.True(t, conn.isClosed())
	status := c.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Empty(t, status.Pair)
	assert.Empty(t, status.ConnectionID)
	assert.NoError(t, status.Err)
	assert.Equal(t, domain.EmptySnapshot(), c.Storage().Current())
}

func TestSubscriptionController_StopAfterConnectionLost(t *testing.T) {
	dialer := newFakeDialer()
	c := newController(t, dialer, SubscriptionControllerOptions{})
	require.NoError(t, c.Start(context.Background(), "BTCUSDT"))

	conn := dialer.last(t, "BTCUSDT")
	conn.send(scenarioPayload)
	conn.fail(io.ErrUnexpectedEOF)

	require.Eventually(t, func() bool { return c.Status().State == StateIdle }, waitFor, tick)
	require.Equal(t, mustParse(t, scenarioPayload), c.Storage().Current())

	c.Stop()

	status := c.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Empty(t, status.Pair)
	assert.NoError(t, status.Err)
	assert.Equal(t, domain.EmptySnapshot(), c.Storage().Current())
	assert.Equal(t, 1, dialer.dialCount())
}

func TestSubscriptionController_ConcurrentStart(t *testing.T) {
	dialer := newFakeDialer()
	c := newController(t, dialer, SubscriptionControllerOptions{})

	const callers = 8
	pairs := []string{"BTCUSDT", "ETHUSDT"}

	var wg sync.WaitGroup
	begin := make(chan struct{})
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(pair string) {
			defer wg.Done()
			<-begin
			errs <- c.Start(context.Background(), pair)
		}(pairs[i%len(pairs)])
	}
	close(begin)
	wg.Wait()
	close(errs)

	started := 0
	for err := range errs {
		if err == nil {
			started++
			continue
		}
		assert.ErrorIs(t, err, ErrControllerStarted)
	}
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, StateLive, c.Status().State)
}

func TestFeedConnection_InboxDropsOldest(t *testing.T) {
	fc := newFeedConnection("BTCUSDT")
	defer fc.cancel()

	assert.False(t, fc.push(inboundFrame{data: []byte("1")}, 2))
	assert.False(t, fc.push(inboundFrame{data: []byte("2")}, 2))
	assert.True(t, fc.push(inboundFrame{data: []byte("3")}, 2))
	// errors are never dropped
	assert.False(t, fc.push(inboundFrame{err: io.EOF}, 2))

	var got []string
	for {
		frame, ok := fc.pop()
		if !ok {
			break
		}
		if frame.err != nil {
			got = append(got, "err")
			continue
		}
		got = append(got, string(frame.data))
	}
	assert.Equal(t, []string{"2", "3", "err"}, got)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "CONNECTING", StateConnecting.String())
	assert.Equal(t, "LIVE", StateLive.String())
	assert.Equal(t, "CLOSING", StateClosing.String())
}
