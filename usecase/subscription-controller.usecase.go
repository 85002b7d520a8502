package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"github.com/spooky-finn/go-orderbook-live/domain"
	"github.com/spooky-finn/go-orderbook-live/infrastructure/logger"
	promclient "github.com/spooky-finn/go-orderbook-live/infrastructure/prometheus"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateLive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateLive:
		return "LIVE"
	case StateClosing:
		return "CLOSING"
	}
	return "UNKNOWN"
}

const DefaultInboxLimit = 64

var (
	ErrControllerStarted = errors.New("subscription controller already started")
	// ErrSubscriptionSuperseded is returned by a dial that was overtaken by a
	// newer SetPair or Stop.
	ErrSubscriptionSuperseded = errors.New("subscription superseded")
)

// Status is what the hosting shell shows next to the book.
type Status struct {
	State        State
	Pair         domain.Pair
	ConnectionID string
	Err          error
}

type SubscriptionControllerOptions struct {
	// InboxLimit bounds the frames queued per connection. The oldest frame is
	// dropped on overflow.
	InboxLimit int
	// AvailablePairs restricts accepted pairs when not empty.
	AvailablePairs []string
}

type inboundFrame struct {
	data []byte
	err  error
}

type feedConnection struct {
	id     string
	pair   domain.Pair
	conn   domain.FeedConn
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	inbox deque.Deque[inboundFrame]
	wake  chan struct{}
	wg    sync.WaitGroup
}

// SubscriptionController owns the single live feed subscription and is the
// only writer of the order book storage.
type SubscriptionController struct {
	dialer     domain.FeedDialer
	storage    *domain.OrderBookStorage
	inboxLimit int
	available  map[domain.Pair]struct{}
	log        *logger.Entry

	mu      sync.Mutex
	state   State
	pair    domain.Pair
	active  *feedConnection
	lastErr error
}

func NewSubscriptionController(
	dialer domain.FeedDialer,
	storage *domain.OrderBookStorage,
	opts SubscriptionControllerOptions,
) *SubscriptionController {
	inboxLimit := opts.InboxLimit
	if inboxLimit <= 0 {
		inboxLimit = DefaultInboxLimit
	}

	var available map[domain.Pair]struct{}
	if len(opts.AvailablePairs) > 0 {
		available = make(map[domain.Pair]struct{}, len(opts.AvailablePairs))
		for _, p := range opts.AvailablePairs {
			if pair, err := domain.NewPair(p); err == nil {
				available[pair] = struct{}{}
			}
		}
	}

	promclient.FeedConnectionState.Set(float64(StateIdle))

	return &SubscriptionController{
		dialer:     dialer,
		storage:    storage,
		inboxLimit: inboxLimit,
		available:  available,
		log:        logger.GetLogger().WithComponent("subscription-controller"),
		state:      StateIdle,
	}
}

// Storage returns the store the controller publishes into.
func (c *SubscriptionController) Storage() *domain.OrderBookStorage {
	return c.storage
}

func (c *SubscriptionController) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{State: c.state, Pair: c.pair, Err: c.lastErr}
	if c.active != nil {
		status.ConnectionID = c.active.id
	}
	return status
}

// ParsePair validates raw input against the pair grammar and the configured
// pair list.
func (c *SubscriptionController) ParsePair(raw string) (domain.Pair, error) {
	pair, err := domain.NewPair(raw)
	if err != nil {
		return "", err
	}
	if c.available != nil {
		if _, ok := c.available[pair]; !ok {
			return "", fmt.Errorf("%w: %s is not supported", domain.ErrInvalidPair, pair)
		}
	}
	return pair, nil
}

// Start opens the first subscription. It fails unless the controller is idle.
func (c *SubscriptionController) Start(ctx context.Context, pair string) error {
	return c.subscribe(ctx, pair, true)
}

// SetPair replaces the active subscription with one for pair. The store is
// reset before the new connection is dialed so no data of the previous pair
// stays visible under the new one.
func (c *SubscriptionController) SetPair(ctx context.Context, raw string) error {
	return c.subscribe(ctx, raw, false)
}

// subscribe claims the CONNECTING transition under c.mu. With idleOnly set it
// refuses unless the controller is idle at that moment.
func (c *SubscriptionController) subscribe(ctx context.Context, raw string, idleOnly bool) error {
	pair, err := c.ParsePair(raw)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if idleOnly && c.state != StateIdle {
		c.mu.Unlock()
		return ErrControllerStarted
	}
	if c.pair == pair && (c.state == StateLive || c.state == StateConnecting) {
		c.mu.Unlock()
		return nil
	}

	prev := c.active
	if prev != nil {
		c.setState(StateClosing)
		promclient.FeedPairSwitches.Inc()
	}
	c.active = nil
	c.storage.Reset()

	fc := newFeedConnection(pair)
	c.active = fc
	c.pair = pair
	c.lastErr = nil
	c.setState(StateConnecting)
	c.mu.Unlock()

	if prev != nil {
		c.release(prev)
		c.log.WithFields(logger.Fields{"pair": prev.pair.String(), "connection": prev.id}).Info("feed subscription closed")
	}

	return c.connect(ctx, fc)
}

// Stop tears the subscription down, resets the store and clears the pair and
// the last error. A connection lost earlier leaves its data in the store until
// Stop.
func (c *SubscriptionController) Stop() {
	c.mu.Lock()
	prev := c.active
	if prev != nil {
		c.setState(StateClosing)
	}
	c.active = nil
	c.pair = ""
	c.storage.Reset()
	c.lastErr = nil
	c.setState(StateIdle)
	c.mu.Unlock()

	if prev != nil {
		c.release(prev)
		c.log.WithFields(logger.Fields{"pair": prev.pair.String(), "connection": prev.id}).Info("feed subscription stopped")
	}
}

func (c *SubscriptionController) connect(ctx context.Context, fc *feedConnection) error {
	dialCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(fc.ctx, cancel)
	conn, err := c.dialer.Dial(dialCtx, fc.pair)
	stop()
	cancel()

	c.mu.Lock()
	if c.active != fc {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		promclient.FeedConnectionAttempts.WithLabelValues("superseded").Inc()
		return ErrSubscriptionSuperseded
	}

	if err != nil {
		c.active = nil
		c.lastErr = fmt.Errorf("%w: %w", domain.ErrConnectionClosed, err)
		c.setState(StateIdle)
		c.mu.Unlock()

		fc.cancel()
		promclient.FeedConnectionAttempts.WithLabelValues("failure").Inc()
		c.log.WithError(err).WithFields(logger.Fields{"pair": fc.pair.String()}).Error("feed dial failed")
		return fmt.Errorf("subscribe to %s: %w", fc.pair, err)
	}

	fc.conn = conn
	c.setState(StateLive)
	fc.wg.Add(2)
	go c.read(fc)
	go c.dispatch(fc)
	c.mu.Unlock()

	promclient.FeedConnectionAttempts.WithLabelValues("success").Inc()
	c.log.WithFields(logger.Fields{"pair": fc.pair.String(), "connection": fc.id}).Info("feed subscription live")
	return nil
}

// read moves transport frames into the inbox. A read error is queued behind
// the frames already received and ends the reader.
func (c *SubscriptionController) read(fc *feedConnection) {
	defer fc.wg.Done()

	for {
		data, err := fc.conn.ReadMessage()
		if err != nil {
			fc.push(inboundFrame{err: err}, c.inboxLimit)
			return
		}
		if dropped := fc.push(inboundFrame{data: data}, c.inboxLimit); dropped {
			promclient.FeedFrames.WithLabelValues(promclient.FrameOverflow).Inc()
		}
	}
}

func (c *SubscriptionController) dispatch(fc *feedConnection) {
	defer fc.wg.Done()

	for {
		select {
		case <-fc.ctx.Done():
			return
		case <-fc.wake:
		}

		for {
			frame, ok := fc.pop()
			if !ok {
				break
			}
			if frame.err != nil {
				c.onConnectionLost(fc, frame.err)
				return
			}
			c.handleFrame(fc, frame.data)
		}
	}
}

func (c *SubscriptionController) handleFrame(fc *feedConnection, data []byte) {
	snapshot, err := domain.ParseSnapshot(data)
	if err != nil {
		promclient.FeedFrames.WithLabelValues(promclient.FrameMalformed).Inc()
		c.log.WithError(err).WithFields(logger.Fields{"pair": fc.pair.String(), "connection": fc.id}).Warn("dropping malformed feed message")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != fc || c.state != StateLive {
		promclient.FeedFrames.WithLabelValues(promclient.FrameStale).Inc()
		return
	}
	c.storage.Replace(snapshot)
	promclient.FeedFrames.WithLabelValues(promclient.FramePublished).Inc()
}

func (c *SubscriptionController) onConnectionLost(fc *feedConnection, cause error) {
	c.mu.Lock()
	if c.active != fc {
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.lastErr = fmt.Errorf("%w: %w", domain.ErrConnectionClosed, cause)
	c.setState(StateIdle)
	c.mu.Unlock()

	fc.cancel()
	_ = fc.conn.Close()
	c.log.WithError(cause).WithFields(logger.Fields{"pair": fc.pair.String(), "connection": fc.id}).Warn("feed connection lost")
}

// release closes a detached connection and waits for its goroutines. Frames
// still queued are discarded.
func (c *SubscriptionController) release(fc *feedConnection) {
	fc.cancel()
	if fc.conn != nil {
		_ = fc.conn.Close()
	}
	fc.wg.Wait()
	fc.clear()
}

// setState must be called with c.mu held.
func (c *SubscriptionController) setState(state State) {
	c.state = state
	promclient.FeedConnectionState.Set(float64(state))
}

func newFeedConnection(pair domain.Pair) *feedConnection {
	ctx, cancel := context.WithCancel(context.Background())
	return &feedConnection{
		id:     uuid.NewString(),
		pair:   pair,
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}
}

// push appends a frame and reports whether the oldest frame was dropped.
func (fc *feedConnection) push(frame inboundFrame, limit int) bool {
	fc.mu.Lock()
	dropped := false
	if frame.err == nil && fc.inbox.Len() >= limit {
		fc.inbox.PopFront()
		dropped = true
	}
	fc.inbox.PushBack(frame)
	fc.mu.Unlock()

	select {
	case fc.wake <- struct{}{}:
	default:
	}
	return dropped
}

func (fc *feedConnection) pop() (inboundFrame, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.inbox.Len() == 0 {
		return inboundFrame{}, false
	}
	return fc.inbox.PopFront(), true
}

func (fc *feedConnection) clear() {
	fc.mu.Lock()
	fc.inbox.Clear()
	fc.mu.Unlock()
}
