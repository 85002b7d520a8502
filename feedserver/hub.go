package feedserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spooky-finn/go-orderbook-live/domain"
	"github.com/spooky-finn/go-orderbook-live/infrastructure/logger"
	promclient "github.com/spooky-finn/go-orderbook-live/infrastructure/prometheus"
)

const (
	defaultBroadcastInterval = 100 * time.Millisecond
	defaultSendBuf           = 16
	defaultRetryDelay        = time.Second
	maxConsecutiveDrops      = 50
)

type HubConfig struct {
	// BroadcastInterval is the minimum time between two frames sent to a client.
	BroadcastInterval time.Duration
	SendBuffer        int
	// RetryDelay is the pause before an ended upstream is opened again.
	RetryDelay time.Duration
}

type topic struct {
	pair    domain.Pair
	clients map[*Client]struct{}
	cancel  context.CancelFunc
	latest  []byte
	pending bool
}

type bookUpdate struct {
	topic   *topic
	payload []byte
}

// Hub fans the book of every requested pair out to its clients. One upstream
// subscription is kept per pair while at least one client watches it.
type Hub struct {
	source   domain.BookSource
	interval time.Duration
	sendBuf  int
	retry    time.Duration

	register   chan *Client
	unregister chan *Client
	updates    chan bookUpdate
	done       chan struct{}

	topics map[domain.Pair]*topic
	log    *logger.Entry
}

func NewHub(source domain.BookSource, conf HubConfig) *Hub {
	interval := conf.BroadcastInterval
	if interval <= 0 {
		interval = defaultBroadcastInterval
	}
	sendBuf := conf.SendBuffer
	if sendBuf <= 0 {
		sendBuf = defaultSendBuf
	}
	retry := conf.RetryDelay
	if retry <= 0 {
		retry = defaultRetryDelay
	}

	return &Hub{
		source:     source,
		interval:   interval,
		sendBuf:    sendBuf,
		retry:      retry,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		updates:    make(chan bookUpdate),
		done:       make(chan struct{}),
		topics:     make(map[domain.Pair]*topic),
		log:        logger.GetLogger().WithComponent("feed-hub"),
	}
}

// Run runs the hub event loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Info("feed hub started")
	for {
		select {
		case c := <-h.register:
			h.add(ctx, c)

		case c := <-h.unregister:
			h.remove(c)

		case u := <-h.updates:
			if t := h.topics[u.topic.pair]; t == u.topic {
				t.latest = u.payload
				t.pending = true
			}

		case <-ticker.C:
			h.broadcast()

		case <-ctx.Done():
			h.log.Info("feed hub shutting down")
			for _, t := range h.topics {
				for c := range t.clients {
					h.remove(c)
				}
			}
			return
		}
	}
}

// Register hands c to the hub. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) add(ctx context.Context, c *Client) {
	t := h.topics[c.pair]
	if t == nil {
		topicCtx, cancel := context.WithCancel(ctx)
		t = &topic{
			pair:    c.pair,
			clients: make(map[*Client]struct{}),
			cancel:  cancel,
		}
		h.topics[c.pair] = t
		go h.pump(topicCtx, t)

		promclient.RelayUpstreams.Inc()
		h.log.WithFields(logger.Fields{"pair": c.pair.String()}).Info("upstream opened")
	}

	t.clients[c] = struct{}{}
	promclient.RelayClients.WithLabelValues(c.pair.String()).Inc()

	// a late joiner gets the current book right away
	if t.latest != nil {
		h.deliver(t, c, t.latest)
	}
}

func (h *Hub) remove(c *Client) {
	t := h.topics[c.pair]
	if t == nil {
		return
	}
	if _, ok := t.clients[c]; !ok {
		return
	}

	delete(t.clients, c)
	close(c.send)
	promclient.RelayClients.WithLabelValues(c.pair.String()).Dec()

	if len(t.clients) == 0 {
		t.cancel()
		delete(h.topics, c.pair)
		promclient.RelayUpstreams.Dec()
		h.log.WithFields(logger.Fields{"pair": c.pair.String()}).Info("upstream closed")
	}
}

func (h *Hub) broadcast() {
	for _, t := range h.topics {
		if !t.pending {
			continue
		}
		t.pending = false
		for c := range t.clients {
			h.deliver(t, c, t.latest)
		}
	}
}

// deliver never blocks. A client that keeps missing frames is evicted.
func (h *Hub) deliver(t *topic, c *Client, payload []byte) {
	select {
	case c.send <- payload:
		c.drops = 0
	default:
		c.drops++
		promclient.RelaySendDrops.Inc()
		if c.drops > maxConsecutiveDrops {
			h.log.WithFields(logger.Fields{"pair": t.pair.String(), "drops": c.drops}).Warn("evicting slow client")
			h.remove(c)
			_ = c.conn.Close()
		}
	}
}

// pump keeps the upstream of t open until its context ends.
func (h *Hub) pump(ctx context.Context, t *topic) {
	for {
		subscription, err := h.source.BookStream(ctx, t.pair)
		if err != nil {
			h.log.WithError(err).WithFields(logger.Fields{"pair": t.pair.String()}).Error("failed to open upstream")
		} else if !h.forward(ctx, t, subscription) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(h.retry):
		}
		h.log.WithFields(logger.Fields{"pair": t.pair.String()}).Info("reopening upstream")
	}
}

// forward relays snapshots to the hub and reports whether the upstream ended
// on its own.
func (h *Hub) forward(ctx context.Context, t *topic, subscription *domain.Subscription[domain.OrderBookSnapshot]) bool {
	defer subscription.Unsubscribe()

	for snapshot := range subscription.Stream {
		payload, err := json.Marshal(snapshot)
		if err != nil {
			h.log.WithError(err).Error("failed to encode snapshot")
			continue
		}
		select {
		case h.updates <- bookUpdate{topic: t, payload: payload}:
		case <-ctx.Done():
			return false
		}
	}

	if ctx.Err() != nil {
		return false
	}
	h.log.WithFields(logger.Fields{"pair": t.pair.String()}).Warn("upstream ended")
	return true
}
