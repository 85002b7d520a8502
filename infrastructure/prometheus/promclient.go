package promclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes of an inbound feed frame.
const (
	FramePublished = "published"
	FrameMalformed = "malformed"
	FrameStale     = "stale"
	FrameOverflow  = "overflow"
)

// FeedConnectionState is 0 idle, 1 connecting, 2 live, 3 closing.
var FeedConnectionState = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "orderbook_feed_connection_state",
		Help: "state of the order book feed subscription",
	},
)

var FeedConnectionAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orderbook_feed_connection_attempts_total",
		Help: "feed dial attempts by result",
	},
	[]string{"result"},
)

var FeedPairSwitches = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "orderbook_feed_pair_switches_total",
		Help: "resubscriptions caused by a pair change",
	},
)

var FeedFrames = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orderbook_feed_frames_total",
		Help: "inbound feed frames by outcome",
	},
	[]string{"outcome"},
)

var RelayClients = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "orderbook_relay_clients",
		Help: "websocket clients connected to the relay per pair",
	},
	[]string{"pair"},
)

var RelayUpstreams = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "orderbook_relay_upstreams",
		Help: "open upstream book subscriptions",
	},
)

var RelaySendDrops = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "orderbook_relay_send_drops_total",
		Help: "snapshots not delivered to a slow relay client",
	},
)

// NewRegistry registers every collector of this package plus the Go runtime
// collector on a private registry.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(FeedConnectionState)
	reg.MustRegister(FeedConnectionAttempts)
	reg.MustRegister(FeedPairSwitches)
	reg.MustRegister(FeedFrames)
	reg.MustRegister(RelayClients)
	reg.MustRegister(RelayUpstreams)
	reg.MustRegister(RelaySendDrops)
	reg.MustRegister(collectors.NewGoCollector())

	return reg
}

// StartPromClientServer serves /metrics on address until ctx is done.
func StartPromClientServer(ctx context.Context, address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(NewRegistry(), promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
