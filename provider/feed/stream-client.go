package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spooky-finn/go-orderbook-live/domain"
	"github.com/spooky-finn/go-orderbook-live/infrastructure/logger"
)

const (
	defaultPairParam        = "pair"
	defaultHandshakeTimeout = 5 * time.Second
	defaultReadLimit        = 655350
	closeWait               = time.Second
)

type StreamClientConfig struct {
	Endpoint         string
	PairParam        string
	HandshakeTimeout time.Duration
	ReadLimit        int64
}

// StreamClient dials the order book feed. Every dial opens a fresh connection
// scoped to a single pair.
type StreamClient struct {
	endpoint  *url.URL
	pairParam string
	readLimit int64
	dialer    *websocket.Dialer
	log       *logger.Entry
}

func NewStreamClient(conf StreamClientConfig) (*StreamClient, error) {
	endpoint, err := url.Parse(conf.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse feed endpoint %q: %w", conf.Endpoint, err)
	}
	if endpoint.Scheme != "ws" && endpoint.Scheme != "wss" {
		return nil, fmt.Errorf("feed endpoint %q must use ws or wss", conf.Endpoint)
	}

	pairParam := conf.PairParam
	if pairParam == "" {
		pairParam = defaultPairParam
	}
	handshakeTimeout := conf.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	readLimit := conf.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}

	return &StreamClient{
		endpoint:  endpoint,
		pairParam: pairParam,
		readLimit: readLimit,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		log: logger.GetLogger().WithComponent("feed-stream-client"),
	}, nil
}

// URL returns the connection URL for pair with the pair set as a query parameter.
func (c *StreamClient) URL(pair domain.Pair) string {
	u := *c.endpoint
	q := u.Query()
	q.Set(c.pairParam, pair.String())
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *StreamClient) Dial(ctx context.Context, pair domain.Pair) (domain.FeedConn, error) {
	target := c.URL(pair)

	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	conn.SetReadLimit(c.readLimit)

	c.log.WithFields(logger.Fields{"pair": pair.String(), "url": target}).Debug("feed connection established")
	return &streamConn{conn: conn}, nil
}

type streamConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (s *streamConn) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *streamConn) Close() error {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
