package domain

import "context"

// FeedConn is a live connection to an order book feed scoped to one pair.
// Close must be safe to call concurrently with ReadMessage and more than once.
type FeedConn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// FeedDialer opens a feed connection with the pair encoded as a connection
// parameter. No outbound messages are needed after the dial.
type FeedDialer interface {
	Dial(ctx context.Context, pair Pair) (FeedConn, error)
}

// BookSource produces full order book snapshots for a pair from an upstream
// exchange. The stream is closed when ctx is done or Unsubscribe is called.
type BookSource interface {
	BookStream(ctx context.Context, pair Pair) (*Subscription[OrderBookSnapshot], error)
}
