package domain

import "errors"

var (
	// Pair input that is empty, whitespace only or carries characters a feed
	// endpoint cannot accept. Rejected before any connection attempt.
	ErrInvalidPair = errors.New("invalid trading pair")
	// Inbound payload that does not match the order book snapshot schema.
	// The frame is dropped and the last good snapshot stays in place.
	ErrMalformedSnapshot = errors.New("malformed order book snapshot")
	// The feed connection closed without being asked to.
	ErrConnectionClosed = errors.New("feed connection closed")
)
