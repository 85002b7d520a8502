package domain

import "sync"

// OrderBookStorage is the single cell holding the current snapshot shown to
// presentation. It has one writer (the subscription controller) and any number
// of readers. Writes always replace the whole snapshot.
type OrderBookStorage struct {
	mu      sync.RWMutex
	current OrderBookSnapshot
	version uint64

	subscribers map[uint64]chan OrderBookSnapshot
	nextSubID   uint64
}

func NewOrderBookStorage() *OrderBookStorage {
	return &OrderBookStorage{
		current:     EmptySnapshot(),
		subscribers: make(map[uint64]chan OrderBookSnapshot),
	}
}

// Replace overwrites the cell with snapshot. Depth arrays of the previous value
// are never merged in.
func (o *OrderBookStorage) Replace(snapshot OrderBookSnapshot) {
	o.write(snapshot.Clone())
}

// Reset restores the empty defaults.
func (o *OrderBookStorage) Reset() {
	o.write(EmptySnapshot())
}

// Current returns a copy of the latest snapshot.
func (o *OrderBookStorage) Current() OrderBookSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.current.Clone()
}

// Version counts writes since creation.
func (o *OrderBookStorage) Version() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.version
}

// Subscribe registers for change notifications. The stream holds at most one
// pending snapshot; a slow reader only ever sees the latest value.
func (o *OrderBookStorage) Subscribe() *Subscription[OrderBookSnapshot] {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextSubID
	o.nextSubID++

	ch := make(chan OrderBookSnapshot, 1)
	o.subscribers[id] = ch

	return &Subscription[OrderBookSnapshot]{
		Stream: ch,
		Unsubscribe: func() {
			o.unsubscribe(id)
		},
		Topic: "orderbook",
	}
}

func (o *OrderBookStorage) SubscriberCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return len(o.subscribers)
}

func (o *OrderBookStorage) unsubscribe(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ch, ok := o.subscribers[id]; ok {
		close(ch)
		delete(o.subscribers, id)
	}
}

func (o *OrderBookStorage) write(snapshot OrderBookSnapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.current = snapshot
	o.version++

	for _, ch := range o.subscribers {
		SendLatest(ch, snapshot.Clone())
	}
}

// SendLatest replaces any unread value in the single slot channel ch with
// snapshot. Callers must be the only sender on ch, then the final send cannot
// block.
func SendLatest(ch chan OrderBookSnapshot, snapshot OrderBookSnapshot) {
	select {
	case ch <- snapshot:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}
	ch <- snapshot
}
