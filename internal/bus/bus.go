package bus

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

const (
	// DefaultHistorySize is the number of recent turn events kept for
	// the logs endpoint and websocket replay.
	DefaultHistorySize = 1000

	// DefaultChannelBuffer is the buffer size for subscriber channels.
	DefaultChannelBuffer = 100
)

// SubscriptionID identifies a subscription.
type SubscriptionID string

type subscription struct {
	eventType EventType
	handler   func(Event)
	ch        chan Event
	done      chan struct{}
}

func (s *subscription) matches(e Event) bool {
	return s.eventType == "" || s.eventType == e.Type
}

// Bus fans turn events out to subscribers and keeps a bounded history.
// Publish never blocks: a subscriber whose buffer is full misses the
// event and Dropped counts it.
type Bus struct {
	mu      sync.RWMutex
	subs    map[SubscriptionID]*subscription
	nextSub atomic.Uint64

	historyMu   sync.RWMutex
	history     []Event
	historySize int

	dropped atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewBus creates a bus with the default history size.
func NewBus() *Bus {
	return NewBusWithConfig(DefaultHistorySize)
}

// NewBusWithConfig creates a bus retaining historySize events.
func NewBusWithConfig(historySize int) *Bus {
	if historySize < 0 {
		historySize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		subs:        make(map[SubscriptionID]*subscription),
		history:     make([]Event, 0, historySize),
		historySize: historySize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Subscribe calls handler for every event of eventType, or for every
// event when eventType is empty. Handlers run on one goroutine per
// subscription, in publish order. It returns "" once the bus is closed.
func (b *Bus) Subscribe(eventType EventType, handler func(Event)) SubscriptionID {
	if b.closed.Load() {
		return ""
	}

	id := SubscriptionID(fmt.Sprintf("sub_%d", b.nextSub.Add(1)))
	sub := &subscription{
		eventType: eventType,
		handler:   handler,
		ch:        make(chan Event, DefaultChannelBuffer),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run(sub)
	return id
}

func (b *Bus) run(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case e := <-sub.ch:
			sub.handler(e)
		case <-sub.done:
			return
		case <-b.ctx.Done():
			return
		}
	}
}

// Unsubscribe stops a subscription. Events still buffered for it are
// discarded.
func (b *Bus) Unsubscribe(id SubscriptionID) error {
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}

	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("subscription %s not found", id)
	}
	close(sub.done)
	return nil
}

// Publish records the event and hands it to every matching subscriber.
func (b *Bus) Publish(event Event) error {
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}

	b.record(event)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Dropped returns how many deliveries were skipped because a subscriber
// buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) record(event Event) {
	if b.historySize == 0 {
		return
	}
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	b.history = append(b.history, event)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
}

// Recent returns the last n retained events of a session, oldest first.
// An empty sessionID matches every session; n <= 0 returns all matches.
func (b *Bus) Recent(sessionID string, n int) []Event {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	var out []Event
	for i := len(b.history) - 1; i >= 0; i-- {
		if n > 0 && len(out) == n {
			break
		}
		if e := b.history[i]; sessionID == "" || e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	slices.Reverse(out)
	return out
}

// Close stops every subscriber goroutine.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("bus already closed")
	}

	b.cancel()
	b.wg.Wait()

	// Subscriber channels stay open: a Publish racing with Close may
	// still deliver into a buffer nobody reads.
	b.mu.Lock()
	b.subs = make(map[SubscriptionID]*subscription)
	b.mu.Unlock()
	return nil
}
