package mdb

import (
	"sync"

	"github.com/itbees/mdbctl/internal/logger"
	"go.uber.org/zap"
)

// EventBus fans a single producer's DeviceEvent stream out to any number of
// observers (the websocket hub, the ledger writer, CLI tooling). Modeled on
// the teacher's websocket Hub register/unregister/broadcast loop, but
// carrying DeviceEvent instead of a client connection.
type EventBus struct {
	subscribersMu sync.RWMutex
	subscribers   map[chan DeviceEvent]struct{}

	publish chan DeviceEvent
	stop    chan struct{}
	log     *zap.Logger
}

// NewEventBus returns a bus with its dispatch loop not yet started.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[chan DeviceEvent]struct{}),
		publish:     make(chan DeviceEvent, 256),
		stop:        make(chan struct{}),
		log:         logger.ForComponent(logger.ComponentEventBus),
	}
}

// Run drains the publish channel and fans each event out to subscribers
// until Stop is called. Intended to run in its own goroutine.
func (b *EventBus) Run() {
	for {
		select {
		case ev := <-b.publish:
			b.dispatch(ev)
		case <-b.stop:
			return
		}
	}
}

// Stop terminates Run.
func (b *EventBus) Stop() {
	close(b.stop)
}

// Publish enqueues ev for delivery to all current subscribers. Non-blocking:
// a full buffer drops the event and logs a warning rather than stalling the
// caller (the poll loop, escrow, payout or cashless state machine).
func (b *EventBus) Publish(ev DeviceEvent) {
	select {
	case b.publish <- ev:
	default:
		b.log.Warn("event bus buffer full, dropping event", zap.String("kind", string(ev.Kind)))
	}
}

// Subscribe registers a new observer channel and returns it along with an
// unsubscribe function. The channel is buffered so a slow observer cannot
// stall dispatch to the others.
func (b *EventBus) Subscribe(buffer int) (ch chan DeviceEvent, unsubscribe func()) {
	ch = make(chan DeviceEvent, buffer)
	b.subscribersMu.Lock()
	b.subscribers[ch] = struct{}{}
	b.subscribersMu.Unlock()

	unsubscribe = func() {
		b.subscribersMu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.subscribersMu.Unlock()
	}
	return ch, unsubscribe
}

func (b *EventBus) dispatch(ev DeviceEvent) {
	b.subscribersMu.RLock()
	defer b.subscribersMu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.log.Warn("subscriber channel full, dropping event", zap.String("kind", string(ev.Kind)))
		}
	}
}
