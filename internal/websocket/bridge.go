package websocket

import (
	"context"

	"github.com/itbees/mdbctl/internal/mdb"
)

// eventSubscriber is the slice of EventBus the bridge needs, kept narrow so
// this package doesn't otherwise couple to mdb internals.
type eventSubscriber interface {
	Subscribe(buffer int) (ch chan mdb.DeviceEvent, unsubscribe func())
}

// BridgeEvents subscribes to bus and forwards every DeviceEvent to hub as a
// broadcast message, until ctx is cancelled.
func BridgeEvents(ctx context.Context, bus eventSubscriber, hub *Hub) {
	ch, unsubscribe := bus.Subscribe(64)
	go func() {
		defer unsubscribe()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				hub.Broadcast(ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}
