package ledger

import (
	"context"
	"time"

	"github.com/itbees/mdbctl/internal/logger"
	"github.com/itbees/mdbctl/internal/mdb"
	"go.uber.org/zap"
)

var deviceKindToEntryKind = map[mdb.EventKind]EntryKind{
	mdb.EventCashProcessed:          KindCashProcessed,
	mdb.EventCoinReceived:           KindCoinReceived,
	mdb.EventCoinToCashbox:          KindCoinToCashbox,
	mdb.EventCoinDispensed:          KindCoinDispensed,
	mdb.EventCashlessVendApproved:   KindCashlessVendApproved,
	mdb.EventCashlessVendDenied:     KindCashlessVendDenied,
}

// eventSubscriber is the slice of EventBus BridgeEvents needs, kept narrow
// the way internal/websocket's bridge does.
type eventSubscriber interface {
	Subscribe(buffer int) (ch chan mdb.DeviceEvent, unsubscribe func())
}

// BridgeEvents subscribes to bus and appends one ledger Entry per
// money-moving DeviceEvent, until ctx is cancelled. Append failures are
// logged and skipped rather than retried — the ledger is best-effort
// history, never a gate on the peripheral controller's own operation.
func BridgeEvents(ctx context.Context, bus eventSubscriber, repo Repository) {
	log := logger.GetModuleLogger("ledger")
	ch, unsubscribe := bus.Subscribe(64)

	go func() {
		defer unsubscribe()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				appendEntry(ctx, repo, ev, log)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func appendEntry(ctx context.Context, repo Repository, ev mdb.DeviceEvent, log *zap.Logger) {
	kind, tracked := deviceKindToEntryKind[ev.Kind]
	if !tracked {
		return
	}

	entry := &Entry{
		Kind:      kind,
		Message:   ev.Message,
		CreatedAt: time.Now().UTC(),
	}
	if ev.Amount != nil {
		entry.Amount = *ev.Amount
	}
	if ev.Accepted != nil {
		entry.Accepted = *ev.Accepted
	} else {
		// events with no explicit accepted/denied flag (coin credit,
		// dispense confirmation) are successful by construction.
		entry.Accepted = true
	}

	if err := repo.Append(ctx, entry); err != nil {
		log.Warn("failed to append ledger entry",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}
