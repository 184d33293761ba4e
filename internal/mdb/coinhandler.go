package mdb

import (
	"sync"
	"time"

	"github.com/itbees/mdbctl/internal/inventory"
	"github.com/itbees/mdbctl/internal/logger"
	"go.uber.org/zap"
)

// CoinHandler decodes every coin frame in a poll response, classifies its
// routing, updates inventory, and resolves any outstanding DispenseWaiter.
type CoinHandler struct {
	table *CoinTypeTable
	inv   *inventory.Store
	bus   *EventBus
	log   *zap.Logger

	waitersMu sync.Mutex
	waiters   map[int]*DispenseWaiter
}

// NewCoinHandler builds a CoinHandler resolving frames against table,
// crediting inv, and narrating via bus.
func NewCoinHandler(table *CoinTypeTable, inv *inventory.Store, bus *EventBus) *CoinHandler {
	return &CoinHandler{
		table:   table,
		inv:     inv,
		bus:     bus,
		log:     logger.ForComponent(logger.ComponentCoinHandler),
		waiters: make(map[int]*DispenseWaiter),
	}
}

// HandleLine decodes every coin frame in line and dispatches each in
// decoded order.
func (h *CoinHandler) HandleLine(line string) {
	for _, frame := range ParseCoinStream(line) {
		h.handleFrame(frame)
	}
}

func (h *CoinHandler) handleFrame(frame CoinFrame) {
	denom, ok := h.table.Lookup(frame.TypeIndex)
	if !ok {
		h.log.Warn("coin frame with unknown type index dropped", zap.Int("type_index", frame.TypeIndex))
		return
	}

	switch frame.Route {
	case RouteToTube:
		h.inv.RegisterCoinAccepted(denom)
		h.bus.Publish(DeviceEvent{
			Kind:        EventCoinReceived,
			PaymentType: PaymentCash,
			Amount:      amountPtr(denom),
			Timestamp:   time.Now(),
		})
	case RouteToCashbox:
		h.inv.RegisterCoinToCashboxAccepted(denom)
		h.bus.Publish(DeviceEvent{
			Kind:        EventCoinToCashbox,
			PaymentType: PaymentCash,
			Amount:      amountPtr(denom),
			Timestamp:   time.Now(),
		})
	case RouteDispensed:
		h.inv.RegisterCoinDispensed(denom)
		h.resolveWaiter(denom, true)
		h.bus.Publish(DeviceEvent{
			Kind:        EventCoinDispensed,
			PaymentType: PaymentCash,
			Amount:      amountPtr(denom),
			Timestamp:   time.Now(),
		})
	default:
		h.log.Warn("coin frame with unknown route dropped", zap.Int("type_index", frame.TypeIndex))
	}
}

// RegisterWaiter inserts a DispenseWaiter for denom into the waiter table and
// returns it. Callers must register the waiter before issuing the payout
// command that can trigger its confirmation — a Dispensed frame arriving for
// denom with no registered waiter is silently dropped by resolveWaiter, so
// registration can never happen after the command that solicits the frame.
func (h *CoinHandler) RegisterWaiter(denom int) *DispenseWaiter {
	waiter := NewDispenseWaiter(denom)
	h.waitersMu.Lock()
	h.waiters[denom] = waiter
	h.waitersMu.Unlock()
	return waiter
}

// CancelWaiter removes waiter from the table if it is still the one
// registered for denom, used when the payout command that would have
// triggered its confirmation never went out.
func (h *CoinHandler) CancelWaiter(denom int, waiter *DispenseWaiter) {
	h.waitersMu.Lock()
	if h.waiters[denom] == waiter {
		delete(h.waiters, denom)
	}
	h.waitersMu.Unlock()
}

// AwaitDispense blocks until waiter resolves via a matching Dispensed frame
// or deadline elapses, then removes it from the waiter table.
func (h *CoinHandler) AwaitDispense(denom int, waiter *DispenseWaiter, deadline time.Time) bool {
	ok := waiter.Wait(deadline)

	h.waitersMu.Lock()
	if h.waiters[denom] == waiter {
		delete(h.waiters, denom)
	}
	h.waitersMu.Unlock()

	return ok
}

// AbandonWaiters resolves every outstanding waiter as failed and clears the
// table, used when a payout session exits.
func (h *CoinHandler) AbandonWaiters() {
	h.waitersMu.Lock()
	defer h.waitersMu.Unlock()
	for denom, w := range h.waiters {
		w.Resolve(false)
		delete(h.waiters, denom)
	}
}

func (h *CoinHandler) resolveWaiter(denom int, success bool) {
	h.waitersMu.Lock()
	w, ok := h.waiters[denom]
	h.waitersMu.Unlock()
	if ok {
		w.Resolve(success)
	}
}
