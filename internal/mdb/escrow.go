package mdb

import (
	"sync"
	"time"

	"github.com/itbees/mdbctl/internal/inventory"
	"github.com/itbees/mdbctl/internal/logger"
	"go.uber.org/zap"
)

const escrowDeadline = 5 * time.Second

// BanknoteEscrow is the per-bill accept/return state machine. Exactly one
// ticket is observable at a time; a decision posted with no open ticket is a
// no-op.
type BanknoteEscrow struct {
	exchange func(cmd string) (string, error)
	inv      *inventory.Store
	bus      *EventBus
	log      *zap.Logger

	deadline time.Duration

	mu      sync.Mutex
	current *EscrowTicket
}

// NewBanknoteEscrow builds a BanknoteEscrow. exchange performs one write/read
// exchange under the controller's I/O mutex, crediting inv, and narrating via
// bus.
func NewBanknoteEscrow(exchange func(cmd string) (string, error), inv *inventory.Store, bus *EventBus, deadline time.Duration) *BanknoteEscrow {
	if deadline <= 0 {
		deadline = escrowDeadline
	}
	return &BanknoteEscrow{
		exchange: exchange,
		inv:      inv,
		bus:      bus,
		log:      logger.ForComponent(logger.ComponentEscrow),
		deadline: deadline,
	}
}

// OnBillEscrow opens a ticket for a freshly decoded BillEscrow. A second
// frame arriving while a ticket is already open is rejected without
// disturbing the open ticket, per the resolved second-escrow-frame policy.
// It blocks awaiting the decision (or timeout), then drives the
// accept/return exchange, so callers should invoke it from a dedicated
// goroutine rather than the polling loop itself.
func (e *BanknoteEscrow) OnBillEscrow(bill BillEscrow) {
	e.mu.Lock()
	if e.current != nil {
		e.mu.Unlock()
		e.log.Warn("second escrow frame while ticket open, rejecting", zap.Int("amount", bill.Denomination))
		return
	}
	ticket := NewEscrowTicket(bill.Denomination, e.deadline)
	e.current = ticket
	e.mu.Unlock()

	e.bus.Publish(DeviceEvent{
		Kind:        EventCashEscrowRequested,
		PaymentType: PaymentCash,
		Amount:      amountPtr(ticket.Amount),
		Timestamp:   time.Now(),
	})

	decision := ticket.Await()

	if ticket.TimedOut {
		e.bus.Publish(DeviceEvent{
			Kind:      EventError,
			Message:   "escrow timeout",
			Amount:    amountPtr(ticket.Amount),
			Timestamp: time.Now(),
		})
	}

	accepted := decision == DecisionAccept
	cmd := "R,35,0"
	if accepted {
		cmd = "R,35,1"
	}

	if _, err := e.exchange(cmd); err != nil {
		e.log.Error("escrow decision exchange failed", zap.Error(err))
	}

	if accepted {
		e.inv.RegisterBanknoteAccepted(ticket.Amount)
	}

	e.bus.Publish(DeviceEvent{
		Kind:        EventCashProcessed,
		PaymentType: PaymentCash,
		Amount:      amountPtr(ticket.Amount),
		Accepted:    acceptedPtr(accepted),
		Timestamp:   time.Now(),
	})

	e.mu.Lock()
	e.current = nil
	e.mu.Unlock()
}

// Accept resolves the open ticket, if any, as accepted. Returns false if no
// ticket is open.
func (e *BanknoteEscrow) Accept() bool {
	e.mu.Lock()
	ticket := e.current
	e.mu.Unlock()
	if ticket == nil {
		return false
	}
	return ticket.Resolve(DecisionAccept)
}

// Return resolves the open ticket, if any, as returned. Returns false if no
// ticket is open.
func (e *BanknoteEscrow) Return() bool {
	e.mu.Lock()
	ticket := e.current
	e.mu.Unlock()
	if ticket == nil {
		return false
	}
	return ticket.Resolve(DecisionReturn)
}

// HasOpenTicket reports whether a ticket is currently awaiting a decision.
func (e *BanknoteEscrow) HasOpenTicket() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

