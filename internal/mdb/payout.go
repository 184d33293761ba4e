package mdb

import (
	"fmt"
	"time"

	"github.com/itbees/mdbctl/internal/logger"
	"go.uber.org/zap"
)

const (
	defaultPayoutPollInterval = 80 * time.Millisecond
	defaultPayoutDeadline     = 5 * time.Second
)

// CoinPayout drives the per-coin request/confirmation sequence: fetch live
// tube status, plan the change, then for each coin send a payout command
// and actively poll for the confirming "dispensed" frame.
type CoinPayout struct {
	exchange func(cmd string) (string, error)
	setBusy  func(bool)
	coins    *CoinHandler
	table    *CoinTypeTable
	planner  *ChangePlanner
	bus      *EventBus
	log      *zap.Logger

	pollInterval time.Duration
	deadline     time.Duration
}

// NewCoinPayout builds a CoinPayout. exchange performs one write/read
// exchange under the controller's I/O mutex; setBusy toggles the poller's
// payout-busy flag.
func NewCoinPayout(exchange func(cmd string) (string, error), setBusy func(bool), coins *CoinHandler, table *CoinTypeTable, bus *EventBus, pollInterval, deadline time.Duration) *CoinPayout {
	if pollInterval <= 0 {
		pollInterval = defaultPayoutPollInterval
	}
	if deadline <= 0 {
		deadline = defaultPayoutDeadline
	}
	return &CoinPayout{
		exchange:     exchange,
		setBusy:      setBusy,
		coins:        coins,
		table:        table,
		planner:      NewChangePlanner(),
		bus:          bus,
		log:          logger.ForComponent(logger.ComponentPayout),
		pollInterval: pollInterval,
		deadline:     deadline,
	}
}

// DispenseChange plans and dispenses amount in coins, returning true iff
// every coin in the plan was confirmed dispensed.
func (p *CoinPayout) DispenseChange(amount int) bool {
	p.setBusy(true)
	defer p.setBusy(false)
	defer p.coins.AbandonWaiters()

	statusLine, err := p.exchange("R,0A")
	if err != nil {
		p.emitError("tube status read failed")
		return false
	}

	tubes, err := ParseTubeStatus(statusLine, p.table)
	if err != nil {
		p.emitError("tube status decode failed")
		return false
	}

	plan, ok := p.planner.Plan(amount, tubes)
	if !ok {
		p.emitError(fmt.Sprintf("insufficient change for %d", amount))
		return false
	}

	for _, line := range plan {
		for i := 0; i < line.Count; i++ {
			if !p.dispenseOne(line.Denomination) {
				return false
			}
		}
	}
	return true
}

// dispenseOne runs the request/confirm sequence for a single coin of denom.
func (p *CoinPayout) dispenseOne(denom int) bool {
	idx, ok := p.table.IndexOf(denom)
	if !ok {
		p.emitError(fmt.Sprintf("no coin type index for denomination %d", denom))
		return false
	}

	// The waiter must exist before R,0D goes out: driveConfirmation's first
	// R,0B poll can return a Dispensed frame for denom before this goroutine
	// gets scheduled, and a Dispensed frame with no registered waiter is
	// silently dropped, timing out a payout that actually succeeded.
	waiter := p.coins.RegisterWaiter(denom)

	param := fmt.Sprintf("%02X", 0x10|idx)
	resp, err := p.exchange(fmt.Sprintf("R,0D,%s", param))
	if err != nil || resp != "p,ACK" {
		p.coins.CancelWaiter(denom, waiter)
		p.emitError(fmt.Sprintf("payout command not acknowledged for %d", denom))
		return false
	}

	deadline := time.Now().Add(p.deadline)
	stop := make(chan struct{})
	done := make(chan bool, 1)

	go p.driveConfirmation(stop)
	go func() { done <- p.coins.AwaitDispense(denom, waiter, deadline) }()

	resolved := <-done
	close(stop)

	if !resolved {
		p.emitError(fmt.Sprintf("dispense confirmation timeout for %d", denom))
	}
	return resolved
}

// driveConfirmation repeatedly polls the coin line at the payout interval,
// feeding every frame through CoinHandler, until stop is closed.
func (p *CoinPayout) driveConfirmation(stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		line, err := p.exchange("R,0B")
		if err == nil && line != "" {
			p.coins.HandleLine(line)
		}

		select {
		case <-stop:
			return
		case <-time.After(p.pollInterval):
		}
	}
}

func (p *CoinPayout) emitError(message string) {
	p.log.Warn("payout error", zap.String("message", message))
	p.bus.Publish(DeviceEvent{Kind: EventError, Message: message, Timestamp: time.Now()})
}
