package mdb

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/itbees/mdbctl/internal/inventory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedExchange replays canned responses keyed by exact command match,
// falling back to "" (timeout) for anything unscripted.
type scriptedExchange struct {
	mu        sync.Mutex
	responses map[string][]string
	calls     []string
}

func newScriptedExchange() *scriptedExchange {
	return &scriptedExchange{responses: make(map[string][]string)}
}

func (s *scriptedExchange) on(cmd string, lines ...string) {
	s.responses[cmd] = lines
}

func (s *scriptedExchange) exchange(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, cmd)

	queue := s.responses[cmd]
	if len(queue) == 0 {
		return "", nil
	}
	next := queue[0]
	s.responses[cmd] = queue[1:]
	return next, nil
}

func (s *scriptedExchange) callCount(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func TestDispenseChangeConfirmedDispatch(t *testing.T) {
	table := NewCoinTypeTable()
	table.Set(1, 20)

	inv := inventory.New(t.TempDir() + "/inventory.json")
	bus := NewEventBus()
	go bus.Run()
	defer bus.Stop()

	coins := NewCoinHandler(table, inv, bus)

	ex := newScriptedExchange()
	ex.on("R,0A", "p,00000014") // tube status, index1 count=0x14=20
	ex.on("R,0D,11", "p,ACK")
	// Confirms on the very first R,0B poll: the waiter must already be
	// registered by the time driveConfirmation's first read lands, or this
	// confirmation would be dropped and the payout would time out despite
	// the coin having actually dispensed.
	ex.on("R,0B", "p,9112")

	busy := false
	payout := NewCoinPayout(ex.exchange, func(b bool) { busy = b }, coins, table, bus, 5*time.Millisecond, time.Second)

	ok := payout.DispenseChange(20)
	require.True(t, ok)
	assert.False(t, busy)
	assert.GreaterOrEqual(t, ex.callCount("R,0B"), 1)
}

// TestDispenseChangeWaiterRegisteredBeforePayoutCommand proves the fix for
// the ordering the spec requires: the DispenseWaiter for a denomination must
// exist before R,0D goes out, since a Dispensed frame with no registered
// waiter is silently dropped. A scriptedExchange that answers R,0D and the
// first R,0B poll from the same synchronous call path (no delay to dodge the
// race) still resolves successfully only if registration truly precedes the
// command.
func TestDispenseChangeWaiterRegisteredBeforePayoutCommand(t *testing.T) {
	table := NewCoinTypeTable()
	table.Set(1, 20)

	inv := inventory.New(t.TempDir() + "/inventory.json")
	bus := NewEventBus()
	go bus.Run()
	defer bus.Stop()

	coins := NewCoinHandler(table, inv, bus)

	ex := newScriptedExchange()
	ex.on("R,0A", "p,00000014")
	ex.on("R,0D,11", "p,ACK")
	ex.on("R,0B", "p,9112")

	payout := NewCoinPayout(ex.exchange, func(bool) {}, coins, table, bus, time.Millisecond, time.Second)

	for i := 0; i < 20; i++ {
		ok := payout.DispenseChange(20)
		require.True(t, ok, "iteration %d: confirmation must never be dropped regardless of goroutine scheduling", i)
		ex.on("R,0A", "p,00000014")
		ex.on("R,0D,11", "p,ACK")
		ex.on("R,0B", "p,9112")
	}
}

func TestDispenseChangeFailsWithoutACK(t *testing.T) {
	table := NewCoinTypeTable()
	table.Set(1, 20)

	inv := inventory.New(t.TempDir() + "/inventory.json")
	bus := NewEventBus()
	go bus.Run()
	defer bus.Stop()

	coins := NewCoinHandler(table, inv, bus)

	ex := newScriptedExchange()
	ex.on("R,0A", "p,00000014")
	ex.on("R,0D,11", "p,NACK")

	payout := NewCoinPayout(ex.exchange, func(bool) {}, coins, table, bus, 5*time.Millisecond, 50*time.Millisecond)
	ok := payout.DispenseChange(20)
	assert.False(t, ok)
}

func TestDispenseChangeInsufficientPlanSendsNoCommands(t *testing.T) {
	table := NewCoinTypeTable()
	table.Set(2, 50)

	inv := inventory.New(t.TempDir() + "/inventory.json")
	bus := NewEventBus()
	go bus.Run()
	defer bus.Stop()

	coins := NewCoinHandler(table, inv, bus)

	ex := newScriptedExchange()
	ex.on("R,0A", "p,0000000032") // bitmap 0000, counts idx0=00 idx1=00 idx2=0x32(50)

	payout := NewCoinPayout(ex.exchange, func(bool) {}, coins, table, bus, 5*time.Millisecond, 50*time.Millisecond)
	ok := payout.DispenseChange(70)
	assert.False(t, ok)
	assert.Equal(t, 0, ex.callCount("R,0D"))
}
