package mdb

import (
	"testing"
	"time"

	"github.com/itbees/mdbctl/internal/inventory"
	"github.com/stretchr/testify/assert"
)

func newTestCoinHandler(t *testing.T) (*CoinHandler, *inventory.Store) {
	table := NewCoinTypeTable()
	table.Set(1, 20)
	table.Set(2, 50)

	inv := inventory.New(t.TempDir() + "/inventory.json")
	bus := NewEventBus()
	go bus.Run()
	t.Cleanup(bus.Stop)

	return NewCoinHandler(table, inv, bus), inv
}

func TestCoinHandlerToTubeCreditsInventory(t *testing.T) {
	h, inv := newTestCoinHandler(t)
	h.HandleLine("p,5112")
	assert.Equal(t, 1, inv.Snapshot().Coins[20])
}

func TestCoinHandlerToCashboxCreditsCashbox(t *testing.T) {
	h, inv := newTestCoinHandler(t)
	h.HandleLine("p,4203")
	assert.Equal(t, 1, inv.Snapshot().CoinsInCashbox[50])
}

func TestCoinHandlerDispensedDecrementsAndResolvesWaiter(t *testing.T) {
	h, inv := newTestCoinHandler(t)
	h.HandleLine("p,5112") // tube +1 for denom 20

	waiter := h.RegisterWaiter(20)

	go func() {
		time.Sleep(5 * time.Millisecond)
		h.HandleLine("p,9112") // dispensed type1 -> denom 20
	}()

	resolved := h.AwaitDispense(20, waiter, time.Now().Add(time.Second))
	assert.True(t, resolved)
	assert.Equal(t, 0, inv.Snapshot().Coins[20])
}

func TestCoinHandlerUnknownTypeIndexDropped(t *testing.T) {
	h, inv := newTestCoinHandler(t)
	h.HandleLine("p,5F12") // type index 15, unknown
	assert.Empty(t, inv.Snapshot().Coins)
}

func TestCoinHandlerAwaitDispenseTimesOut(t *testing.T) {
	h, _ := newTestCoinHandler(t)
	waiter := h.RegisterWaiter(20)
	resolved := h.AwaitDispense(20, waiter, time.Now().Add(10*time.Millisecond))
	assert.False(t, resolved)
}

// TestCoinHandlerRegisterWaiterBeforeCommandNeverDropsConfirmation proves the
// ordering the payout path depends on: a Dispensed frame arriving the
// instant after RegisterWaiter returns — before AwaitDispense is even
// called — still resolves the waiter, because registration, not the Wait
// call, is what makes the waiter visible to resolveWaiter.
func TestCoinHandlerRegisterWaiterBeforeCommandNeverDropsConfirmation(t *testing.T) {
	h, inv := newTestCoinHandler(t)
	h.HandleLine("p,5112") // tube +1 for denom 20

	waiter := h.RegisterWaiter(20)
	h.HandleLine("p,9112") // dispensed type1 -> denom 20, arrives before Wait

	resolved := h.AwaitDispense(20, waiter, time.Now().Add(time.Second))
	assert.True(t, resolved, "a confirmation arriving between RegisterWaiter and AwaitDispense must not be dropped")
	assert.Equal(t, 0, inv.Snapshot().Coins[20])
}
