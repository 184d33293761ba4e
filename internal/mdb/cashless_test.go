package mdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCashlessSession(ex *scriptedExchange) *CashlessSession {
	return NewCashlessSession(ex.exchange, func(bool) {}, mustBus(), 5, 50*time.Millisecond, time.Second, 32)
}

func mustBus() *EventBus {
	b := NewEventBus()
	go b.Run()
	return b
}

func TestCashlessApproval(t *testing.T) {
	ex := newScriptedExchange()
	ex.on("C,64,02", "p,ACK")
	ex.on("C,60", "p,ACK")
	ex.on("C,62", "d,STATUS,RESET", "p,ACK", "p,01")
	ex.on("C,61", "p,00000000000002") // decimal places = 2
	ex.on("C,63,00,64", "p,ACK")      // 10000 minor / 10^2 = 100 = 0x0064 -> hi 00, lo 64

	session := newTestCashlessSession(ex)
	ok := session.StartPayment(10000, "THANK YOU")
	require.True(t, ok)
	assert.False(t, session.Active())
}

func TestCashlessDenied(t *testing.T) {
	ex := newScriptedExchange()
	ex.on("C,64,02", "p,ACK")
	ex.on("C,60", "p,ACK")
	ex.on("C,62", "d,STATUS,RESET", "p,02")
	ex.on("C,61", "p,00000000000002")
	ex.on("C,63,00,64", "p,ACK")

	session := newTestCashlessSession(ex)
	ok := session.StartPayment(10000, "")
	assert.False(t, ok)
}

func TestCashlessSingleFlight(t *testing.T) {
	ex := newScriptedExchange()
	session := newTestCashlessSession(ex)

	session.mu.Lock()
	session.state = CashlessEnabling
	session.mu.Unlock()

	ok := session.StartPayment(500, "")
	assert.False(t, ok)
	assert.Equal(t, 0, len(ex.calls))
}

func TestCashlessEnableNoACKFails(t *testing.T) {
	ex := newScriptedExchange()
	session := newTestCashlessSession(ex)
	ok := session.StartPayment(500, "")
	assert.False(t, ok)
}
