package mdb

import (
	"fmt"
	"sync"
	"time"

	"github.com/itbees/mdbctl/internal/logger"
	"go.uber.org/zap"
)

const (
	cashlessEnableRetries    = 5
	cashlessResetPollPeriod  = 100 * time.Millisecond
	cashlessResetTimeout     = 5 * time.Second
	cashlessApprovalPeriod   = 200 * time.Millisecond
	cashlessApprovalTimeout  = 30 * time.Second
	cashlessDisplayMaxBytes  = 32
)

// CashlessSession drives the optional cashless reader through its protocol
// phases: enable, reset, setup, vend request, poll for outcome. Single-
// flight: a second StartPayment while one is active fails fast without
// touching the link.
type CashlessSession struct {
	exchange func(cmd string) (string, error)
	setBusy  func(bool)
	bus      *EventBus
	log      *zap.Logger

	mu    sync.Mutex
	state CashlessState

	enableRetries   int
	resetTimeout    time.Duration
	approvalTimeout time.Duration
	displayMaxBytes int
}

// NewCashlessSession builds a CashlessSession. exchange performs one
// write/read exchange under the controller's I/O mutex; setBusy toggles the
// poller's cashless-busy flag.
func NewCashlessSession(exchange func(cmd string) (string, error), setBusy func(bool), bus *EventBus, enableRetries int, resetTimeout, approvalTimeout time.Duration, displayMaxBytes int) *CashlessSession {
	if enableRetries <= 0 {
		enableRetries = cashlessEnableRetries
	}
	if resetTimeout <= 0 {
		resetTimeout = cashlessResetTimeout
	}
	if approvalTimeout <= 0 {
		approvalTimeout = cashlessApprovalTimeout
	}
	if displayMaxBytes <= 0 {
		displayMaxBytes = cashlessDisplayMaxBytes
	}
	return &CashlessSession{
		exchange:        exchange,
		setBusy:         setBusy,
		bus:             bus,
		log:             logger.ForComponent(logger.ComponentCashless),
		state:           CashlessIdle,
		enableRetries:   enableRetries,
		resetTimeout:    resetTimeout,
		approvalTimeout: approvalTimeout,
		displayMaxBytes: displayMaxBytes,
	}
}

// StartPayment runs the full vend sequence for amountMinor, scaled by
// decimalPlaces once discovered from setup. Returns false without touching
// the link if a session is already active.
func (c *CashlessSession) StartPayment(amountMinor int, displayText string) bool {
	if !c.claim() {
		return false
	}
	defer c.release()

	c.setBusy(true)
	defer c.setBusy(false)

	if !c.enable() {
		c.fail("cashless enable no ACK")
		return false
	}

	time.Sleep(300 * time.Millisecond)

	if !c.reset() {
		c.fail("cashless reset timeout")
		return false
	}

	decimals, ok := c.setup()
	if !ok {
		c.fail("cashless setup failed")
		return false
	}

	c.sendDisplayText(displayText)

	if !c.vendRequest(amountMinor, decimals) {
		c.fail("cashless vend request no ACK")
		return false
	}

	c.setState(CashlessVendRequested)
	c.bus.Publish(DeviceEvent{
		Kind:        EventCashlessSessionStarted,
		PaymentType: PaymentCashless,
		Amount:      amountPtr(amountMinor),
		Timestamp:   time.Now(),
	})

	return c.awaitOutcome(amountMinor)
}

func (c *CashlessSession) claim() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CashlessIdle {
		return false
	}
	c.state = CashlessEnabling
	return true
}

func (c *CashlessSession) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = CashlessIdle
}

func (c *CashlessSession) setState(s CashlessState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Active reports whether a session is currently in flight.
func (c *CashlessSession) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != CashlessIdle
}

func (c *CashlessSession) enable() bool {
	for i := 0; i < c.enableRetries; i++ {
		resp, err := c.exchange("C,64,02")
		if err == nil && resp == "p,ACK" {
			return true
		}
	}
	return false
}

func (c *CashlessSession) reset() bool {
	c.setState(CashlessResetting)
	if _, err := c.exchange("C,60"); err != nil {
		return false
	}

	deadline := time.Now().Add(c.resetTimeout)
	for time.Now().Before(deadline) {
		line, err := c.exchange("C,62")
		if err == nil && hasStatusReset(line) {
			return true
		}
		time.Sleep(cashlessResetPollPeriod)
	}
	return false
}

func hasStatusReset(line string) bool {
	return len(line) >= len("d,STATUS,RESET") && line[:len("d,STATUS,RESET")] == "d,STATUS,RESET"
}

// setup sends C,61 and reads until a non-ACK, non-empty response arrives,
// then decodes decimal-places from it.
func (c *CashlessSession) setup() (decimalPlaces int, ok bool) {
	c.setState(CashlessSettingUp)
	for i := 0; i < c.enableRetries; i++ {
		line, err := c.exchange("C,61")
		if err != nil {
			return 0, false
		}
		if line == "" || line == "p,ACK" {
			continue
		}
		setup, err := ParseSetup(line)
		if err != nil {
			return 0, false
		}
		return setup.DecimalPlaces, true
	}
	return 0, false
}

// sendDisplayText is best-effort: an ACK is awaited but its absence is not
// fatal. The frame is 0x65, len(text)+1, 0x06, <utf8 bytes>.
func (c *CashlessSession) sendDisplayText(text string) {
	if text == "" {
		return
	}
	b := []byte(text)
	if len(b) > c.displayMaxBytes {
		b = b[:c.displayMaxBytes]
	}

	cmd := fmt.Sprintf("R,65,%02X,06", len(b)+1)
	for _, ch := range b {
		cmd += fmt.Sprintf(",%02X", ch)
	}
	_, _ = c.exchange(cmd)
}

func (c *CashlessSession) vendRequest(amountMinor, decimals int) bool {
	scaled := amountMinor
	for i := 0; i < decimals; i++ {
		scaled /= 10
	}
	hi := (scaled >> 8) & 0xFF
	lo := scaled & 0xFF

	resp, err := c.exchange(fmt.Sprintf("C,63,%02X,%02X", hi, lo))
	return err == nil && resp == "p,ACK"
}

func (c *CashlessSession) awaitOutcome(amountMinor int) bool {
	c.setState(CashlessAwaitingOutcome)
	deadline := time.Now().Add(c.approvalTimeout)

	for time.Now().Before(deadline) {
		line, err := c.exchange("C,62")
		if err == nil {
			switch ParseCashlessPoll(line) {
			case CashlessApproved:
				c.bus.Publish(DeviceEvent{
					Kind:        EventCashlessVendApproved,
					PaymentType: PaymentCashless,
					Amount:      amountPtr(amountMinor),
					Timestamp:   time.Now(),
				})
				return true
			case CashlessDenied:
				c.bus.Publish(DeviceEvent{
					Kind:        EventCashlessVendDenied,
					PaymentType: PaymentCashless,
					Amount:      amountPtr(amountMinor),
					Timestamp:   time.Now(),
				})
				return false
			}
		}
		time.Sleep(cashlessApprovalPeriod)
	}

	c.fail("cashless approval timeout")
	return false
}

func (c *CashlessSession) fail(message string) {
	c.log.Warn("cashless session failed", zap.String("message", message))
	c.bus.Publish(DeviceEvent{Kind: EventError, PaymentType: PaymentCashless, Message: message, Timestamp: time.Now()})
}
