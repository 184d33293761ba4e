package mdb

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/itbees/mdbctl/internal/inventory"
	"github.com/itbees/mdbctl/internal/logger"
	"go.uber.org/zap"
)

// Config bundles the tunables the controller needs, sourced from
// application configuration.
type Config struct {
	BillTable               BillTable
	PollInterval            time.Duration
	EscrowDeadline          time.Duration
	PayoutPollInterval      time.Duration
	PayoutDeadline          time.Duration
	CashlessEnableRetries   int
	CashlessResetTimeout    time.Duration
	CashlessApprovalTimeout time.Duration
	DisplayTextMaxBytes     int
}

// PeripheralController owns the SerialLink, serialises all I/O under a
// single mutex, runs the polling loop, cooperatively suspends it during
// payout or cashless sessions, and fans decoded frames out to the
// component state machines.
type PeripheralController struct {
	ioMu sync.Mutex
	port SerialPort

	cfg       Config
	coinTable *CoinTypeTable
	inv       *inventory.Store
	bus       *EventBus

	escrow   *BanknoteEscrow
	coins    *CoinHandler
	payout   *CoinPayout
	cashless *CashlessSession

	payoutBusy   atomic.Bool
	cashlessBusy atomic.Bool

	running atomic.Bool
	cancel  chan struct{}
	wg      sync.WaitGroup

	log *zap.Logger
}

// New builds a controller around port, ready for Start.
func New(port SerialPort, cfg Config, inv *inventory.Store, bus *EventBus) *PeripheralController {
	coinTable := NewCoinTypeTable()

	c := &PeripheralController{
		port:      port,
		cfg:       cfg,
		coinTable: coinTable,
		inv:       inv,
		bus:       bus,
		log:       logger.ForComponent(logger.ComponentController),
	}

	c.escrow = NewBanknoteEscrow(c.exchange, inv, bus, cfg.EscrowDeadline)
	c.coins = NewCoinHandler(coinTable, inv, bus)
	c.payout = NewCoinPayout(c.exchange, c.setPayoutBusy, c.coins, coinTable, bus, cfg.PayoutPollInterval, cfg.PayoutDeadline)
	c.cashless = NewCashlessSession(c.exchange, c.setCashlessBusy, bus, cfg.CashlessEnableRetries, cfg.CashlessResetTimeout, cfg.CashlessApprovalTimeout, cfg.DisplayTextMaxBytes)

	return c
}

// exchange performs one write/read pair under the I/O mutex — the atomic
// unit every caller (poller, payout, cashless, manual command) shares.
func (c *PeripheralController) exchange(cmd string) (string, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	if err := c.port.WriteLine(cmd); err != nil {
		logger.LogSerialExchange(cmd, "", false)
		return "", err
	}
	line, err := c.port.ReadLine()
	if err != nil {
		logger.LogSerialExchange(cmd, "", false)
		return "", err
	}
	logger.LogSerialExchange(cmd, line, true)
	return line, nil
}

func (c *PeripheralController) setPayoutBusy(busy bool)   { c.payoutBusy.Store(busy) }
func (c *PeripheralController) setCashlessBusy(busy bool) { c.cashlessBusy.Store(busy) }

// Start runs the init sequence and spawns the polling loop.
func (c *PeripheralController) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel = make(chan struct{})

	if err := c.runInitSequence(); err != nil {
		c.running.Store(false)
		return err
	}

	c.bus.Publish(DeviceEvent{Kind: EventInitialized, Timestamp: time.Now()})

	c.wg.Add(1)
	go c.pollLoop()
	return nil
}

// Stop cancels the polling loop, best-effort disables the master, and
// closes the link.
func (c *PeripheralController) Stop() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	close(c.cancel)
	c.wg.Wait()

	_, _ = c.exchange("M,0")
	return c.port.Close()
}

// Running reports whether the controller's polling loop is active.
func (c *PeripheralController) Running() bool {
	return c.running.Load()
}

func (c *PeripheralController) runInitSequence() error {
	commands := []string{"M,1", "R,30", "R,31", "R,34,FFFFFFFF", "R,35,0", "R,08"}
	for _, cmd := range commands {
		if _, err := c.exchange(cmd); err != nil {
			return err
		}
	}

	line, err := c.exchange("R,09")
	if err != nil {
		return err
	}
	if cfg, err := ParseCoinTypeConfig(line); err == nil {
		for idx, denom := range cfg.Denominations {
			c.coinTable.Set(idx, denom)
		}
	} else {
		c.log.Warn("coin type config decode failed during init", zap.Error(err))
	}

	if _, err := c.exchange("R,0C,FFFFFFFF"); err != nil {
		return err
	}
	return nil
}

func (c *PeripheralController) pollLoop() {
	defer c.wg.Done()
	interval := c.cfg.PollInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.cancel:
			return
		case <-ticker.C:
			if c.payoutBusy.Load() || c.cashlessBusy.Load() {
				continue
			}
			c.pollOnce()
		}
	}
}

func (c *PeripheralController) pollOnce() {
	billLine, err := c.exchange("R,33")
	if err != nil {
		c.bus.Publish(DeviceEvent{Kind: EventError, Message: "bill poll failed: " + err.Error(), Timestamp: time.Now()})
		return
	}

	coinLine, err := c.exchange("R,0B")
	if err != nil {
		c.bus.Publish(DeviceEvent{Kind: EventError, Message: "coin poll failed: " + err.Error(), Timestamp: time.Now()})
		return
	}

	if bill, err := ParseBill(billLine, c.cfg.BillTable); err == nil {
		go c.escrow.OnBillEscrow(bill)
	}

	c.coins.HandleLine(coinLine)
}

// Accept resolves the open escrow ticket, if any, as accepted.
func (c *PeripheralController) Accept() bool { return c.escrow.Accept() }

// Return resolves the open escrow ticket, if any, as returned.
func (c *PeripheralController) Return() bool { return c.escrow.Return() }

// DispenseChange plans and pays out amount in coins.
func (c *PeripheralController) DispenseChange(amount int) bool {
	return c.payout.DispenseChange(amount)
}

// StartCashlessPayment runs a full cashless vend session for amountMinor.
func (c *PeripheralController) StartCashlessPayment(amountMinor int, displayText string) bool {
	return c.cashless.StartPayment(amountMinor, displayText)
}

// ShowTubeStatus fetches and decodes the live tube-status snapshot.
func (c *PeripheralController) ShowTubeStatus() (map[int]int, error) {
	line, err := c.exchange("R,0A")
	if err != nil {
		return nil, err
	}
	return ParseTubeStatus(line, c.coinTable)
}

// InventorySnapshot returns the current persisted inventory snapshot.
func (c *PeripheralController) InventorySnapshot() inventory.Snapshot {
	return c.inv.Snapshot()
}
