package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/itbees/mdbctl/internal/api"
	"github.com/itbees/mdbctl/internal/config"
	"github.com/itbees/mdbctl/internal/database"
	"github.com/itbees/mdbctl/internal/errors"
	"github.com/itbees/mdbctl/internal/inventory"
	"github.com/itbees/mdbctl/internal/ledger"
	"github.com/itbees/mdbctl/internal/logger"
	"github.com/itbees/mdbctl/internal/mdb"
	"github.com/itbees/mdbctl/internal/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the peripheral controller, control API, and event websocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// server bundles the long-running pieces serve owns, closed in reverse
// dependency order on shutdown.
type server struct {
	cfg *config.Config
	log *zap.Logger

	controller *mdb.PeripheralController
	bus        *mdb.EventBus
	apiServer  *http.Server
	wsServer   *http.Server
	hub        *websocket.Hub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func runServe() error {
	if err := config.Init(configPath); err != nil {
		return errors.Wrap(err, errors.ErrConfigLoad)
	}
	cfg := config.Get()

	if err := logger.Init(&cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	log := logger.GetLogger()
	log.Info("starting mdbctl", zap.String("api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)))

	s, err := newServer(cfg, log)
	if err != nil {
		return err
	}

	if err := s.start(); err != nil {
		return errors.Wrap(err, errors.ErrStartupFailure)
	}

	s.waitForShutdown()
	return s.shutdown()
}

func newServer(cfg *config.Config, log *zap.Logger) (*server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	return &server{
		cfg:    cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (s *server) start() error {
	if err := s.initLedger(); err != nil {
		if errors.IsCritical(err) {
			return err
		}
		// The ledger is history only: run without it rather than refuse to start.
		s.log.Error("ledger unavailable, continuing without it", zap.Error(err))
		_ = database.Close()
		database.DB = nil
	}

	inv := inventory.New(s.cfg.Inventory.Path)
	inv.Load()

	port, err := mdb.OpenSerialLink(s.cfg.Serial.Port, s.cfg.Serial.BaudRate, s.cfg.Serial.ReadTimeout, s.cfg.Serial.WriteTimeoutPause)
	if err != nil {
		return errors.Wrap(err, errors.ErrTransportOpen)
	}

	bus := mdb.NewEventBus()
	s.bus = bus
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		bus.Run()
	}()

	s.controller = mdb.New(port, mdb.Config{
		BillTable:               mdb.BillTable(s.cfg.MDB.BillTable),
		PollInterval:            s.cfg.MDB.PollInterval,
		EscrowDeadline:          s.cfg.MDB.EscrowDeadline,
		PayoutPollInterval:      s.cfg.MDB.PayoutPollInterval,
		PayoutDeadline:          s.cfg.MDB.PayoutDeadline,
		CashlessEnableRetries:   s.cfg.MDB.CashlessEnableRetries,
		CashlessResetTimeout:    s.cfg.MDB.CashlessResetTimeout,
		CashlessApprovalTimeout: s.cfg.MDB.CashlessApprovalTimeout,
		DisplayTextMaxBytes:     s.cfg.MDB.DisplayTextMaxBytes,
	}, inv, bus)

	if err := s.controller.Start(); err != nil {
		bus.Stop()
		return errors.Wrap(err, errors.ErrStartupFailure)
	}

	if database.GetDB() != nil {
		ledger.BridgeEvents(s.ctx, bus, ledger.NewRepository(database.GetDB()))
	}

	s.hub = websocket.NewHub(logger.GetModuleLogger("websocket"))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run()
	}()
	websocket.BridgeEvents(s.ctx, bus, s.hub)

	router := api.NewRouter(s.controller, s.cfg.API.Mode, logger.GetModuleLogger("api"))
	s.apiServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.API.Host, s.cfg.API.Port),
		Handler: router.Engine(),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("api server failed", zap.Error(err))
		}
	}()

	wsMux := http.NewServeMux()
	wsMux.HandleFunc(s.cfg.WebSocket.Path, s.hub.ServeHTTP)
	s.wsServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.WebSocket.Host, s.cfg.WebSocket.Port),
		Handler: wsMux,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("websocket server failed", zap.Error(err))
		}
	}()

	config.Watch(func(newCfg *config.Config) {
		s.log.Info("configuration reloaded; structural fields require a restart to apply")
		s.cfg = newCfg
	})

	s.log.Info("mdbctl started",
		zap.String("api", s.apiServer.Addr),
		zap.String("websocket", s.wsServer.Addr),
	)
	return nil
}

func (s *server) initLedger() error {
	if err := database.Init(&s.cfg.Ledger); err != nil {
		return errors.Wrap(err, errors.ErrLedgerConnect)
	}
	if s.cfg.Ledger.AutoMigrate {
		if err := database.AutoMigrate(); err != nil {
			return errors.Wrap(err, errors.ErrLedgerMigrate)
		}
	}
	return nil
}

func (s *server) waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sigCh
	s.log.Info("received shutdown signal", zap.String("signal", sig.String()))
}

func (s *server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.apiServer != nil {
		_ = s.apiServer.Shutdown(shutdownCtx)
	}
	if s.wsServer != nil {
		_ = s.wsServer.Shutdown(shutdownCtx)
	}
	if s.hub != nil {
		s.hub.Stop()
	}
	if s.controller != nil {
		if err := s.controller.Stop(); err != nil {
			s.log.Error("controller stop failed", zap.Error(err))
		}
	}

	s.cancel()
	if s.bus != nil {
		s.bus.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("all services stopped")
	case <-shutdownCtx.Done():
		s.log.Warn("shutdown timed out, forcing exit")
	}

	if err := database.Close(); err != nil {
		s.log.Error("close ledger database failed", zap.Error(err))
	}
	return nil
}
