package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/smartdevs17/casino-ledger/internal/config"
	"github.com/smartdevs17/casino-ledger/internal/connection"
	"github.com/smartdevs17/casino-ledger/internal/ledger"
	"github.com/smartdevs17/casino-ledger/internal/metrics"
	"github.com/smartdevs17/casino-ledger/internal/monitor"
	"github.com/smartdevs17/casino-ledger/internal/processor"
	"github.com/smartdevs17/casino-ledger/internal/server"
	"github.com/smartdevs17/casino-ledger/internal/storage"
	"github.com/smartdevs17/casino-ledger/pkg/utils"
)

const (
	shutdownTimeout       = 15 * time.Second
	systemMetricsInterval = 15 * time.Second
)

// Application wires the ledger components together
type Application struct {
	config     *config.Config
	logger     *logrus.Entry
	metrics    *metrics.Manager
	connection *connection.ConnectionManager
	storage    storage.Storage
	recorder   *processor.LedgerRecorder
	monitor    *monitor.EventMonitor
	ledger     *ledger.Service
	server     *server.HTTPServer
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	app := &Application{config: cfg}

	if err := app.initializeLogger(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := app.initializeComponents(); err != nil {
		app.close()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return app, nil
}

func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging
	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}
	app.logger = utils.ComponentLogger("app")
	return nil
}

func (app *Application) initializeComponents() error {
	app.metrics = metrics.NewManager()

	if err := app.initializeStorage(); err != nil {
		return err
	}

	app.connection = connection.NewConnectionManager(&app.config.Chain, app.metrics)
	app.recorder = processor.NewLedgerRecorder(app.storage, app.metrics, &processor.ProcessorConfig{
		RetryAttempts: app.config.Chain.RetryAttempts,
		RetryDelay:    200 * time.Millisecond,
		WriteTimeout:  app.config.Chain.RequestTimeout,
	})
	app.initializeMonitor()

	app.ledger = ledger.NewService(app.storage)
	app.initializeServer()
	return nil
}

func (app *Application) initializeStorage() error {
	store, err := openStorage(&app.config.Storage)
	if err != nil {
		return err
	}
	app.storage = storage.NewStorageWithMetrics(store, app.metrics)
	app.logger.WithField("type", app.config.Storage.Type).Info("Storage initialized")
	return nil
}

func (app *Application) initializeMonitor() {
	chain := app.config.Chain
	app.monitor = monitor.NewEventMonitor(app.connection, app.recorder, &monitor.MonitorConfig{
		ContractAddress: common.HexToAddress(chain.ContractAddress),
		RetryDelay:      chain.RetryDelay,
		MaxRetryDelay:   chain.MaxRetryDelay,
		PollInterval:    chain.PollInterval,
		BufferSize:      chain.BufferSize,
		StrictReels:     chain.StrictReels,
		WriteTimeout:    chain.RequestTimeout,
	}, app.metrics)
}

func (app *Application) initializeServer() {
	srv := app.config.Server
	app.server = server.NewHTTPServer(&server.ServerConfig{
		Port:            srv.Port,
		Host:            srv.Host,
		ReadTimeout:     srv.ReadTimeout,
		WriteTimeout:    srv.WriteTimeout,
		ShutdownTimeout: shutdownTimeout,
		EnableMetrics:   srv.EnableMetrics,
		EnableHealth:    srv.EnableHealth,
		Version:         app.config.App.Version,
	}, app.ledger, app.monitor, app.metrics)
}

// Run starts the monitor, the HTTP server and the system metrics loop and
// blocks until ctx is cancelled or one of them fails. The monitor is stopped
// before the server so an accepted log is written before the API goes away.
func (app *Application) Run(ctx context.Context) error {
	defer app.close()

	app.logger.WithFields(logrus.Fields{
		"version":  app.config.App.Version,
		"env":      app.config.App.Environment,
		"contract": app.config.Chain.ContractAddress,
	}).Info("Starting casino ledger")

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(context.WithoutCancel(gctx))
	defer stopServer()

	if err := app.monitor.Start(gctx); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	g.Go(func() error {
		<-gctx.Done()
		err := app.monitor.Stop()
		stopServer()
		return err
	})
	g.Go(func() error {
		return app.server.Run(serverCtx)
	})
	g.Go(func() error {
		return app.metrics.Run(gctx, systemMetricsInterval)
	})

	err := g.Wait()
	app.logger.Info("Casino ledger stopped")
	return err
}

func (app *Application) close() {
	if app.connection != nil {
		if err := app.connection.Close(); err != nil {
			app.logger.WithError(err).Warn("Failed to close connection")
		}
	}
	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Warn("Failed to close storage")
		}
	}
}

// openStorage connects to the configured backend and applies pending migrations
func openStorage(cfg *config.StorageConfig) (storage.Storage, error) {
	store, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate storage: %w", err)
	}
	return store, nil
}
