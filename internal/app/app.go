package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aditus/internal/broker"
	"github.com/ternarybob/aditus/internal/common"
	"github.com/ternarybob/aditus/internal/handlers"
	"github.com/ternarybob/aditus/internal/interfaces"
	"github.com/ternarybob/aditus/internal/launcher"
	"github.com/ternarybob/aditus/internal/metrics"
	"github.com/ternarybob/aditus/internal/models"
	"github.com/ternarybob/aditus/internal/services/events"
	badgerstore "github.com/ternarybob/aditus/internal/storage/badger"
	"github.com/ternarybob/aditus/internal/storage/files"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	AnalysisStorage interfaces.AnalysisStorage
	FileStorage     *files.Storage
	EventService    interfaces.EventService
	Launcher        interfaces.WorkerLauncher
	Broker          *broker.Broker

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	BrokerHandler   *handlers.BrokerHandler
	AnalysisHandler *handlers.AnalysisHandler
	FleetHandler    *handlers.FleetHandler
	WSHandler       *handlers.WebSocketHandler

	cron *cron.Cron
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Persistence
	store, err := badgerstore.OpenStore(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.AnalysisStorage = badgerstore.NewAnalysisStorage(store)
	logger.Info().Str("path", cfg.DatabasePath()).Msg("Analysis storage initialized")

	app.FileStorage, err = files.NewStorage(cfg.Storage.ResultsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file storage: %w", err)
	}

	// Event bus, created early so every service can subscribe
	app.EventService = events.NewService(logger)

	// Launcher: offline deployments never start workers; otherwise spawn
	// local worker processes (cloud fleets bring their own launcher)
	if cfg.Broker.Offline {
		app.Launcher = &launcher.Noop{Logger: logger}
	} else {
		app.Launcher = &launcher.LocalExec{
			WorkerBinary: cfg.Broker.WorkerBinary,
			BrokerURL:    fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port),
			Logger:       logger,
		}
	}

	redelivery, err := cfg.RedeliveryTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid redelivery timeout: %w", err)
	}
	liveness, err := cfg.LivenessWindow()
	if err != nil {
		return nil, fmt.Errorf("invalid liveness window: %w", err)
	}

	app.Broker = broker.New(broker.Options{
		Offline:           cfg.Broker.Offline,
		MaxWorkers:        cfg.Broker.MaxWorkers,
		RedeliveryTimeout: redelivery,
		LivenessWindow:    liveness,
	}, app.Launcher, app.EventService, app.FileStorage, logger)
	logger.Info().
		Bool("offline", cfg.Broker.Offline).
		Int("max_workers", cfg.Broker.MaxWorkers).
		Str("redelivery_timeout", redelivery.String()).
		Msg("Broker initialized")

	// Keep persisted records in step with broker lifecycle events
	app.subscribeAnalysisUpdates()

	// Handlers
	app.APIHandler = handlers.NewAPIHandler(logger)
	app.BrokerHandler = handlers.NewBrokerHandler(app.Broker, logger)
	app.AnalysisHandler = handlers.NewAnalysisHandler(app.Broker, app.AnalysisStorage, cfg.Storage.ScratchDir, logger)
	app.FleetHandler = handlers.NewFleetHandler(app.Broker, logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, logger)

	// Fleet sweep: refresh the active worker gauge every minute; the catalog
	// purges stale observations as a side effect of being read
	app.cron = cron.New()
	if _, err := app.cron.AddFunc("* * * * *", func() {
		total := app.Broker.Catalog().TotalActiveWorkers()
		metrics.ActiveWorkers.Set(float64(total))
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule fleet sweep: %w", err)
	}
	app.cron.Start()

	logger.Info().Msg("Application initialization complete")
	return app, nil
}

// subscribeAnalysisUpdates wires broker lifecycle events to the persisted
// analysis records.
func (a *App) subscribeAnalysisUpdates() {
	a.EventService.Subscribe(interfaces.EventAnalysisCompleted, func(ctx context.Context, event interfaces.Event) error {
		jobID, _ := event.Payload["job_id"].(string)
		keys, _ := event.Payload["storage_keys"].([]string)
		return a.AnalysisStorage.UpdateStatus(ctx, jobID, models.AnalysisStatusCompleted, nil, keys)
	})

	a.EventService.Subscribe(interfaces.EventError, func(ctx context.Context, event interfaces.Event) error {
		jobID, _ := event.Payload["job_id"].(string)
		var errs []string
		if job := a.Broker.FindJob(jobID); job != nil {
			errs = job.Errors()
		} else if msg, ok := event.Payload["error"].(string); ok {
			errs = []string{msg}
		}
		return a.AnalysisStorage.UpdateStatus(ctx, jobID, models.AnalysisStatusErrored, errs, nil)
	})
}

// Close closes all application resources
func (a *App) Close() error {
	if a.cron != nil {
		a.cron.Stop()
	}

	a.Logger.Info().Msg("Flushing context logs")
	common.Stop()

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.AnalysisStorage != nil {
		if err := a.AnalysisStorage.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}
	return nil
}
