package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/handlers"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/logs"
	"github.com/ternarybob/doceo/internal/services/auth"
	"github.com/ternarybob/doceo/internal/services/cache"
	"github.com/ternarybob/doceo/internal/services/crawler"
	"github.com/ternarybob/doceo/internal/services/events"
	"github.com/ternarybob/doceo/internal/services/export"
	jobsvc "github.com/ternarybob/doceo/internal/services/jobs"
	"github.com/ternarybob/doceo/internal/services/scheduler"
	"github.com/ternarybob/doceo/internal/storage/badger"
)

// shutdownTimeout bounds how long Close waits for running crawls to drain.
const shutdownTimeout = 10 * time.Second

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Log consumer draining the arbor context channel into job logs
	LogConsumer *logs.Consumer

	// Services
	EventService     interfaces.EventService
	AuthService      interfaces.AuthService
	CacheService     interfaces.CacheService
	CrawlerService   interfaces.CrawlerService
	JobService       interfaces.JobService
	ExportService    interfaces.ExportService
	SchedulerService interfaces.SchedulerService

	// HTTP handlers
	JobHandler    *handlers.JobHandler
	StreamHandler *handlers.StreamHandler
	WSHandler     *handlers.WSHandler
	StatusHandler *handlers.StatusHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Create log consumer for the arbor context channel. Orchestrators log
	// through per-job context writers; the consumer persists those lines as
	// job log entries.
	logConsumer := logs.NewConsumer(
		app.StorageManager.JobLogStorage(),
		app.Logger,
		app.Config.Logging.MinEventLevel,
	)
	if err := logConsumer.Start(); err != nil {
		return nil, fmt.Errorf("failed to start log consumer: %w", err)
	}
	app.LogConsumer = logConsumer
	app.Logger.SetChannel("context", logConsumer.GetChannel())

	// Initialize services
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	app.initHandlers()

	// Restart orchestrators for jobs a previous process left unfinished.
	// Done after handlers so resumed jobs are immediately observable.
	if resumed, err := app.resumeInterrupted(); err != nil {
		app.Logger.Warn().Err(err).Msg("Failed to resume interrupted jobs")
	} else if resumed > 0 {
		app.Logger.Info().Int("jobs", resumed).Msg("Resumed jobs from previous run")
	}

	logger.Info().
		Str("storage", app.Config.Storage.Badger.Path).
		Int("max_active_jobs_per_user", app.Config.Crawler.MaxActiveJobsPerUser).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := badger.NewManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all business services in dependency order
func (a *App) initServices() error {
	// Event service backs every progress stream; subscribers replay from
	// the persisted log, so it only needs event storage.
	a.EventService = events.NewService(
		a.StorageManager.EventStorage(),
		a.Config.Events.SubscriberBuffer,
		a.Logger,
	)
	a.Logger.Debug().Msg("Event service initialized")

	// Anonymous user tokens
	a.AuthService = auth.NewService(
		a.StorageManager.UserStorage(),
		a.Config.TokenTTL(),
		a.Logger,
	)
	a.Logger.Debug().Msg("Auth service initialized")

	// Shared URL cache
	a.CacheService = cache.NewService(
		a.StorageManager.KVStorage(),
		a.Config.CacheTTL(),
		a.Logger,
	)
	a.Logger.Debug().Msg("Cache service initialized")

	// Crawler service owns the orchestrators for active jobs
	a.CrawlerService = crawler.NewService(
		a.StorageManager,
		a.CacheService,
		a.EventService,
		a.Config,
		a.Logger,
	)
	a.Logger.Debug().Msg("Crawler service initialized")

	// Job registry on top of the crawler
	a.JobService = jobsvc.NewService(
		a.StorageManager,
		a.CrawlerService,
		a.Config,
		a.Logger,
	)
	a.Logger.Debug().Msg("Job service initialized")

	// Markdown export (HTML and PDF rendering)
	a.ExportService = export.NewService(a.Logger)
	a.Logger.Debug().Msg("Export service initialized")

	// Maintenance scheduler (retention sweep, token purge, Badger GC)
	a.SchedulerService = scheduler.NewService(
		a.StorageManager,
		a.CacheService,
		a.AuthService,
		a.Config,
		a.Logger,
	)
	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler service: %w", err)
	}
	a.Logger.Debug().Msg("Scheduler service started")

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.JobHandler = handlers.NewJobHandler(
		a.JobService,
		a.ExportService,
		a.StorageManager.JobLogStorage(),
		a.Logger,
	)

	a.StreamHandler = handlers.NewStreamHandler(a.JobService, a.EventService, a.Logger)

	a.WSHandler = handlers.NewWSHandler(a.JobService, a.EventService, a.Config, a.Logger)

	a.StatusHandler = handlers.NewStatusHandler(
		a.StorageManager,
		a.CrawlerService,
		a.SchedulerService,
		a.Logger,
	)

	a.Logger.Debug().Msg("HTTP handlers initialized")
}

// resumeInterrupted restarts jobs the previous process left pending or
// running. ResumeInterrupted lives on the concrete crawler service; the
// interface only covers per-job operations.
func (a *App) resumeInterrupted() (int, error) {
	crawlerSvc, ok := a.CrawlerService.(*crawler.Service)
	if !ok {
		return 0, nil
	}
	return crawlerSvc.ResumeInterrupted(context.Background())
}

// Close shuts down all application resources in reverse dependency order.
// Running crawls get shutdownTimeout to drain before storage closes.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop scheduled maintenance first so sweeps don't race the teardown
	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
	}

	// Drain running crawls; each orchestrator publishes its terminal event
	// before returning
	if a.CrawlerService != nil {
		if err := a.CrawlerService.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Crawler shutdown incomplete")
		}
	}

	// Close event subscriptions after the last publisher has stopped
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	// Stop the log consumer after the crawler so the final job log lines
	// still get persisted
	if a.LogConsumer != nil {
		if err := a.LogConsumer.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop log consumer")
		}
	}

	// Close storage last
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
