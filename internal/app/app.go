package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/common"
	"github.com/ternarybob/pagemill/internal/handlers"
	"github.com/ternarybob/pagemill/internal/interfaces"
	"github.com/ternarybob/pagemill/internal/models"
	"github.com/ternarybob/pagemill/internal/pipeline"
	"github.com/ternarybob/pagemill/internal/queue"
	"github.com/ternarybob/pagemill/internal/services/agents"
	"github.com/ternarybob/pagemill/internal/services/events"
	"github.com/ternarybob/pagemill/internal/services/scheduler"
	"github.com/ternarybob/pagemill/internal/services/webhooks"
	badgerstore "github.com/ternarybob/pagemill/internal/storage/badger"
)

// webhookedEvents are the lifecycle events forwarded to subscriber
// endpoints via the fan-out service.
var webhookedEvents = []interfaces.EventType{
	interfaces.EventPhaseAdvanced,
	interfaces.EventPagePublished,
	interfaces.EventURLIndexed,
	interfaces.EventMonitorAlert,
	interfaces.EventPipelineCompleted,
}

// App holds all application components and dependencies. Everything is
// wired explicitly here; the registry and broker are passed by reference,
// never held as package-level state.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	EventService   interfaces.EventService
	AgentService   interfaces.Agent

	Broker       queue.Broker
	Registry     *queue.Registry
	Dispatcher   *queue.Dispatcher
	Health       *queue.HealthReporter
	Orchestrator *pipeline.Orchestrator

	WebhookService   *webhooks.Service
	WebhookValidator *webhooks.Validator
	Scheduler        *scheduler.Service

	APIHandler     *handlers.APIHandler
	QueueHandler   *handlers.QueueHandler
	ProjectHandler *handlers.ProjectHandler
	WebhookHandler *handlers.WebhookHandler
	WSHandler      *handlers.WebSocketHandler

	db    *badgerstore.BadgerDB
	pools []*queue.WorkerPool
}

// New wires the application from config. Nothing starts running until
// Start is called.
func New(cfg *common.Config) (*App, error) {
	logger := common.GetLogger()

	db, err := badgerstore.Open(cfg.Storage.Badger, logger)
	if err != nil {
		return nil, err
	}

	storageManager := badgerstore.NewManager(db, logger)
	eventService := events.NewService(logger)

	broker, err := queue.NewBadgerBroker(
		db.DB(),
		common.Duration(cfg.Queue.VisibilityTimeout, 5*time.Minute),
		cfg.Queue.MaxReceive,
	)
	if err != nil {
		return nil, fmt.Errorf("create broker: %w", err)
	}

	registry, err := queue.NewRegistry(queueDefinitions(cfg.Queue), logger)
	if err != nil {
		return nil, fmt.Errorf("create registry: %w", err)
	}

	dispatcher := queue.NewDispatcher(broker, registry, storageManager.JobRecords(), logger)

	agentService, err := agents.NewService(cfg.Agent, logger)
	if err != nil {
		return nil, fmt.Errorf("create agent service: %w", err)
	}

	webhookService := webhooks.NewService(storageManager.Webhooks(), dispatcher, cfg.Webhooks, logger)
	webhookValidator := webhooks.NewValidator(cfg.Webhooks, logger)

	orchestrator := pipeline.NewOrchestrator(
		dispatcher,
		storageManager,
		agentService,
		newLoopbackPublisher(logger),
		newLoopbackSearchConsole(logger),
		eventService,
		pipeline.DelaysFromConfig(cfg.Pipeline),
		cfg.Pipeline.OptimizeThreshold,
		logger,
	)

	health := queue.NewHealthReporter(registry, storageManager.JobRecords(), cfg.Pipeline.FailedThreshold, logger)

	pollInterval := common.Duration(cfg.Queue.PollInterval, time.Second)
	visibilityTimeout := common.Duration(cfg.Queue.VisibilityTimeout, 5*time.Minute)

	a := &App{
		Config:           cfg,
		Logger:           logger,
		StorageManager:   storageManager,
		EventService:     eventService,
		AgentService:     agentService,
		Broker:           broker,
		Registry:         registry,
		Dispatcher:       dispatcher,
		Health:           health,
		Orchestrator:     orchestrator,
		WebhookService:   webhookService,
		WebhookValidator: webhookValidator,
		db:               db,
	}

	for _, q := range registry.All() {
		var handler queue.Handler = orchestrator
		if q.Definition.Name == models.QueueWebhook {
			handler = webhookService
		}
		pool := queue.NewWorkerPool(
			q, broker, dispatcher, storageManager.JobRecords(), eventService,
			handler, pollInterval, visibilityTimeout, logger,
		)
		health.RegisterPool(q.Definition.Name, pool)
		a.pools = append(a.pools, pool)
	}

	a.Scheduler = scheduler.NewService(registry, storageManager.JobRecords(), health, logger)

	a.APIHandler = handlers.NewAPIHandler(health)
	a.QueueHandler = handlers.NewQueueHandler(health)
	a.ProjectHandler = handlers.NewProjectHandler(storageManager, orchestrator)
	a.WebhookHandler = handlers.NewWebhookHandler(storageManager.Webhooks(), webhookValidator, cfg.Webhooks.TrustProxyHeaders)
	a.WSHandler = handlers.NewWebSocketHandler(eventService)

	a.subscribeWebhookFanout()

	logger.Info().
		Int("queues", len(registry.All())).
		Str("badger_path", cfg.Storage.Badger.Path).
		Msg("Application wired")

	return a, nil
}

// Start launches the worker pools and the maintenance scheduler.
func (a *App) Start(ctx context.Context) error {
	for _, pool := range a.pools {
		pool.Start(ctx)
	}
	if err := a.Scheduler.Start(); err != nil {
		return err
	}
	a.Logger.Info().Msg("Engine started")
	return nil
}

// Shutdown stops job intake, drains in-flight work, and closes resources.
func (a *App) Shutdown(ctx context.Context) error {
	a.Scheduler.Stop()

	done := make(chan struct{})
	go func() {
		for _, pool := range a.pools {
			pool.Stop()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.Logger.Warn().Msg("Shutdown timeout, abandoning in-flight jobs")
	}

	if err := a.EventService.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Event service close failed")
	}
	if err := a.StorageManager.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}

	a.Logger.Info().Msg("Engine stopped")
	return nil
}

// subscribeWebhookFanout forwards pipeline lifecycle events to registered
// subscriber endpoints.
func (a *App) subscribeWebhookFanout() {
	forward := func(ctx context.Context, event interfaces.Event) error {
		projectID, _ := event.Payload["project_id"].(string)
		if projectID == "" {
			return nil
		}
		return a.WebhookService.TriggerEvent(ctx, string(event.Type), projectID, event.Payload)
	}

	for _, eventType := range webhookedEvents {
		if err := a.EventService.Subscribe(eventType, forward); err != nil {
			a.Logger.Warn().
				Err(err).
				Str("event_type", string(eventType)).
				Msg("Failed to subscribe webhook fan-out")
		}
	}
}

// queueDefinitions resolves the per-queue settings into definitions.
func queueDefinitions(cfg common.QueueConfig) []models.QueueDefinition {
	names := models.AllQueues()
	defs := make([]models.QueueDefinition, 0, len(names))

	for _, name := range names {
		s := cfg.QueueSettingsFor(string(name))
		def := models.QueueDefinition{
			Name:           name,
			MaxConcurrency: s.MaxConcurrency,
			RetryAttempts:  s.RetryAttempts,
			BackoffBase:    common.Duration(s.BackoffBase, 5*time.Second),
			RetainCompleted: models.RetentionPolicy{
				Count: s.RetainCompletedCount,
				Age:   common.Duration(s.RetainCompletedAge, 24*time.Hour),
			},
			RetainFailed: models.RetentionPolicy{
				Count: s.RetainFailedCount,
				Age:   common.Duration(s.RetainFailedAge, 168*time.Hour),
			},
		}

		switch name {
		case models.QueueWebhook:
			// Delivery failures are logged and recorded, never retried;
			// a re-trigger is a caller decision.
			def.RetryAttempts = 0
		case models.QueueMonitor:
			// The monitor loop reschedules itself on every outcome;
			// worker retries would fork the loop.
			def.RetryAttempts = 0
		}

		defs = append(defs, def)
	}
	return defs
}
