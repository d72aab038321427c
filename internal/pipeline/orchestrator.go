package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/interfaces"
	"github.com/ternarybob/pagemill/internal/models"
	"github.com/ternarybob/pagemill/internal/queue"
)

// Scheduler is the slice of the dispatcher the orchestrator needs.
type Scheduler interface {
	Schedule(ctx context.Context, queueName models.QueueName, job *models.Job, opts queue.ScheduleOptions) (string, error)
	ScheduleBulk(ctx context.Context, queueName models.QueueName, jobs []*models.Job, opts queue.ScheduleOptions, stagger time.Duration) ([]string, error)
}

// Orchestrator is the per-project stage state machine. It is the handler
// for every pipeline queue except webhooks: given a dequeued job, it runs
// the stage's work and dispatches the next stage's job. Inter-stage
// ordering comes only from the delays chosen here; there is no cross-queue
// lock.
type Orchestrator struct {
	scheduler         Scheduler
	store             interfaces.StorageManager
	agent             interfaces.Agent
	publisher         interfaces.Publisher
	searchConsole     interfaces.SearchConsole
	events            interfaces.EventService
	delays            Delays
	optimizeThreshold int
	logger            arbor.ILogger
}

// NewOrchestrator wires the orchestrator over its collaborators.
func NewOrchestrator(
	scheduler Scheduler,
	store interfaces.StorageManager,
	agent interfaces.Agent,
	publisher interfaces.Publisher,
	searchConsole interfaces.SearchConsole,
	events interfaces.EventService,
	delays Delays,
	optimizeThreshold int,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		scheduler:         scheduler,
		store:             store,
		agent:             agent,
		publisher:         publisher,
		searchConsole:     searchConsole,
		events:            events,
		delays:            delays,
		optimizeThreshold: optimizeThreshold,
		logger:            logger,
	}
}

// StartPipeline kicks off a project's build chain at the research phase.
func (o *Orchestrator) StartPipeline(ctx context.Context, projectID string) (string, error) {
	if _, err := o.store.Projects().GetProject(ctx, projectID); err != nil {
		return "", err
	}
	job := models.NewJob(projectID, &models.BuildPayload{Phase: models.PhaseResearch})
	return o.scheduler.Schedule(ctx, models.QueueBuild, job, queue.ScheduleOptions{})
}

// Handle routes a dequeued job to its stage handler. The payload union is
// matched exhaustively; an unroutable payload is a terminal validation
// failure, not a retry candidate.
func (o *Orchestrator) Handle(ctx context.Context, job *models.Job) error {
	switch p := job.Payload.(type) {
	case *models.BuildPayload:
		return o.handleBuild(ctx, job, p)
	case *models.PublishPayload:
		return o.handlePublish(ctx, job, p)
	case *models.IndexPayload:
		return o.handleIndex(ctx, job, p)
	case *models.MonitorPayload:
		return o.handleMonitor(ctx, job)
	case *models.OptimizePayload:
		return o.handleOptimize(ctx, job, p)
	case *models.AgentTaskPayload:
		return o.handleAgentTask(ctx, job, p)
	default:
		return &models.ValidationError{Field: "type", Reason: fmt.Sprintf("no pipeline handler for job type %q", job.Type)}
	}
}

// handleBuild runs one build phase and chains the next one.
func (o *Orchestrator) handleBuild(ctx context.Context, job *models.Job, p *models.BuildPayload) error {
	project, err := o.store.Projects().GetProject(ctx, job.ProjectID)
	if err != nil {
		return err
	}

	result, err := o.agent.Run(ctx, interfaces.AgentInput{
		AgentType: string(p.Phase),
		ProjectID: project.ID,
		Context:   o.projectContext(project),
	})
	if err != nil {
		return err
	}

	if err := o.store.Projects().SaveArtifact(ctx, project.ID, string(p.Phase), result.Output); err != nil {
		return fmt.Errorf("save %s artifact: %w", p.Phase, err)
	}

	if p.Phase == models.PhaseContent {
		if err := o.savePagesFromContent(ctx, project.ID, result.Output); err != nil {
			return err
		}
	}

	next, ok := NextPhase(p.Phase)
	if !ok {
		// Linking is the last build phase; fan the project's draft pages
		// out to the publish queue, staggered so the downstream publishing
		// API sees a spread of requests rather than a burst.
		return o.dispatchPublishing(ctx, job)
	}

	delay := o.delays.PhaseDelay(next)
	nextJob := models.NewJob(job.ProjectID, &models.BuildPayload{Phase: next})
	nextJob.CorrelationID = job.CorrelationID
	if _, err := o.scheduler.Schedule(ctx, models.QueueBuild, nextJob, queue.ScheduleOptions{Delay: delay}); err != nil {
		return fmt.Errorf("chain %s phase: %w", next, err)
	}

	o.publishEvent(ctx, interfaces.EventPhaseAdvanced, map[string]interface{}{
		"project_id":     job.ProjectID,
		"completed":      string(p.Phase),
		"next":           string(next),
		"delay":          delay.String(),
		"correlation_id": job.CorrelationID,
	})

	o.logger.Info().
		Str("project_id", job.ProjectID).
		Str("phase", string(p.Phase)).
		Str("next_phase", string(next)).
		Dur("delay", delay).
		Msg("Build phase completed")
	return nil
}

// savePagesFromContent materializes the content phase's output as draft pages.
func (o *Orchestrator) savePagesFromContent(ctx context.Context, projectID string, output json.RawMessage) error {
	var doc struct {
		Pages []struct {
			Title   string          `json:"title"`
			Slug    string          `json:"slug"`
			Content json.RawMessage `json:"content"`
		} `json:"pages"`
	}
	if err := json.Unmarshal(output, &doc); err != nil {
		return &models.AgentError{AgentType: string(models.PhaseContent), Err: fmt.Errorf("output does not match page schema: %w", err)}
	}

	now := time.Now()
	for _, p := range doc.Pages {
		// IDs are project-scoped: slugs like "home" recur across projects
		// and the page store upserts by ID.
		page := &models.Page{
			ID:        "page_" + projectID + "_" + p.Slug,
			ProjectID: projectID,
			Title:     p.Title,
			Slug:      p.Slug,
			Status:    models.PageStatusDraft,
			Content:   p.Content,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := o.store.Pages().SavePage(ctx, page); err != nil {
			return fmt.Errorf("save page %s: %w", page.ID, err)
		}
	}

	o.logger.Info().
		Str("project_id", projectID).
		Int("pages", len(doc.Pages)).
		Msg("Content phase pages saved")
	return nil
}

// dispatchPublishing schedules one PublishJob per draft page with staggered
// delays, then marks the build chain complete.
func (o *Orchestrator) dispatchPublishing(ctx context.Context, job *models.Job) error {
	pages, err := o.store.Pages().ListPagesByStatus(ctx, job.ProjectID, models.PageStatusDraft)
	if err != nil {
		return fmt.Errorf("list draft pages: %w", err)
	}

	jobs := make([]*models.Job, 0, len(pages))
	for _, page := range pages {
		pj := models.NewJob(job.ProjectID, &models.PublishPayload{PageID: page.ID})
		pj.CorrelationID = job.CorrelationID
		jobs = append(jobs, pj)
	}

	if _, err := o.scheduler.ScheduleBulk(ctx, models.QueuePublish, jobs, queue.ScheduleOptions{}, o.delays.PublishStagger); err != nil {
		return fmt.Errorf("dispatch publishing: %w", err)
	}

	o.publishEvent(ctx, interfaces.EventPipelineCompleted, map[string]interface{}{
		"project_id":     job.ProjectID,
		"pages":          len(jobs),
		"correlation_id": job.CorrelationID,
	})

	o.logger.Info().
		Str("project_id", job.ProjectID).
		Int("pages", len(jobs)).
		Msg("Build chain complete, publishing dispatched")
	return nil
}

// handlePublish pushes one page to the publishing collaborator and chains
// an IndexJob. Safe to re-run: an already-published page skips the remote
// call and still chains indexing.
func (o *Orchestrator) handlePublish(ctx context.Context, job *models.Job, p *models.PublishPayload) error {
	page, err := o.store.Pages().GetPage(ctx, p.PageID)
	if err != nil {
		return err
	}

	url := page.URL
	if page.PublishedID == "" {
		result, err := o.publisher.Publish(ctx, page.Content)
		if err != nil {
			return fmt.Errorf("publish page %s: %w", page.ID, err)
		}
		if err := o.store.Pages().SetPublished(ctx, page.ID, result.ID, result.URL); err != nil {
			return fmt.Errorf("record published page %s: %w", page.ID, err)
		}
		url = result.URL
	}

	indexJob := models.NewJob(job.ProjectID, &models.IndexPayload{URL: url})
	indexJob.CorrelationID = job.CorrelationID
	if _, err := o.scheduler.Schedule(ctx, models.QueueIndex, indexJob, queue.ScheduleOptions{}); err != nil {
		return fmt.Errorf("chain index job: %w", err)
	}

	o.publishEvent(ctx, interfaces.EventPagePublished, map[string]interface{}{
		"project_id":     job.ProjectID,
		"page_id":        page.ID,
		"url":            url,
		"correlation_id": job.CorrelationID,
	})
	return nil
}

// handleIndex submits the URL for indexing and starts the project's monitor
// loop. Only the first IndexJob of a project starts the loop; later ones
// see MonitorStarted already set.
func (o *Orchestrator) handleIndex(ctx context.Context, job *models.Job, p *models.IndexPayload) error {
	if _, err := o.store.Projects().GetProject(ctx, job.ProjectID); err != nil {
		return err
	}

	if err := o.searchConsole.SubmitURLForIndexing(ctx, p.URL); err != nil {
		return fmt.Errorf("submit %s for indexing: %w", p.URL, err)
	}

	o.publishEvent(ctx, interfaces.EventURLIndexed, map[string]interface{}{
		"project_id":     job.ProjectID,
		"url":            p.URL,
		"correlation_id": job.CorrelationID,
	})

	started, err := o.store.Projects().MarkMonitorStarted(ctx, job.ProjectID)
	if err != nil {
		return err
	}
	if !started {
		return nil
	}

	monitorJob := models.NewJob(job.ProjectID, &models.MonitorPayload{})
	monitorJob.CorrelationID = job.CorrelationID
	if _, err := o.scheduler.Schedule(ctx, models.QueueMonitor, monitorJob, queue.ScheduleOptions{Delay: o.delays.IndexToMonitor}); err != nil {
		return fmt.Errorf("start monitor loop: %w", err)
	}

	o.logger.Info().
		Str("project_id", job.ProjectID).
		Dur("delay", o.delays.IndexToMonitor).
		Msg("Monitor loop started")
	return nil
}

// handleMonitor runs one monitor cycle. The next MonitorJob is rescheduled
// from a single deferred path reached on success AND failure; skipping it
// would silently end the project's monitoring. The only exit from the loop
// is the project being gone, which returns before the defer is armed.
func (o *Orchestrator) handleMonitor(ctx context.Context, job *models.Job) (err error) {
	project, gerr := o.store.Projects().GetProject(ctx, job.ProjectID)
	if gerr != nil {
		return gerr
	}

	defer func() {
		next := models.NewJob(job.ProjectID, &models.MonitorPayload{})
		next.CorrelationID = job.CorrelationID
		if _, serr := o.scheduler.Schedule(ctx, models.QueueMonitor, next, queue.ScheduleOptions{Delay: o.delays.MonitorInterval}); serr != nil {
			o.logger.Error().
				Err(serr).
				Str("project_id", job.ProjectID).
				Msg("Failed to reschedule monitor loop")
		}
	}()

	run := &models.MonitorRun{
		ProjectID: project.ID,
		CreatedAt: time.Now(),
	}

	result, aerr := o.agent.Run(ctx, interfaces.AgentInput{
		AgentType: "monitor",
		ProjectID: project.ID,
		Context:   o.projectContext(project),
	})
	if aerr != nil {
		run.Result = aerr.Error()
		if _, ierr := o.store.MonitorRuns().InsertMonitorRun(ctx, run); ierr != nil {
			o.logger.Warn().Err(ierr).Str("project_id", project.ID).Msg("Failed to record monitor run")
		}
		return aerr
	}

	var report struct {
		HealthScore int    `json:"health_score"`
		Summary     string `json:"summary"`
	}
	if uerr := json.Unmarshal(result.Output, &report); uerr != nil {
		run.Result = "unparseable monitor report"
		if _, ierr := o.store.MonitorRuns().InsertMonitorRun(ctx, run); ierr != nil {
			o.logger.Warn().Err(ierr).Str("project_id", project.ID).Msg("Failed to record monitor run")
		}
		return &models.AgentError{AgentType: "monitor", Err: fmt.Errorf("output does not match report schema: %w", uerr)}
	}

	score := report.HealthScore
	run.HealthScore = &score
	run.Result = report.Summary
	if _, ierr := o.store.MonitorRuns().InsertMonitorRun(ctx, run); ierr != nil {
		return fmt.Errorf("record monitor run: %w", ierr)
	}

	o.logger.Info().
		Str("project_id", project.ID).
		Int("health_score", score).
		Msg("Monitor cycle completed")

	if score >= o.optimizeThreshold {
		return nil
	}

	o.publishEvent(ctx, interfaces.EventMonitorAlert, map[string]interface{}{
		"project_id":     project.ID,
		"health_score":   score,
		"summary":        report.Summary,
		"correlation_id": job.CorrelationID,
	})
	return o.dispatchOptimization(ctx, job, score)
}

// dispatchOptimization schedules an OptimizeJob for each published page of
// a degraded project.
func (o *Orchestrator) dispatchOptimization(ctx context.Context, job *models.Job, score int) error {
	pages, err := o.store.Pages().ListPagesByStatus(ctx, job.ProjectID, models.PageStatusPublished)
	if err != nil {
		return fmt.Errorf("list published pages: %w", err)
	}

	reason := fmt.Sprintf("health score %d below threshold %d", score, o.optimizeThreshold)
	jobs := make([]*models.Job, 0, len(pages))
	for _, page := range pages {
		oj := models.NewJob(job.ProjectID, &models.OptimizePayload{PageID: page.ID, Reason: reason})
		oj.CorrelationID = job.CorrelationID
		jobs = append(jobs, oj)
	}

	if _, err := o.scheduler.ScheduleBulk(ctx, models.QueueOptimize, jobs, queue.ScheduleOptions{}, o.delays.PublishStagger); err != nil {
		return fmt.Errorf("dispatch optimization: %w", err)
	}

	o.logger.Warn().
		Str("project_id", job.ProjectID).
		Int("health_score", score).
		Int("pages", len(jobs)).
		Msg("Degraded project, optimization dispatched")
	return nil
}

// handleOptimize re-optimizes one published page. The page transitions
// published -> optimizing -> published; the deferred restore guarantees a
// failure never leaves the page stuck in optimizing.
func (o *Orchestrator) handleOptimize(ctx context.Context, job *models.Job, p *models.OptimizePayload) error {
	page, err := o.store.Pages().GetPage(ctx, p.PageID)
	if err != nil {
		return err
	}
	if page.Status != models.PageStatusPublished {
		return &models.ValidationError{Field: "page_id", Reason: fmt.Sprintf("page %s is %s, not published", page.ID, page.Status)}
	}

	if err := o.store.Pages().UpdatePageStatus(ctx, page.ID, models.PageStatusOptimizing); err != nil {
		return fmt.Errorf("mark page optimizing: %w", err)
	}
	defer func() {
		if rerr := o.store.Pages().UpdatePageStatus(ctx, page.ID, models.PageStatusPublished); rerr != nil {
			o.logger.Error().
				Err(rerr).
				Str("page_id", page.ID).
				Msg("Failed to restore page to published")
		}
	}()

	result, err := o.agent.Run(ctx, interfaces.AgentInput{
		AgentType: "optimize",
		ProjectID: job.ProjectID,
		Prompt:    p.Reason,
		Context:   page.Content,
	})
	if err != nil {
		return err
	}

	page.Content = result.Output
	page.UpdatedAt = time.Now()
	if err := o.store.Pages().SavePage(ctx, page); err != nil {
		return fmt.Errorf("save optimized page %s: %w", page.ID, err)
	}

	if _, err := o.publisher.Publish(ctx, page.Content); err != nil {
		return fmt.Errorf("republish optimized page %s: %w", page.ID, err)
	}

	o.logger.Info().
		Str("page_id", page.ID).
		Str("reason", p.Reason).
		Msg("Page optimized")
	return nil
}

// handleAgentTask runs a one-off typed agent task outside the build chain
// and stores its output as a project artifact.
func (o *Orchestrator) handleAgentTask(ctx context.Context, job *models.Job, p *models.AgentTaskPayload) error {
	if p.AgentType == "" {
		return &models.ValidationError{Field: "agent_type", Reason: "agent_type is required"}
	}
	if _, err := o.store.Projects().GetProject(ctx, job.ProjectID); err != nil {
		return err
	}

	result, err := o.agent.Run(ctx, interfaces.AgentInput{
		AgentType: p.AgentType,
		ProjectID: job.ProjectID,
		Context:   p.Input,
	})
	if err != nil {
		return err
	}

	if err := o.store.Projects().SaveArtifact(ctx, job.ProjectID, p.AgentType, result.Output); err != nil {
		return fmt.Errorf("save %s artifact: %w", p.AgentType, err)
	}
	return nil
}

// projectContext packs the project's accumulated artifacts for the agent.
func (o *Orchestrator) projectContext(project *models.Project) json.RawMessage {
	ctx := map[string]interface{}{
		"project_id": project.ID,
		"name":       project.Name,
		"domain":     project.Domain,
	}
	if len(project.Artifacts) > 0 {
		ctx["artifacts"] = project.Artifacts
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		return nil
	}
	return data
}

func (o *Orchestrator) publishEvent(ctx context.Context, eventType interfaces.EventType, payload map[string]interface{}) {
	if err := o.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		o.logger.Warn().
			Err(err).
			Str("event", string(eventType)).
			Msg("Failed to publish pipeline event")
	}
}
