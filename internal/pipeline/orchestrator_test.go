package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/common"
	"github.com/ternarybob/pagemill/internal/interfaces"
	"github.com/ternarybob/pagemill/internal/models"
	"github.com/ternarybob/pagemill/internal/queue"
)

// scheduledCall records one dispatch the orchestrator made.
type scheduledCall struct {
	queue   models.QueueName
	job     *models.Job
	opts    queue.ScheduleOptions
	stagger time.Duration
	bulk    bool
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduledCall
	err   error
}

func (f *fakeScheduler) Schedule(ctx context.Context, queueName models.QueueName, job *models.Job, opts queue.ScheduleOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, scheduledCall{queue: queueName, job: job, opts: opts})
	return fmt.Sprintf("job_%d", len(f.calls)), nil
}

func (f *fakeScheduler) ScheduleBulk(ctx context.Context, queueName models.QueueName, jobs []*models.Job, opts queue.ScheduleOptions, stagger time.Duration) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		f.calls = append(f.calls, scheduledCall{queue: queueName, job: job, opts: opts, stagger: stagger, bulk: true})
		ids = append(ids, fmt.Sprintf("job_%d", len(f.calls)))
	}
	return ids, nil
}

func (f *fakeScheduler) forQueue(queueName models.QueueName) []scheduledCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []scheduledCall
	for _, c := range f.calls {
		if c.queue == queueName {
			out = append(out, c)
		}
	}
	return out
}

// memStore is an in-memory StorageManager covering the stores the
// orchestrator touches.
type memStore struct {
	mu       sync.Mutex
	projects map[string]*models.Project
	pages    map[string]*models.Page
	runs     []*models.MonitorRun
}

func newMemStore() *memStore {
	return &memStore{
		projects: make(map[string]*models.Project),
		pages:    make(map[string]*models.Page),
	}
}

func (m *memStore) Projects() interfaces.ProjectStorage       { return m }
func (m *memStore) Pages() interfaces.PageStorage             { return m }
func (m *memStore) MonitorRuns() interfaces.MonitorRunStorage { return m }
func (m *memStore) Webhooks() interfaces.WebhookStorage       { return nil }
func (m *memStore) JobRecords() interfaces.JobRecordStorage   { return nil }
func (m *memStore) Close() error                              { return nil }

func (m *memStore) SaveProject(ctx context.Context, project *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *project
	m.projects[project.ID] = &copied
	return nil
}

func (m *memStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[id]
	if !ok {
		return nil, models.EntityGone("project", id)
	}
	copied := *project
	return &copied, nil
}

func (m *memStore) DeleteProject(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, id)
	return nil
}

func (m *memStore) SaveArtifact(ctx context.Context, projectID, key string, artifact json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok {
		return models.EntityGone("project", projectID)
	}
	if project.Artifacts == nil {
		project.Artifacts = make(map[string]json.RawMessage)
	}
	project.Artifacts[key] = artifact
	return nil
}

func (m *memStore) MarkMonitorStarted(ctx context.Context, projectID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok {
		return false, models.EntityGone("project", projectID)
	}
	if project.MonitorStarted {
		return false, nil
	}
	project.MonitorStarted = true
	return true, nil
}

func (m *memStore) SavePage(ctx context.Context, page *models.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *page
	m.pages[page.ID] = &copied
	return nil
}

func (m *memStore) GetPage(ctx context.Context, id string) (*models.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page, ok := m.pages[id]
	if !ok {
		return nil, models.EntityGone("page", id)
	}
	copied := *page
	return &copied, nil
}

func (m *memStore) UpdatePageStatus(ctx context.Context, id string, status models.PageStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	page, ok := m.pages[id]
	if !ok {
		return models.EntityGone("page", id)
	}
	page.Status = status
	return nil
}

func (m *memStore) SetPublished(ctx context.Context, id, publishedID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	page, ok := m.pages[id]
	if !ok {
		return models.EntityGone("page", id)
	}
	page.PublishedID = publishedID
	page.URL = url
	page.Status = models.PageStatusPublished
	return nil
}

func (m *memStore) ListPagesByProject(ctx context.Context, projectID string) ([]*models.Page, error) {
	return m.listPages(projectID, "")
}

func (m *memStore) ListPagesByStatus(ctx context.Context, projectID string, status models.PageStatus) ([]*models.Page, error) {
	return m.listPages(projectID, status)
}

func (m *memStore) listPages(projectID string, status models.PageStatus) ([]*models.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Page
	for _, page := range m.pages {
		if page.ProjectID != projectID {
			continue
		}
		if status != "" && page.Status != status {
			continue
		}
		copied := *page
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) InsertMonitorRun(ctx context.Context, run *models.MonitorRun) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *run
	copied.ID = fmt.Sprintf("run_%d", len(m.runs)+1)
	m.runs = append(m.runs, &copied)
	return copied.ID, nil
}

func (m *memStore) ListMonitorRuns(ctx context.Context, projectID string, limit int) ([]*models.MonitorRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.MonitorRun
	for _, run := range m.runs {
		if run.ProjectID == projectID {
			copied := *run
			out = append(out, &copied)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeAgent struct {
	fn func(input interfaces.AgentInput) (*interfaces.AgentResult, error)
}

func (f *fakeAgent) Run(ctx context.Context, input interfaces.AgentInput) (*interfaces.AgentResult, error) {
	return f.fn(input)
}

type fakePublisher struct {
	mu     sync.Mutex
	calls  int
	result *interfaces.PublishResult
	err    error
}

func (f *fakePublisher) Publish(ctx context.Context, content json.RawMessage) (*interfaces.PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &interfaces.PublishResult{ID: "pub_1", URL: "https://example.com/pages/1"}, nil
}

type fakeSearch struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (f *fakeSearch) ExchangeCode(ctx context.Context, code string) (*interfaces.OAuthTokens, error) {
	return &interfaces.OAuthTokens{AccessToken: "token"}, nil
}

func (f *fakeSearch) SubmitURLForIndexing(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.urls = append(f.urls, url)
	return nil
}

type recordingEvents struct {
	mu        sync.Mutex
	published []interfaces.Event
}

func (r *recordingEvents) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	return nil
}

func (r *recordingEvents) Publish(ctx context.Context, event interfaces.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, event)
	return nil
}

func (r *recordingEvents) PublishSync(ctx context.Context, event interfaces.Event) error {
	return r.Publish(ctx, event)
}

func (r *recordingEvents) Close() error { return nil }

func (r *recordingEvents) types() []interfaces.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]interfaces.EventType, 0, len(r.published))
	for _, e := range r.published {
		out = append(out, e.Type)
	}
	return out
}

type orchestratorFixture struct {
	scheduler *fakeScheduler
	store     *memStore
	agent     *fakeAgent
	publisher *fakePublisher
	search    *fakeSearch
	events    *recordingEvents
	orch      *Orchestrator
}

func newFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	fx := &orchestratorFixture{
		scheduler: &fakeScheduler{},
		store:     newMemStore(),
		agent: &fakeAgent{fn: func(input interfaces.AgentInput) (*interfaces.AgentResult, error) {
			return &interfaces.AgentResult{Output: json.RawMessage(`{}`)}, nil
		}},
		publisher: &fakePublisher{},
		search:    &fakeSearch{},
		events:    &recordingEvents{},
	}
	fx.orch = NewOrchestrator(
		fx.scheduler, fx.store, fx.agent, fx.publisher, fx.search, fx.events,
		DelaysFromConfig(common.PipelineConfig{}), 50, arbor.NewLogger(),
	)
	return fx
}

func (fx *orchestratorFixture) seedProject(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, fx.store.SaveProject(context.Background(), &models.Project{
		ID:     id,
		Name:   "Test Project",
		Domain: "example.com",
	}))
}

func (fx *orchestratorFixture) seedPage(t *testing.T, page *models.Page) {
	t.Helper()
	require.NoError(t, fx.store.SavePage(context.Background(), page))
}

func TestStartPipeline(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")

	_, err := fx.orch.StartPipeline(context.Background(), "proj-1")
	require.NoError(t, err)

	calls := fx.scheduler.forQueue(models.QueueBuild)
	require.Len(t, calls, 1)
	payload, ok := calls[0].job.Payload.(*models.BuildPayload)
	require.True(t, ok)
	assert.Equal(t, models.PhaseResearch, payload.Phase)
	assert.Equal(t, time.Duration(0), calls[0].opts.Delay)
}

func TestStartPipelineMissingProject(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.orch.StartPipeline(context.Background(), "nope")
	assert.True(t, models.IsEntityGone(err))
	assert.Empty(t, fx.scheduler.calls)
}

func TestBuildPhaseChainsNextWithDelay(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")

	job := models.NewJob("proj-1", &models.BuildPayload{Phase: models.PhaseResearch})
	job.CorrelationID = "corr_abc"
	require.NoError(t, fx.orch.Handle(context.Background(), job))

	calls := fx.scheduler.forQueue(models.QueueBuild)
	require.Len(t, calls, 1)
	payload := calls[0].job.Payload.(*models.BuildPayload)
	assert.Equal(t, models.PhaseArchitecture, payload.Phase)
	assert.Equal(t, 30*time.Second, calls[0].opts.Delay)
	assert.Equal(t, "corr_abc", calls[0].job.CorrelationID, "correlation must survive the chain")
	assert.Equal(t, 0, calls[0].job.RetryCount, "chained jobs start with a fresh retry budget")
	assert.Contains(t, fx.events.types(), interfaces.EventPhaseAdvanced)

	// The phase artifact is stored under the phase name
	project, err := fx.store.GetProject(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Contains(t, project.Artifacts, "research")
}

func TestBuildPhaseDelaysIncrease(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")

	expected := map[models.Phase]time.Duration{
		models.PhaseResearch:     30 * time.Second,  // -> architecture
		models.PhaseArchitecture: 120 * time.Second, // -> content
		models.PhaseContent:      300 * time.Second, // -> elementor
		models.PhaseElementor:    600 * time.Second, // -> linking
	}
	for phase, delay := range expected {
		fx.scheduler.calls = nil
		job := models.NewJob("proj-1", &models.BuildPayload{Phase: phase})
		require.NoError(t, fx.orch.Handle(context.Background(), job))
		calls := fx.scheduler.forQueue(models.QueueBuild)
		require.Len(t, calls, 1, "phase %s", phase)
		assert.Equal(t, delay, calls[0].opts.Delay, "phase %s", phase)
	}
}

func TestContentPhaseSavesDraftPages(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")
	fx.agent.fn = func(input interfaces.AgentInput) (*interfaces.AgentResult, error) {
		return &interfaces.AgentResult{Output: json.RawMessage(
			`{"pages":[{"title":"Home","slug":"home","content":{"blocks":[]}},{"title":"About","slug":"about","content":{"blocks":[]}}]}`,
		)}, nil
	}

	job := models.NewJob("proj-1", &models.BuildPayload{Phase: models.PhaseContent})
	require.NoError(t, fx.orch.Handle(context.Background(), job))

	pages, err := fx.store.ListPagesByStatus(context.Background(), "proj-1", models.PageStatusDraft)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "page_proj-1_about", pages[0].ID)
	assert.Equal(t, "page_proj-1_home", pages[1].ID)
}

func TestContentPhasePageIDsAreProjectScoped(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")
	fx.seedProject(t, "proj-2")
	fx.agent.fn = func(input interfaces.AgentInput) (*interfaces.AgentResult, error) {
		return &interfaces.AgentResult{Output: json.RawMessage(
			`{"pages":[{"title":"Home","slug":"home","content":{"blocks":[]}}]}`,
		)}, nil
	}

	require.NoError(t, fx.orch.Handle(context.Background(), models.NewJob("proj-1", &models.BuildPayload{Phase: models.PhaseContent})))
	require.NoError(t, fx.orch.Handle(context.Background(), models.NewJob("proj-2", &models.BuildPayload{Phase: models.PhaseContent})))

	// Identical slugs in different projects must not collide
	for _, projectID := range []string{"proj-1", "proj-2"} {
		pages, err := fx.store.ListPagesByProject(context.Background(), projectID)
		require.NoError(t, err)
		require.Len(t, pages, 1, "project %s", projectID)
		assert.Equal(t, projectID, pages[0].ProjectID)
		assert.Equal(t, "home", pages[0].Slug)
	}
}

func TestContentPhaseBadSchemaIsAgentError(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")
	fx.agent.fn = func(input interfaces.AgentInput) (*interfaces.AgentResult, error) {
		return &interfaces.AgentResult{Output: json.RawMessage(`"not an object"`)}, nil
	}

	job := models.NewJob("proj-1", &models.BuildPayload{Phase: models.PhaseContent})
	err := fx.orch.Handle(context.Background(), job)
	var agentErr *models.AgentError
	assert.True(t, errors.As(err, &agentErr))
}

func TestLinkingPhaseDispatchesPublishing(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")
	fx.seedPage(t, &models.Page{ID: "page_a", ProjectID: "proj-1", Status: models.PageStatusDraft})
	fx.seedPage(t, &models.Page{ID: "page_b", ProjectID: "proj-1", Status: models.PageStatusDraft})
	fx.seedPage(t, &models.Page{ID: "page_c", ProjectID: "proj-1", Status: models.PageStatusPublished})

	job := models.NewJob("proj-1", &models.BuildPayload{Phase: models.PhaseLinking})
	job.CorrelationID = "corr_xyz"
	require.NoError(t, fx.orch.Handle(context.Background(), job))

	// Only draft pages fan out, staggered, with correlation preserved
	publishes := fx.scheduler.forQueue(models.QueuePublish)
	require.Len(t, publishes, 2)
	for _, c := range publishes {
		assert.True(t, c.bulk)
		assert.Equal(t, 2*time.Second, c.stagger)
		assert.Equal(t, "corr_xyz", c.job.CorrelationID)
	}
	assert.Empty(t, fx.scheduler.forQueue(models.QueueBuild), "linking is the last build phase")
	assert.Contains(t, fx.events.types(), interfaces.EventPipelineCompleted)
}

func TestPublishChainsIndexJob(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")
	fx.seedPage(t, &models.Page{ID: "page_a", ProjectID: "proj-1", Status: models.PageStatusDraft, Content: json.RawMessage(`{}`)})
	fx.publisher.result = &interfaces.PublishResult{ID: "wp_9", URL: "https://example.com/a"}

	job := models.NewJob("proj-1", &models.PublishPayload{PageID: "page_a"})
	require.NoError(t, fx.orch.Handle(context.Background(), job))

	page, err := fx.store.GetPage(context.Background(), "page_a")
	require.NoError(t, err)
	assert.Equal(t, models.PageStatusPublished, page.Status)
	assert.Equal(t, "wp_9", page.PublishedID)
	assert.Equal(t, "https://example.com/a", page.URL)

	indexes := fx.scheduler.forQueue(models.QueueIndex)
	require.Len(t, indexes, 1)
	payload := indexes[0].job.Payload.(*models.IndexPayload)
	assert.Equal(t, "https://example.com/a", payload.URL)
	assert.Contains(t, fx.events.types(), interfaces.EventPagePublished)
}

func TestPublishSkipsAlreadyPublishedPage(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")
	fx.seedPage(t, &models.Page{
		ID: "page_a", ProjectID: "proj-1", Status: models.PageStatusPublished,
		PublishedID: "wp_1", URL: "https://example.com/a",
	})

	job := models.NewJob("proj-1", &models.PublishPayload{PageID: "page_a"})
	require.NoError(t, fx.orch.Handle(context.Background(), job))

	assert.Equal(t, 0, fx.publisher.calls, "re-run must not hit the publishing API again")
	assert.Len(t, fx.scheduler.forQueue(models.QueueIndex), 1, "indexing still chains")
}

func TestPublishGonePageSkips(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")

	job := models.NewJob("proj-1", &models.PublishPayload{PageID: "page_gone"})
	err := fx.orch.Handle(context.Background(), job)
	assert.True(t, models.IsEntityGone(err))
	assert.Equal(t, 0, fx.publisher.calls)
}

func TestIndexStartsMonitorLoopOnce(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")

	first := models.NewJob("proj-1", &models.IndexPayload{URL: "https://example.com/a"})
	require.NoError(t, fx.orch.Handle(context.Background(), first))

	monitors := fx.scheduler.forQueue(models.QueueMonitor)
	require.Len(t, monitors, 1)
	assert.Equal(t, 60*time.Second, monitors[0].opts.Delay)

	// A second index job for the same project must not fork the loop
	second := models.NewJob("proj-1", &models.IndexPayload{URL: "https://example.com/b"})
	require.NoError(t, fx.orch.Handle(context.Background(), second))
	assert.Len(t, fx.scheduler.forQueue(models.QueueMonitor), 1)

	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, fx.search.urls)
	assert.Contains(t, fx.events.types(), interfaces.EventURLIndexed)
}

func TestMonitorReschedulesOnSuccess(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")
	fx.agent.fn = func(input interfaces.AgentInput) (*interfaces.AgentResult, error) {
		return &interfaces.AgentResult{Output: json.RawMessage(`{"health_score":90,"summary":"all good"}`)}, nil
	}

	job := models.NewJob("proj-1", &models.MonitorPayload{})
	require.NoError(t, fx.orch.Handle(context.Background(), job))

	monitors := fx.scheduler.forQueue(models.QueueMonitor)
	require.Len(t, monitors, 1, "exactly one reschedule per cycle")
	assert.Equal(t, 24*time.Hour, monitors[0].opts.Delay)

	runs, err := fx.store.ListMonitorRuns(context.Background(), "proj-1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].HealthScore)
	assert.Equal(t, 90, *runs[0].HealthScore)
	assert.Empty(t, fx.scheduler.forQueue(models.QueueOptimize))
}

func TestMonitorReschedulesOnFailure(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")
	fx.agent.fn = func(input interfaces.AgentInput) (*interfaces.AgentResult, error) {
		return nil, &models.AgentError{AgentType: "monitor", Err: errors.New("model timeout")}
	}

	job := models.NewJob("proj-1", &models.MonitorPayload{})
	err := fx.orch.Handle(context.Background(), job)
	assert.Error(t, err)

	// A failed cycle still keeps the loop alive and leaves an audit record
	monitors := fx.scheduler.forQueue(models.QueueMonitor)
	require.Len(t, monitors, 1)
	assert.Equal(t, 24*time.Hour, monitors[0].opts.Delay)

	runs, rerr := fx.store.ListMonitorRuns(context.Background(), "proj-1", 0)
	require.NoError(t, rerr)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].HealthScore)
	assert.Contains(t, runs[0].Result, "model timeout")
}

func TestMonitorExitsWhenProjectGone(t *testing.T) {
	fx := newFixture(t)

	job := models.NewJob("proj-deleted", &models.MonitorPayload{})
	err := fx.orch.Handle(context.Background(), job)
	assert.True(t, models.IsEntityGone(err))

	// The only loop exit: nothing rescheduled, nothing recorded
	assert.Empty(t, fx.scheduler.calls)
	runs, rerr := fx.store.ListMonitorRuns(context.Background(), "proj-deleted", 0)
	require.NoError(t, rerr)
	assert.Empty(t, runs)
}

func TestMonitorLowScoreDispatchesOptimization(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")
	fx.seedPage(t, &models.Page{ID: "page_a", ProjectID: "proj-1", Status: models.PageStatusPublished})
	fx.seedPage(t, &models.Page{ID: "page_b", ProjectID: "proj-1", Status: models.PageStatusDraft})
	fx.agent.fn = func(input interfaces.AgentInput) (*interfaces.AgentResult, error) {
		return &interfaces.AgentResult{Output: json.RawMessage(`{"health_score":20,"summary":"rankings dropped"}`)}, nil
	}

	job := models.NewJob("proj-1", &models.MonitorPayload{})
	require.NoError(t, fx.orch.Handle(context.Background(), job))

	// Only published pages are optimization candidates
	optimizes := fx.scheduler.forQueue(models.QueueOptimize)
	require.Len(t, optimizes, 1)
	payload := optimizes[0].job.Payload.(*models.OptimizePayload)
	assert.Equal(t, "page_a", payload.PageID)
	assert.Contains(t, payload.Reason, "health score 20")
	assert.Contains(t, fx.events.types(), interfaces.EventMonitorAlert)

	// The loop still reschedules alongside the optimization fan-out
	assert.Len(t, fx.scheduler.forQueue(models.QueueMonitor), 1)
}

func TestOptimizeSuccess(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")
	fx.seedPage(t, &models.Page{
		ID: "page_a", ProjectID: "proj-1", Status: models.PageStatusPublished,
		PublishedID: "wp_1", Content: json.RawMessage(`{"v":1}`),
	})
	fx.agent.fn = func(input interfaces.AgentInput) (*interfaces.AgentResult, error) {
		return &interfaces.AgentResult{Output: json.RawMessage(`{"v":2}`)}, nil
	}

	job := models.NewJob("proj-1", &models.OptimizePayload{PageID: "page_a", Reason: "health score 20 below threshold 50"})
	require.NoError(t, fx.orch.Handle(context.Background(), job))

	page, err := fx.store.GetPage(context.Background(), "page_a")
	require.NoError(t, err)
	assert.Equal(t, models.PageStatusPublished, page.Status)
	assert.JSONEq(t, `{"v":2}`, string(page.Content))
	assert.Equal(t, 1, fx.publisher.calls, "optimized content is republished")
}

func TestOptimizeRestoresStatusOnFailure(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")
	fx.seedPage(t, &models.Page{
		ID: "page_a", ProjectID: "proj-1", Status: models.PageStatusPublished,
		Content: json.RawMessage(`{"v":1}`),
	})
	fx.agent.fn = func(input interfaces.AgentInput) (*interfaces.AgentResult, error) {
		return nil, &models.AgentError{AgentType: "optimize", Err: errors.New("model unavailable")}
	}

	job := models.NewJob("proj-1", &models.OptimizePayload{PageID: "page_a", Reason: "degraded"})
	err := fx.orch.Handle(context.Background(), job)
	assert.Error(t, err)

	// Never stuck in optimizing, content untouched
	page, gerr := fx.store.GetPage(context.Background(), "page_a")
	require.NoError(t, gerr)
	assert.Equal(t, models.PageStatusPublished, page.Status)
	assert.JSONEq(t, `{"v":1}`, string(page.Content))
}

func TestOptimizeRejectsUnpublishedPage(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")
	fx.seedPage(t, &models.Page{ID: "page_a", ProjectID: "proj-1", Status: models.PageStatusDraft})

	job := models.NewJob("proj-1", &models.OptimizePayload{PageID: "page_a", Reason: "degraded"})
	err := fx.orch.Handle(context.Background(), job)
	assert.True(t, models.IsValidation(err))
}

func TestAgentTaskSavesArtifact(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")
	fx.agent.fn = func(input interfaces.AgentInput) (*interfaces.AgentResult, error) {
		assert.Equal(t, "keyword_research", input.AgentType)
		return &interfaces.AgentResult{Output: json.RawMessage(`{"keywords":[]}`)}, nil
	}

	job := models.NewJob("proj-1", &models.AgentTaskPayload{AgentType: "keyword_research"})
	require.NoError(t, fx.orch.Handle(context.Background(), job))

	project, err := fx.store.GetProject(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Contains(t, project.Artifacts, "keyword_research")
}

func TestAgentTaskRequiresType(t *testing.T) {
	fx := newFixture(t)
	fx.seedProject(t, "proj-1")

	job := models.NewJob("proj-1", &models.AgentTaskPayload{})
	err := fx.orch.Handle(context.Background(), job)
	assert.True(t, models.IsValidation(err))
}

func TestHandleUnroutablePayload(t *testing.T) {
	fx := newFixture(t)
	job := &models.Job{ID: "job_x", Type: "mystery"}
	err := fx.orch.Handle(context.Background(), job)
	assert.True(t, models.IsValidation(err))
}
