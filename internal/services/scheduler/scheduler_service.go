package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/interfaces"
	"github.com/ternarybob/pagemill/internal/models"
	"github.com/ternarybob/pagemill/internal/queue"
)

// staleHeartbeatAge is how long a running job record may go without a
// heartbeat before the sweep marks it failed. The broker redelivers the
// underlying message on its own; this sweep only fixes the record.
const staleHeartbeatAge = 15 * time.Minute

// Service runs the engine's background maintenance on cron schedules:
// job record retention eviction, stale running-record sweeps, and a
// periodic health snapshot log.
type Service struct {
	registry *queue.Registry
	records  interfaces.JobRecordStorage
	health   *queue.HealthReporter
	cron     *cron.Cron
	logger   arbor.ILogger

	mu      sync.Mutex
	running bool
}

// NewService creates the maintenance scheduler.
func NewService(registry *queue.Registry, records interfaces.JobRecordStorage, health *queue.HealthReporter, logger arbor.ILogger) *Service {
	return &Service{
		registry: registry,
		records:  records,
		health:   health,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start registers the maintenance jobs and begins the cron loop.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	jobs := []struct {
		name     string
		schedule string
		fn       func()
	}{
		{"retention_eviction", "0 3 * * *", s.runRetentionEviction},
		{"stale_sweep", "*/5 * * * *", s.runStaleSweep},
		{"health_log", "0 * * * *", s.runHealthLog},
	}

	for _, job := range jobs {
		if _, err := s.cron.AddFunc(job.schedule, s.recovered(job.name, job.fn)); err != nil {
			return fmt.Errorf("register %s: %w", job.name, err)
		}
		s.logger.Debug().
			Str("job", job.name).
			Str("schedule", job.schedule).
			Msg("Maintenance job registered")
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().Msg("Maintenance scheduler started")
	return nil
}

// Stop halts the cron loop, waiting for a running maintenance job.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Maintenance scheduler stopped")
}

// recovered wraps a maintenance job so a panic fails one run, not the cron
// goroutine.
func (s *Service) recovered(name string, fn func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().
					Str("job", name).
					Msg(fmt.Sprintf("Maintenance job panicked: %v", r))
			}
		}()
		fn()
	}
}

// runRetentionEviction prunes finished job records per each queue's
// retention policy.
func (s *Service) runRetentionEviction() {
	ctx := context.Background()
	total := 0

	for _, q := range s.registry.All() {
		def := q.Definition

		evictions := []struct {
			status models.JobStatus
			policy models.RetentionPolicy
		}{
			{models.JobStatusCompleted, def.RetainCompleted},
			{models.JobStatusFailed, def.RetainFailed},
		}
		for _, e := range evictions {
			n, err := s.records.Evict(ctx, def.Name, e.status, e.policy)
			if err != nil {
				s.logger.Warn().
					Err(err).
					Str("queue", string(def.Name)).
					Str("status", string(e.status)).
					Msg("Retention eviction failed")
				continue
			}
			total += n
		}
	}

	s.logger.Info().Int("evicted", total).Msg("Retention eviction completed")
}

// runStaleSweep marks running job records with stale heartbeats as failed.
func (s *Service) runStaleSweep() {
	ctx := context.Background()
	cutoff := time.Now().Add(-staleHeartbeatAge)

	stale, err := s.records.ListStaleRunning(ctx, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Stale record query failed")
		return
	}

	for _, record := range stale {
		if err := s.records.UpdateJobRecordStatus(ctx, record.ID, models.JobStatusFailed, "stale: no heartbeat"); err != nil {
			s.logger.Warn().Err(err).Str("job_id", record.ID).Msg("Failed to mark stale record")
			continue
		}
		s.logger.Warn().
			Str("job_id", record.ID).
			Str("queue", string(record.Queue)).
			Str("heartbeat_at", record.HeartbeatAt.Format(time.RFC3339)).
			Msg("Stale running job marked failed")
	}
}

// runHealthLog writes a periodic health snapshot to the log.
func (s *Service) runHealthLog() {
	snapshot, err := s.health.Snapshot(context.Background())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Health snapshot failed")
		return
	}

	totalFailed := 0
	totalActive := 0
	for _, stats := range snapshot.Queues {
		totalFailed += stats.Failed
		totalActive += stats.Active
	}

	event := s.logger.Info()
	if !snapshot.Healthy {
		event = s.logger.Warn()
	}
	event.
		Bool("healthy", snapshot.Healthy).
		Int("queues", len(snapshot.Queues)).
		Int("active", totalActive).
		Int("failed", totalFailed).
		Msg("Engine health snapshot")
}
