package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/pagemill/internal/interfaces"
	"github.com/ternarybob/pagemill/internal/models"
)

// JobRecordStorage implements interfaces.JobRecordStorage for Badger
type JobRecordStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobRecordStorage creates a new JobRecordStorage instance
func NewJobRecordStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobRecordStorage {
	return &JobRecordStorage{db: db, logger: logger}
}

func (s *JobRecordStorage) SaveJobRecord(ctx context.Context, record *models.JobRecord) error {
	if record.ID == "" {
		return &models.ValidationError{Field: "id", Reason: "job record ID is required"}
	}
	if err := s.db.Store().Upsert(record.ID, record); err != nil {
		return fmt.Errorf("save job record: %w", err)
	}
	return nil
}

func (s *JobRecordStorage) GetJobRecord(ctx context.Context, id string) (*models.JobRecord, error) {
	var record models.JobRecord
	if err := s.db.Store().Get(id, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.EntityGone("job record", id)
		}
		return nil, fmt.Errorf("get job record: %w", err)
	}
	return &record, nil
}

func (s *JobRecordStorage) UpdateJobRecordStatus(ctx context.Context, id string, status models.JobStatus, errMsg string) error {
	record, err := s.GetJobRecord(ctx, id)
	if err != nil {
		return err
	}

	record.Status = status
	if errMsg != "" {
		record.Error = errMsg
	}

	now := time.Now()
	switch status {
	case models.JobStatusRunning:
		record.StartedAt = &now
		record.HeartbeatAt = now
	case models.JobStatusCompleted, models.JobStatusFailed:
		record.CompletedAt = &now
	}

	return s.SaveJobRecord(ctx, record)
}

func (s *JobRecordStorage) Heartbeat(ctx context.Context, id string, at time.Time) error {
	record, err := s.GetJobRecord(ctx, id)
	if err != nil {
		return err
	}
	record.HeartbeatAt = at
	return s.SaveJobRecord(ctx, record)
}

// CountByStatus returns per-status counts for a queue plus the number of
// pending records not yet eligible (delayed).
func (s *JobRecordStorage) CountByStatus(ctx context.Context, queue models.QueueName) (map[models.JobStatus]int, int, error) {
	var records []models.JobRecord
	if err := s.db.Store().Find(&records, badgerhold.Where("Queue").Eq(queue)); err != nil {
		return nil, 0, fmt.Errorf("count job records: %w", err)
	}

	counts := make(map[models.JobStatus]int)
	delayed := 0
	now := time.Now()
	for i := range records {
		counts[records[i].Status]++
		if records[i].Status == models.JobStatusPending && records[i].EligibleAt.After(now) {
			delayed++
		}
	}
	return counts, delayed, nil
}

// ListStaleRunning returns running records whose heartbeat is older than the
// cutoff. These correspond to leases lost to a crashed worker.
func (s *JobRecordStorage) ListStaleRunning(ctx context.Context, olderThan time.Time) ([]*models.JobRecord, error) {
	var records []models.JobRecord
	query := badgerhold.Where("Status").Eq(models.JobStatusRunning).And("HeartbeatAt").Lt(olderThan)
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("list stale job records: %w", err)
	}
	result := make([]*models.JobRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

// Evict removes finished records beyond the retention policy: everything
// past the most-recent Count entries, and anything older than Age.
func (s *JobRecordStorage) Evict(ctx context.Context, queue models.QueueName, status models.JobStatus, policy models.RetentionPolicy) (int, error) {
	var records []models.JobRecord
	query := badgerhold.Where("Queue").Eq(queue).And("Status").Eq(status).SortBy("EnqueuedAt").Reverse()
	if err := s.db.Store().Find(&records, query); err != nil {
		return 0, fmt.Errorf("evict job records: %w", err)
	}

	cutoff := time.Now().Add(-policy.Age)
	evicted := 0
	for i := range records {
		tooMany := policy.Count > 0 && i >= policy.Count
		tooOld := policy.Age > 0 && records[i].EnqueuedAt.Before(cutoff)
		if !tooMany && !tooOld {
			continue
		}
		if err := s.db.Store().Delete(records[i].ID, &models.JobRecord{}); err != nil {
			if err == badgerhold.ErrNotFound {
				continue
			}
			return evicted, fmt.Errorf("evict job record %s: %w", records[i].ID, err)
		}
		evicted++
	}

	if evicted > 0 {
		s.logger.Debug().
			Str("queue", string(queue)).
			Str("status", string(status)).
			Int("evicted", evicted).
			Msg("Job records evicted")
	}
	return evicted, nil
}
