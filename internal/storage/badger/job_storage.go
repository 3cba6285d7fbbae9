package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// Serializes read-modify-write cycles so concurrent workers never
	// lose counter increments or status transitions.
	mu sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) CreateJob(ctx context.Context, job *models.CrawlJob) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := s.db.Store().Insert(job.ID, job); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("job %s already exists", job.ID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.CrawlJob, error) {
	var job models.CrawlJob
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) UpdateJob(ctx context.Context, job *models.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.UpdatedAt = time.Now().UTC()
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (s *JobStorage) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var job models.CrawlJob
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrJobNotFound
		}
		return fmt.Errorf("failed to get job for status update: %w", err)
	}

	// Same-status updates are refreshes, not transitions. A job resuming
	// after a restart re-enters running this way.
	if job.Status != status && !job.CanTransitionTo(status) {
		return fmt.Errorf("illegal status transition %s -> %s for job %s", job.Status, status, jobID)
	}

	now := time.Now().UTC()
	job.Status = status
	job.UpdatedAt = now
	if errMsg != "" {
		job.Error = errMsg
	}
	if status == models.JobStatusRunning && job.StartedAt.IsZero() {
		job.StartedAt = now
	}
	if status.IsTerminal() {
		job.EndedAt = now
	}

	if err := s.db.Store().Upsert(jobID, &job); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Str("status", string(status)).
		Msg("Job status updated")
	return nil
}

func (s *JobStorage) IncrementCounters(ctx context.Context, jobID string, delta models.JobCounters) (*models.JobCounters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var job models.CrawlJob
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job for counter update: %w", err)
	}

	job.Counters.Discovered += delta.Discovered
	job.Counters.Queued += delta.Queued
	job.Counters.Processed += delta.Processed
	job.Counters.Failed += delta.Failed
	job.Counters.Skipped += delta.Skipped
	job.Counters.Filtered += delta.Filtered
	job.UpdatedAt = time.Now().UTC()

	if err := s.db.Store().Upsert(jobID, &job); err != nil {
		return nil, fmt.Errorf("failed to update counters: %w", err)
	}

	counters := job.Counters
	return &counters, nil
}

func (s *JobStorage) ListJobsByUser(ctx context.Context, userID string, limit int) ([]*models.CrawlJob, error) {
	var jobs []models.CrawlJob
	query := badgerhold.Where("UserID").Eq(userID).SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return toJobPointers(jobs), nil
}

func (s *JobStorage) ListActiveByUser(ctx context.Context, userID string) ([]*models.CrawlJob, error) {
	var jobs []models.CrawlJob
	query := badgerhold.Where("UserID").Eq(userID).
		And("Status").In(models.JobStatusPending, models.JobStatusRunning).
		SortBy("CreatedAt").Reverse()
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	return toJobPointers(jobs), nil
}

func (s *JobStorage) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.CrawlJob, error) {
	var jobs []models.CrawlJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status)); err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}
	return toJobPointers(jobs), nil
}

func (s *JobStorage) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	count, err := s.db.Store().Count(&models.CrawlJob{},
		badgerhold.Where("UserID").Eq(userID).
			And("Status").In(models.JobStatusPending, models.JobStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}
	return int(count), nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.CrawlJob{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *JobStorage) ListTerminalBefore(ctx context.Context, cutoff time.Time) ([]*models.CrawlJob, error) {
	var jobs []models.CrawlJob
	query := badgerhold.Where("Status").In(
		models.JobStatusCompleted,
		models.JobStatusFailed,
		models.JobStatusTimeout,
		models.JobStatusCancelled,
	)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list terminal jobs: %w", err)
	}

	var out []*models.CrawlJob
	for i := range jobs {
		if !jobs[i].EndedAt.IsZero() && jobs[i].EndedAt.Before(cutoff) {
			out = append(out, &jobs[i])
		}
	}
	return out, nil
}

func toJobPointers(jobs []models.CrawlJob) []*models.CrawlJob {
	out := make([]*models.CrawlJob, len(jobs))
	for i := range jobs {
		out[i] = &jobs[i]
	}
	return out
}

var _ interfaces.JobStorage = (*JobStorage)(nil)
