package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
)

const (
	defaultSweepSchedule = "@every 5m"
	defaultGCSchedule    = "@every 10m"

	// gcDiscardRatio is the Badger-recommended threshold: a value log
	// file is rewritten when at least half of it is stale.
	gcDiscardRatio = 0.5

	// gcMaxRounds caps one GC task run; each successful round rewrites
	// a single value log file.
	gcMaxRounds = 10
)

// valueLogGC is implemented by the badger connection. Asserted at
// runtime so the scheduler stays decoupled from the storage package.
type valueLogGC interface {
	RunValueLogGC(discardRatio float64) error
}

// task is a registered maintenance task with run bookkeeping.
type task struct {
	name      string
	schedule  string
	handler   func(ctx context.Context) error
	cronID    cron.EntryID
	lastRun   *time.Time
	isRunning bool
	lastError string
}

// Service drives the cron maintenance loop: terminal jobs past their
// retention window are cascade-deleted together with their queue items,
// pages, events and captured logs; expired cache entries and user
// tokens are purged; Badger value-log GC reclaims disk space.
type Service struct {
	storage   interfaces.StorageManager
	cache     interfaces.CacheService
	auth      interfaces.AuthService
	logger    arbor.ILogger
	retention time.Duration
	enabled   bool

	cron    *cron.Cron
	mu      sync.Mutex // protects tasks and running
	execMu  sync.Mutex // serialises task execution
	tasks   map[string]*task
	running bool

	sweepSchedule string
	gcSchedule    string
}

var _ interfaces.SchedulerService = (*Service)(nil)

// NewService creates the maintenance scheduler. Schedules accept cron
// expressions or @every forms; empty values fall back to the defaults.
func NewService(storage interfaces.StorageManager, cache interfaces.CacheService, auth interfaces.AuthService, config *common.Config, logger arbor.ILogger) *Service {
	sweepSchedule := config.Scheduler.SweepSchedule
	if sweepSchedule == "" {
		sweepSchedule = defaultSweepSchedule
	}
	gcSchedule := config.Scheduler.GCSchedule
	if gcSchedule == "" {
		gcSchedule = defaultGCSchedule
	}

	return &Service{
		storage:       storage,
		cache:         cache,
		auth:          auth,
		logger:        logger,
		retention:     config.EventRetention(),
		enabled:       config.Scheduler.Enabled,
		cron:          cron.New(),
		tasks:         make(map[string]*task),
		sweepSchedule: sweepSchedule,
		gcSchedule:    gcSchedule,
	}
}

// Start registers the maintenance tasks and launches the cron loop.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if !s.enabled {
		s.logger.Info().Msg("Maintenance scheduler disabled by config")
		return nil
	}

	if err := s.register("sweep", s.sweepSchedule, s.runSweep); err != nil {
		return err
	}
	if err := s.register("badger_gc", s.gcSchedule, s.runValueLogGC); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("sweep_schedule", s.sweepSchedule).
		Str("gc_schedule", s.gcSchedule).
		Dur("retention", s.retention).
		Msg("Maintenance scheduler started")

	return nil
}

// Stop halts the cron loop and waits briefly for in-flight tasks.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn().Msg("Timed out waiting for maintenance tasks to finish")
	}

	s.logger.Info().Msg("Maintenance scheduler stopped")
}

// IsRunning returns true while the cron loop is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TaskStatuses reports every registered maintenance task.
func (s *Service) TaskStatuses() map[string]*interfaces.TaskStatus {
	next := make(map[cron.EntryID]time.Time)
	for _, entry := range s.cron.Entries() {
		next[entry.ID] = entry.Next
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[string]*interfaces.TaskStatus, len(s.tasks))
	for name, t := range s.tasks {
		status := &interfaces.TaskStatus{
			Name:      t.name,
			Schedule:  t.schedule,
			IsRunning: t.isRunning,
			LastError: t.lastError,
		}
		if t.lastRun != nil {
			lastRun := *t.lastRun
			status.LastRun = &lastRun
		}
		if n, ok := next[t.cronID]; ok && !n.IsZero() {
			nextRun := n
			status.NextRun = &nextRun
		}
		statuses[name] = status
	}
	return statuses
}

// register adds a task to the cron loop. Caller holds s.mu.
func (s *Service) register(name, schedule string, handler func(ctx context.Context) error) error {
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %s already registered", name)
	}

	t := &task{name: name, schedule: schedule, handler: handler}
	cronID, err := s.cron.AddFunc(schedule, func() {
		s.executeTask(name)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule task %s: %w", name, err)
	}

	t.cronID = cronID
	s.tasks[name] = t
	return nil
}

// executeTask wraps a task run with panic recovery, mutual exclusion
// and status tracking.
func (s *Service) executeTask(name string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("task", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Panic recovered in maintenance task")

			s.mu.Lock()
			if t, ok := s.tasks[name]; ok {
				t.isRunning = false
				t.lastError = fmt.Sprintf("panic: %v", r)
			}
			s.mu.Unlock()
		}
	}()

	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.mu.Lock()
	t, ok := s.tasks[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	t.isRunning = true
	handler := t.handler
	s.mu.Unlock()

	started := time.Now()
	err := handler(context.Background())
	completed := time.Now()

	s.mu.Lock()
	t.isRunning = false
	t.lastRun = &completed
	if err != nil {
		t.lastError = err.Error()
	} else {
		t.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().
			Str("task", name).
			Err(err).
			Dur("duration", completed.Sub(started)).
			Msg("Maintenance task failed")
		return
	}

	s.logger.Debug().
		Str("task", name).
		Dur("duration", completed.Sub(started)).
		Msg("Maintenance task completed")
}

// runSweep removes expired jobs, cache entries and user tokens. Each
// step runs even when an earlier one fails.
func (s *Service) runSweep(ctx context.Context) error {
	var firstErr error

	removedJobs, err := s.sweepExpiredJobs(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Expired job sweep failed")
		firstErr = err
	}

	removedEntries, err := s.cache.Sweep(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Cache sweep failed")
		if firstErr == nil {
			firstErr = err
		}
	}

	purgedTokens, err := s.auth.PurgeExpired(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Token purge failed")
		if firstErr == nil {
			firstErr = err
		}
	}

	if removedJobs > 0 || removedEntries > 0 || purgedTokens > 0 {
		s.logger.Info().
			Int("jobs", removedJobs).
			Int("cache_entries", removedEntries).
			Int("tokens", purgedTokens).
			Msg("Maintenance sweep removed expired records")
	}

	return firstErr
}

// sweepExpiredJobs cascade-deletes terminal jobs older than the
// retention window.
func (s *Service) sweepExpiredJobs(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.retention)

	expired, err := s.storage.JobStorage().ListTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired jobs: %w", err)
	}

	removed := 0
	for _, job := range expired {
		if err := s.deleteJobData(ctx, job.ID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to sweep expired job")
			continue
		}
		removed++
	}

	return removed, nil
}

// deleteJobData removes everything keyed to a job: queue items, pages,
// events and captured logs, then the job record itself.
func (s *Service) deleteJobData(ctx context.Context, jobID string) error {
	if err := s.storage.QueueStorage().DeleteJobItems(ctx, jobID); err != nil {
		return fmt.Errorf("queue items: %w", err)
	}
	if err := s.storage.PageStorage().DeleteJobPages(ctx, jobID); err != nil {
		return fmt.Errorf("pages: %w", err)
	}
	if err := s.storage.EventStorage().DeleteJobEvents(ctx, jobID); err != nil {
		return fmt.Errorf("events: %w", err)
	}
	if err := s.storage.JobLogStorage().DeleteLogs(ctx, jobID); err != nil {
		return fmt.Errorf("logs: %w", err)
	}
	if err := s.storage.JobStorage().DeleteJob(ctx, jobID); err != nil {
		return fmt.Errorf("job record: %w", err)
	}
	return nil
}

// runValueLogGC reclaims Badger value-log space. Each successful round
// rewrites one log file; ErrNoRewrite means nothing was left to claim.
func (s *Service) runValueLogGC(_ context.Context) error {
	gc, ok := s.storage.DB().(valueLogGC)
	if !ok {
		return nil
	}

	rounds := 0
	for rounds < gcMaxRounds {
		err := gc.RunValueLogGC(gcDiscardRatio)
		if err == nil {
			rounds++
			continue
		}
		if !errors.Is(err, badgerdb.ErrNoRewrite) {
			return fmt.Errorf("value log gc: %w", err)
		}
		break
	}

	if rounds > 0 {
		s.logger.Info().Int("rounds", rounds).Msg("Badger value-log GC reclaimed space")
	}
	return nil
}
