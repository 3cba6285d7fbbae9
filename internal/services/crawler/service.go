package crawler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// Service runs crawl jobs. Each active job is owned by one orchestrator
// goroutine; the fetcher, robots cache and rate limiter are shared so
// concurrent jobs against the same host stay polite.
type Service struct {
	storage   interfaces.StorageManager
	cache     interfaces.CacheService
	events    interfaces.EventService
	fetcher   *Fetcher
	extractor *Extractor
	sitemaps  *SitemapFetcher
	logger    arbor.ILogger

	mu     sync.RWMutex
	active map[string]*Orchestrator

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

var _ interfaces.CrawlerService = (*Service)(nil)

func NewService(storage interfaces.StorageManager, cache interfaces.CacheService, events interfaces.EventService, config *common.Config, logger arbor.ILogger) *Service {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	fetcher := NewFetcher(config.Crawler.UserAgent, int64(config.Crawler.MaxBodySize), logger)
	return &Service{
		storage:    storage,
		cache:      cache,
		events:     events,
		fetcher:    fetcher,
		extractor:  NewExtractor(logger),
		sitemaps:   NewSitemapFetcher(fetcher.client, fetcher.userAgent, logger),
		logger:     logger,
		active:     make(map[string]*Orchestrator),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

// StartJob launches the orchestrator for a job and returns immediately.
func (s *Service) StartJob(ctx context.Context, job *models.CrawlJob) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job is required")
	}
	if s.baseCtx.Err() != nil {
		return fmt.Errorf("crawler service is shutting down")
	}

	s.mu.Lock()
	if _, exists := s.active[job.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("job %s is already running", job.ID)
	}

	// The per-job context logger routes worker output into the job's
	// persisted log alongside the console.
	jobLogger := s.logger.WithContextWriter(job.ID)
	orch := newOrchestrator(job, s.storage, s.cache, s.events, s.fetcher, s.extractor, s.sitemaps, jobLogger)
	s.active[job.ID] = orch
	s.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().
					Str("job_id", job.ID).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Orchestrator panicked")
			}
			s.mu.Lock()
			delete(s.active, job.ID)
			s.mu.Unlock()
		}()
		orch.Run(s.baseCtx)
	}()

	s.logger.Info().Str("job_id", job.ID).Str("url", job.SeedURL).Msg("Crawl job started")
	return nil
}

// CancelJob signals a running job to stop. Workers finish their current
// item; the terminal event arrives on the job's stream.
func (s *Service) CancelJob(ctx context.Context, jobID string) error {
	s.mu.RLock()
	orch, ok := s.active[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	orch.Cancel()
	s.logger.Info().Str("job_id", jobID).Msg("Crawl job cancellation requested")
	return nil
}

func (s *Service) IsRunning(jobID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.active[jobID]
	return ok
}

func (s *Service) ActiveJobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// ResumeInterrupted restarts orchestrators for jobs a previous process
// left in pending or running state. Stale claims are released by each
// orchestrator on startup.
func (s *Service) ResumeInterrupted(ctx context.Context) (int, error) {
	resumed := 0
	for _, status := range []models.JobStatus{models.JobStatusRunning, models.JobStatusPending} {
		jobs, err := s.storage.JobStorage().ListByStatus(ctx, status)
		if err != nil {
			return resumed, fmt.Errorf("list %s jobs: %w", status, err)
		}
		for _, job := range jobs {
			if err := s.StartJob(ctx, job); err != nil {
				s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Job resume failed")
				continue
			}
			resumed++
		}
	}
	if resumed > 0 {
		s.logger.Info().Int("resumed", resumed).Msg("Resumed interrupted crawl jobs")
	}
	return resumed, nil
}

// Shutdown cancels every running job and waits for their orchestrators,
// bounded by ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.baseCancel()

	s.mu.RLock()
	running := make([]*Orchestrator, 0, len(s.active))
	for _, orch := range s.active {
		running = append(running, orch)
	}
	s.mu.RUnlock()

	for _, orch := range running {
		select {
		case <-orch.Done():
		case <-ctx.Done():
			return fmt.Errorf("shutdown interrupted with %d jobs still draining: %w", len(running), ctx.Err())
		}
	}
	s.logger.Info().Int("jobs", len(running)).Msg("Crawler service stopped")
	return nil
}
