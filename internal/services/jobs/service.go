package jobs

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/ternarybob/doceo/internal/services/crawler"
)

// Service is the job registry: the single owner of job creation, lookup,
// cancellation and artifact download. Every operation is scoped to the
// calling user; a job belonging to someone else is indistinguishable
// from a missing one at the HTTP boundary.
type Service struct {
	storage interfaces.StorageManager
	crawler interfaces.CrawlerService
	logger  arbor.ILogger

	defaults         models.CrawlConfigDefaults
	maxActivePerUser int
	allowLocalSeeds  bool
	validate         *validator.Validate
}

var _ interfaces.JobService = (*Service)(nil)

// NewService creates the registry with crawl defaults taken from config.
func NewService(storage interfaces.StorageManager, crawlerService interfaces.CrawlerService, config *common.Config, logger arbor.ILogger) *Service {
	return &Service{
		storage:          storage,
		crawler:          crawlerService,
		logger:           logger,
		defaults:         crawlDefaults(config.Crawler),
		maxActivePerUser: config.Crawler.MaxActiveJobsPerUser,
		allowLocalSeeds:  config.AllowTestURLs(),
		validate:         validator.New(),
	}
}

// crawlDefaults maps server config onto the per-job option defaults.
func crawlDefaults(c common.CrawlerConfig) models.CrawlConfigDefaults {
	return models.CrawlConfigDefaults{
		MaxDepth:              c.MaxDepth,
		MaxPages:              c.MaxPages,
		TimeoutMs:             c.JobTimeoutMs,
		PageTimeoutMs:         c.PageTimeoutMs,
		RateLimitMs:           c.RateLimitMs,
		MaxConcurrentRequests: c.MaxConcurrentRequests,
		MaxRetries:            c.MaxRetries,
		QualityThreshold:      c.QualityThreshold,
		RespectRobots:         c.RespectRobots,
		UseSitemap:            c.UseSitemap,
	}
}

// Create validates the request, persists a pending job and starts its
// orchestrator. The per-user active cap is enforced here, before
// anything is written.
func (s *Service) Create(ctx context.Context, userID string, req *models.CrawlRequest) (*models.CrawlJob, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if req == nil {
		return nil, fmt.Errorf("%w: empty body", interfaces.ErrInvalidRequest)
	}

	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidRequest, err)
	}
	if err := crawler.ValidateSeedURL(req.URL, s.allowLocalSeeds); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidRequest, err)
	}

	active, err := s.storage.JobStorage().CountActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count active jobs: %w", err)
	}
	if active >= s.maxActivePerUser {
		return nil, fmt.Errorf("%w: %d of %d active", interfaces.ErrTooManyJobs, active, s.maxActivePerUser)
	}

	config := models.ResolveCrawlConfig(req.Config, s.defaults)
	job := models.NewCrawlJob(common.NewJobID(), userID, req.URL, config)
	job.RootURL = crawler.NormalizeURL(req.URL)

	if err := s.storage.JobStorage().CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.crawler.StartJob(ctx, job); err != nil {
		// The record exists; mark it failed so it never looks stuck.
		if uerr := s.storage.JobStorage().UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, err.Error()); uerr != nil {
			s.logger.Warn().Str("job_id", job.ID).Err(uerr).Msg("Failed to mark unstartable job as failed")
		}
		return nil, fmt.Errorf("start job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("user_id", userID).
		Str("url", job.SeedURL).
		Int("max_depth", config.MaxDepth).
		Int("max_pages", config.MaxPages).
		Msg("Crawl job created")

	return job, nil
}

// Get returns the job if it belongs to userID.
func (s *Service) Get(ctx context.Context, userID, jobID string) (*models.CrawlJob, error) {
	return s.Authorize(ctx, userID, jobID)
}

// Authorize loads the job and checks ownership. Cross-user access yields
// ErrForbidden, which handlers render exactly like ErrJobNotFound.
func (s *Service) Authorize(ctx context.Context, userID, jobID string) (*models.CrawlJob, error) {
	job, err := s.storage.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, interfaces.ErrForbidden
	}
	return job, nil
}

// ListActive returns the user's pending and running jobs.
func (s *Service) ListActive(ctx context.Context, userID string) ([]*models.CrawlJob, error) {
	return s.storage.JobStorage().ListActiveByUser(ctx, userID)
}

// ListRecent returns the user's most recent jobs, any status.
func (s *Service) ListRecent(ctx context.Context, userID string, limit int) ([]*models.CrawlJob, error) {
	return s.storage.JobStorage().ListJobsByUser(ctx, userID, limit)
}

// Cancel requests cooperative cancellation of a live job. A job this
// instance is not actually running (left pending by a crash) is moved to
// cancelled directly.
func (s *Service) Cancel(ctx context.Context, userID, jobID string) error {
	job, err := s.Authorize(ctx, userID, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return interfaces.ErrJobTerminal
	}

	if s.crawler.IsRunning(jobID) {
		if err := s.crawler.CancelJob(ctx, jobID); err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		return nil
	}

	if err := s.storage.JobStorage().UpdateJobStatus(ctx, jobID, models.JobStatusCancelled, "cancelled by user"); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	s.logger.Info().Str("job_id", jobID).Msg("Cancelled job with no running orchestrator")
	return nil
}

// Download returns the completed job carrying its final markdown.
// Anything earlier in the lifecycle, and completed jobs where no page
// met the quality threshold, yield ErrNoArtifact.
func (s *Service) Download(ctx context.Context, userID, jobID string) (*models.CrawlJob, error) {
	job, err := s.Authorize(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted || job.FinalMarkdown == "" {
		return nil, interfaces.ErrNoArtifact
	}
	return job, nil
}
