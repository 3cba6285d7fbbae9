package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/doceo/internal/models"
)

// ErrInvalidRequest is returned for a crawl request that fails
// validation: malformed body, bad URL, SSRF-blocked seed.
var ErrInvalidRequest = errors.New("invalid crawl request")

// ErrTooManyJobs is returned when a user exceeds the active job limit.
var ErrTooManyJobs = errors.New("too many active jobs")

// ErrJobTerminal is returned when an operation needs a live job but the
// job already reached a final state.
var ErrJobTerminal = errors.New("job already in a terminal state")

// ErrForbidden is returned when a job exists but belongs to another user.
// Handlers must render it exactly like ErrJobNotFound.
var ErrForbidden = errors.New("forbidden")

// ErrNoArtifact is returned when a download is requested before the job
// completed or when no page met the quality threshold.
var ErrNoArtifact = errors.New("no downloadable artifact")

// JobService is the registry: the authoritative owner of job creation,
// lookup, cancellation and artifact download. All operations are scoped
// to the calling user.
type JobService interface {
	// Create validates the request, persists a pending job and starts
	// its orchestrator. Returns ErrTooManyJobs past the per-user limit.
	Create(ctx context.Context, userID string, req *models.CrawlRequest) (*models.CrawlJob, error)

	// Get returns the job if it belongs to userID. A job owned by
	// someone else yields ErrForbidden, an unknown ID ErrJobNotFound.
	Get(ctx context.Context, userID, jobID string) (*models.CrawlJob, error)

	// ListActive returns the user's pending and running jobs.
	ListActive(ctx context.Context, userID string) ([]*models.CrawlJob, error)

	// ListRecent returns the user's most recent jobs, any status.
	ListRecent(ctx context.Context, userID string, limit int) ([]*models.CrawlJob, error)

	// Cancel requests cooperative cancellation of a live job.
	Cancel(ctx context.Context, userID, jobID string) error

	// Download returns the completed job carrying its final markdown.
	Download(ctx context.Context, userID, jobID string) (*models.CrawlJob, error)

	// Authorize reports whether userID may observe the job. Used by the
	// stream handlers before subscribing.
	Authorize(ctx context.Context, userID, jobID string) (*models.CrawlJob, error)
}
