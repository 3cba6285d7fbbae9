package interfaces

import (
	"context"

	"github.com/ternarybob/doceo/internal/models"
)

// CrawlerService runs crawl jobs. One orchestrator goroutine owns each
// active job; the service tracks them for cancellation and shutdown.
type CrawlerService interface {
	// StartJob launches the orchestrator for a pending job. Returns
	// immediately; progress is observable on the event stream.
	StartJob(ctx context.Context, job *models.CrawlJob) error

	// CancelJob signals the job's workers to stop after their current
	// item. No-op if the job is not running here.
	CancelJob(ctx context.Context, jobID string) error

	// IsRunning reports whether this instance owns a live orchestrator
	// for the job.
	IsRunning(jobID string) bool

	// ActiveJobs returns the IDs of jobs currently running here.
	ActiveJobs() []string

	// Shutdown cancels all running jobs and waits for their workers,
	// bounded by ctx.
	Shutdown(ctx context.Context) error
}
