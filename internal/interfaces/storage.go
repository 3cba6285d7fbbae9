package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/doceo/internal/models"
)

// ErrJobNotFound is returned when a job ID does not exist in storage.
var ErrJobNotFound = errors.New("job not found")

// ErrItemNotFound is returned when a queue item ID does not exist.
var ErrItemNotFound = errors.New("queue item not found")

// ErrUserNotFound is returned when a user token does not exist.
var ErrUserNotFound = errors.New("user not found")

// JobStorage persists crawl jobs.
type JobStorage interface {
	CreateJob(ctx context.Context, job *models.CrawlJob) error
	GetJob(ctx context.Context, jobID string) (*models.CrawlJob, error)
	UpdateJob(ctx context.Context, job *models.CrawlJob) error

	// UpdateJobStatus transitions status and stamps UpdatedAt plus the
	// matching lifecycle timestamp (StartedAt or EndedAt).
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg string) error

	// IncrementCounters applies the delta atomically under the storage
	// write lock so concurrent workers never lose updates.
	IncrementCounters(ctx context.Context, jobID string, delta models.JobCounters) (*models.JobCounters, error)

	ListJobsByUser(ctx context.Context, userID string, limit int) ([]*models.CrawlJob, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*models.CrawlJob, error)
	ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.CrawlJob, error)
	CountActiveByUser(ctx context.Context, userID string) (int, error)
	DeleteJob(ctx context.Context, jobID string) error

	// ListTerminalBefore returns terminal jobs whose EndedAt precedes
	// cutoff. The maintenance sweep uses it to clean events and pages
	// alongside the job record.
	ListTerminalBefore(ctx context.Context, cutoff time.Time) ([]*models.CrawlJob, error)
}

// QueueCounts is a point-in-time snapshot of a job's queue states.
type QueueCounts struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
	Done     int `json:"done"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Filtered int `json:"filtered"`
}

// Total is the number of items ever enqueued for the job.
func (c QueueCounts) Total() int {
	return c.Pending + c.InFlight + c.Done + c.Failed + c.Skipped + c.Filtered
}

// Drained reports whether no work remains pending or claimed.
func (c QueueCounts) Drained() bool {
	return c.Pending == 0 && c.InFlight == 0
}

// QueueStorage persists per-job work queues. Items move
// pending -> in_flight -> terminal; failed items with attempts left are
// reset to pending by Fail.
type QueueStorage interface {
	// Enqueue inserts the items whose (job_id, url_hash) pair has not
	// been seen before and returns how many were actually inserted.
	Enqueue(ctx context.Context, items []*models.QueueItem) (int, error)

	// ClaimBatch atomically moves up to limit pending items to in_flight
	// and returns them in BFS order: depth ascending, then enqueue order.
	// Concurrent claimers receive disjoint sets.
	ClaimBatch(ctx context.Context, jobID string, limit int) ([]*models.QueueItem, error)

	// Complete marks a claimed item with the given terminal state.
	Complete(ctx context.Context, itemID string, state models.ItemState) error

	// Fail records a failed attempt. Retryable failures with attempts
	// remaining go back to pending; otherwise the item lands in failed.
	Fail(ctx context.Context, itemID string, errMsg string, retryable bool, maxRetries int) (*models.QueueItem, error)

	Counts(ctx context.Context, jobID string) (QueueCounts, error)
	GetItem(ctx context.Context, itemID string) (*models.QueueItem, error)

	// ReleaseClaims returns every in_flight item for the job to pending.
	// Used on restart recovery before a job resumes.
	ReleaseClaims(ctx context.Context, jobID string) (int, error)

	// MarkContentSeen records a content hash for duplicate detection and
	// reports whether it was already present.
	MarkContentSeen(ctx context.Context, jobID, contentHash, url string) (bool, error)

	DeleteJobItems(ctx context.Context, jobID string) error
}

// PageStorage persists extracted page results.
type PageStorage interface {
	SavePage(ctx context.Context, page *models.PageResult) error
	GetPage(ctx context.Context, resultID string) (*models.PageResult, error)

	// ListPages returns the job's pages in crawl order (Seq ascending).
	ListPages(ctx context.Context, jobID string) ([]*models.PageResult, error)
	CountPages(ctx context.Context, jobID string) (int, error)
	DeleteJobPages(ctx context.Context, jobID string) error
}

// EventStorage is the persistent per-job event log behind the progress
// stream. EventIDs are monotonic from 1 within a job.
type EventStorage interface {
	// Append assigns the next EventID for the job, persists the event
	// and returns it with Key and EventID populated.
	Append(ctx context.Context, jobID string, eventType models.EventType, payload interface{}) (*models.ProgressEvent, error)

	// ListSince returns events with EventID > sinceID in ID order.
	ListSince(ctx context.Context, jobID string, sinceID int64) ([]*models.ProgressEvent, error)

	LastEventID(ctx context.Context, jobID string) (int64, error)
	DeleteJobEvents(ctx context.Context, jobID string) error
}

// UserStorage persists anonymous user tokens.
type UserStorage interface {
	SaveToken(ctx context.Context, token *models.UserToken) error
	GetToken(ctx context.Context, token string) (*models.UserToken, error)
	TouchToken(ctx context.Context, token string, seenAt time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// JobLogStorage persists captured log lines per job.
type JobLogStorage interface {
	AppendLogs(ctx context.Context, jobID string, entries []models.JobLogEntry) error
	GetLogs(ctx context.Context, jobID string, limit int) ([]models.JobLogEntry, error)
	CountLogs(ctx context.Context, jobID string) (int, error)
	DeleteLogs(ctx context.Context, jobID string) error
}

// StorageManager is the composite owner of every storage implementation.
type StorageManager interface {
	JobStorage() JobStorage
	QueueStorage() QueueStorage
	PageStorage() PageStorage
	EventStorage() EventStorage
	KVStorage() KeyValueStorage
	UserStorage() UserStorage
	JobLogStorage() JobLogStorage
	DB() interface{}
	Close() error
}
