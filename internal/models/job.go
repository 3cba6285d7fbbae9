package models

import (
	"time"
)

// JobStatus tracks a crawl job through its lifecycle.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimeout   JobStatus = "timeout"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is a final state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimeout, JobStatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether the job still owns queue items or workers.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// JobCounters holds the atomic progress counters for a crawl job.
// Invariant: Processed+Failed+Skipped+Filtered <= Queued <= Discovered.
type JobCounters struct {
	Discovered int `json:"discovered"`
	Queued     int `json:"queued"`
	Processed  int `json:"processed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Filtered   int `json:"filtered"`
}

// Finished is the number of queue items that reached a terminal item state.
func (c JobCounters) Finished() int {
	return c.Processed + c.Failed + c.Skipped + c.Filtered
}

// CrawlJob is the persistent record for a single documentation crawl.
type CrawlJob struct {
	ID        string      `json:"job_id" badgerhold:"key"`
	UserID    string      `json:"user_id" badgerhold:"index"`
	SeedURL   string      `json:"seed_url"`
	RootURL   string      `json:"root_url"`
	Status    JobStatus   `json:"status" badgerhold:"index"`
	Config    CrawlConfig `json:"config"`
	Counters  JobCounters `json:"counters"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	StartedAt time.Time   `json:"started_at,omitempty"`
	EndedAt   time.Time   `json:"ended_at,omitempty"`

	// FinalMarkdown is populated only when the job completes with at
	// least one page at or above the quality threshold.
	FinalMarkdown string `json:"final_markdown,omitempty"`
	TotalWords    int    `json:"total_words"`
	PageCount     int    `json:"page_count"`
}

// NewCrawlJob builds a pending job for the given seed URL.
func NewCrawlJob(id, userID, seedURL string, config CrawlConfig) *CrawlJob {
	now := time.Now().UTC()
	return &CrawlJob{
		ID:        id,
		UserID:    userID,
		SeedURL:   seedURL,
		Status:    JobStatusPending,
		Config:    config,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsTerminal reports whether the job reached a final state.
func (j *CrawlJob) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Duration returns elapsed wall time since the job started. Terminal jobs
// report the frozen start-to-end span.
func (j *CrawlJob) Duration() time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	if j.IsTerminal() && !j.EndedAt.IsZero() {
		return j.EndedAt.Sub(j.StartedAt)
	}
	return time.Since(j.StartedAt)
}

// CanTransitionTo reports whether moving to next is a legal lifecycle step.
// Terminal states accept no further transitions.
func (j *CrawlJob) CanTransitionTo(next JobStatus) bool {
	if j.Status.IsTerminal() {
		return false
	}
	switch j.Status {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusFailed || next == JobStatusCancelled
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed ||
			next == JobStatusTimeout || next == JobStatusCancelled
	}
	return false
}
