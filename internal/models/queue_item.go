package models

import (
	"fmt"
	"time"
)

// ItemState tracks a queued URL through the work queue.
type ItemState string

const (
	ItemStatePending  ItemState = "pending"
	ItemStateInFlight ItemState = "in_flight"
	ItemStateDone     ItemState = "done"
	ItemStateFailed   ItemState = "failed"
	ItemStateSkipped  ItemState = "skipped"
	ItemStateFiltered ItemState = "filtered"
)

// IsTerminal reports whether the item needs no further work.
func (s ItemState) IsTerminal() bool {
	switch s {
	case ItemStateDone, ItemStateFailed, ItemStateSkipped, ItemStateFiltered:
		return true
	}
	return false
}

// QueueItem is one URL waiting to be crawled for a job. Ordering is BFS:
// lower depth first, then insertion order within a depth.
type QueueItem struct {
	ID       string    `json:"item_id" badgerhold:"key"`
	JobID    string    `json:"job_id" badgerhold:"index"`
	URL      string    `json:"url"`
	URLHash  string    `json:"url_hash"`
	FullHash string    `json:"full_hash"`
	Depth    int       `json:"depth"`
	Seq      int64     `json:"seq"`
	State    ItemState `json:"state" badgerhold:"index"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`

	ParentURL string    `json:"parent_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ClaimedAt time.Time `json:"claimed_at,omitempty"`
}

// NewQueueItem builds a pending item. Seq is assigned by the queue at
// enqueue time to preserve FIFO inside a depth level.
func NewQueueItem(id, jobID, url, urlHash, fullHash string, depth int, parentURL string) *QueueItem {
	now := time.Now().UTC()
	return &QueueItem{
		ID:        id,
		JobID:     jobID,
		URL:       url,
		URLHash:   urlHash,
		FullHash:  fullHash,
		Depth:     depth,
		State:     ItemStatePending,
		ParentURL: parentURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SeenURL records that a normalized URL was already enqueued for a job.
// The composite key makes insert-if-absent the dedup primitive.
type SeenURL struct {
	Key       string    `badgerhold:"key"`
	JobID     string    `badgerhold:"index"`
	URLHash   string    `json:"url_hash"`
	CreatedAt time.Time `json:"created_at"`
}

// SeenURLKey builds the composite dedup key for a (job, url_hash) pair.
func SeenURLKey(jobID, urlHash string) string {
	return fmt.Sprintf("%s|%s", jobID, urlHash)
}

// SeenContent records that a content hash was already produced by a job,
// collapsing mirror URLs that serve identical markdown.
type SeenContent struct {
	Key         string    `badgerhold:"key"`
	JobID       string    `badgerhold:"index"`
	ContentHash string    `json:"content_hash"`
	FirstURL    string    `json:"first_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// SeenContentKey builds the composite dedup key for a (job, content_hash) pair.
func SeenContentKey(jobID, contentHash string) string {
	return fmt.Sprintf("%s|%s", jobID, contentHash)
}
