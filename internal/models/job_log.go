package models

import "time"

// JobLogEntry is a single log line captured for a crawl job. Timestamp is
// the short display form; FullTimestamp is what storage sorts on.
type JobLogEntry struct {
	Timestamp       string    `json:"timestamp"`
	FullTimestamp   time.Time `json:"full_timestamp"`
	Level           string    `json:"level"`
	Message         string    `json:"message"`
	AssociatedJobID string    `json:"job_id,omitempty" badgerhold:"index"`
}
