package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a progress event on the wire. The names are part of the
// stream contract; renaming one breaks every subscribed client.
type EventType string

const (
	EventStreamConnected  EventType = "stream_connected"
	EventURLStarted       EventType = "url_started"
	EventURLCrawled       EventType = "url_crawled"
	EventURLFailed        EventType = "url_failed"
	EventURLSkipped       EventType = "url_skipped"
	EventURLsDiscovered   EventType = "urls_discovered"
	EventSentToProcessing EventType = "sent_to_processing"
	EventProgress         EventType = "progress"
	EventTimeUpdate       EventType = "time_update"
	EventJobCompleted     EventType = "job_completed"
	EventJobFailed        EventType = "job_failed"
	EventJobTimeout       EventType = "job_timeout"
)

// IsTerminal reports whether the event closes the stream.
func (t EventType) IsTerminal() bool {
	return t == EventJobCompleted || t == EventJobFailed || t == EventJobTimeout
}

// ProgressEvent is one persisted entry in a job's event log. EventID is
// monotonic per job starting at 1; the composite key keeps replay order
// identical to key order in the store.
type ProgressEvent struct {
	Key       string          `badgerhold:"key"`
	JobID     string          `json:"job_id" badgerhold:"index"`
	EventID   int64           `json:"event_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// EventKey builds the composite log key. EventID is zero padded so
// lexicographic key order matches numeric order during range scans.
func EventKey(jobID string, eventID int64) string {
	return fmt.Sprintf("%s|%012d", jobID, eventID)
}

// EncodeEventPayload flattens a payload struct into the wire JSON object
// and stamps it with the RFC 3339 timestamp every event carries.
func EncodeEventPayload(payload interface{}, ts time.Time) (json.RawMessage, error) {
	fields := map[string]interface{}{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal event payload: %w", err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("event payload must be a JSON object: %w", err)
		}
	}
	fields["timestamp"] = ts.UTC().Format(time.RFC3339)
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return out, nil
}

// StreamConnectedPayload opens every stream.
type StreamConnectedPayload struct {
	JobID string `json:"job_id"`
	URL   string `json:"url"`
}

type URLStartedPayload struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// QualityInfo explains a page score when it affected the outcome.
type QualityInfo struct {
	Score  int    `json:"score"`
	Reason string `json:"reason,omitempty"`
}

type URLCrawledPayload struct {
	URL           string       `json:"url"`
	Success       bool         `json:"success"`
	ContentLength int          `json:"content_length"`
	Title         string       `json:"title,omitempty"`
	Quality       *QualityInfo `json:"quality,omitempty"`
	FromCache     bool         `json:"from_cache,omitempty"`
}

type URLFailedPayload struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

type URLSkippedPayload struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

type URLsDiscoveredPayload struct {
	SourceURL       string   `json:"source_url"`
	DiscoveredURLs  []string `json:"discovered_urls"`
	Count           int      `json:"count"`
	TotalDiscovered int      `json:"total_discovered"`
}

type ProgressPayload struct {
	Processed  int `json:"processed"`
	Discovered int `json:"discovered"`
	Queued     int `json:"queued"`
	Pending    int `json:"pending"`
}

// TimeUpdatePayload keeps the camelCase field names clients already parse.
type TimeUpdatePayload struct {
	Elapsed         int64  `json:"elapsed"`
	Formatted       string `json:"formatted"`
	TotalProcessed  int    `json:"totalProcessed"`
	TotalDiscovered int    `json:"totalDiscovered"`
	QueueSize       int    `json:"queueSize"`
	PendingCount    int    `json:"pendingCount"`
}

type SentToProcessingPayload struct {
	JobID     string `json:"job_id"`
	PageCount int    `json:"page_count"`
	WordCount int    `json:"word_count"`
}

type JobCompletedPayload struct {
	JobID           string `json:"job_id"`
	TotalProcessed  int    `json:"total_processed"`
	TotalDiscovered int    `json:"total_discovered"`
}

type JobFailedPayload struct {
	JobID           string `json:"job_id"`
	Error           string `json:"error"`
	TotalProcessed  int    `json:"total_processed,omitempty"`
	TotalDiscovered int    `json:"total_discovered,omitempty"`
}

type JobTimeoutPayload struct {
	JobID           string `json:"job_id"`
	TotalProcessed  int    `json:"total_processed"`
	TotalDiscovered int    `json:"total_discovered"`
	Message         string `json:"message"`
}

// FormatElapsed renders a duration as MM:SS, or H:MM:SS past the hour,
// for time_update events.
func FormatElapsed(d time.Duration) string {
	total := int64(d.Seconds())
	if total < 0 {
		total = 0
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
