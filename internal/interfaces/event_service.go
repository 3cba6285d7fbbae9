package interfaces

import (
	"context"

	"github.com/ternarybob/doceo/internal/models"
)

// EventSubscription is a live feed of one job's progress events.
type EventSubscription interface {
	// Events yields replayed then live events in EventID order. The
	// channel closes after a terminal event or when the subscription
	// is cancelled.
	Events() <-chan *models.ProgressEvent

	// Close cancels the subscription. Safe to call more than once.
	Close()
}

// EventService is the progress stream: a persistent per-job event log
// with live fan-out. Delivery to subscribers is at-least-once; EventIDs
// let clients deduplicate on resume.
type EventService interface {
	// Publish appends an event to the job's log and fans it out to
	// current subscribers. Returns the persisted event.
	Publish(ctx context.Context, jobID string, eventType models.EventType, payload interface{}) (*models.ProgressEvent, error)

	// Subscribe replays events with EventID > sinceID, then streams live
	// ones. A slow subscriber whose buffer overflows is disconnected;
	// the log remains the source of truth for resumption.
	Subscribe(ctx context.Context, jobID string, sinceID int64) (EventSubscription, error)

	// Replay returns the persisted events with EventID > sinceID without
	// subscribing.
	Replay(ctx context.Context, jobID string, sinceID int64) ([]*models.ProgressEvent, error)

	// Close disconnects all subscribers.
	Close() error
}
