package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// DefaultSubscriberBuffer is the live-feed buffer per subscriber when the
// config does not say otherwise.
const DefaultSubscriberBuffer = 256

// Service implements EventService: a persistent per-job event log with
// live fan-out. The log is the source of truth; subscriber channels are
// a best-effort mirror and a subscriber that falls behind is disconnected
// and expected to resume from its last event ID.
type Service struct {
	storage interfaces.EventStorage
	logger  arbor.ILogger

	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	pubs   map[string]*sync.Mutex
	closed bool

	bufferSize int
}

// NewService creates the event service. bufferSize is the per-subscriber
// live buffer; values below 1 fall back to DefaultSubscriberBuffer.
func NewService(storage interfaces.EventStorage, bufferSize int, logger arbor.ILogger) *Service {
	if bufferSize < 1 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &Service{
		storage:    storage,
		logger:     logger,
		subs:       make(map[string]map[*subscription]struct{}),
		pubs:       make(map[string]*sync.Mutex),
		bufferSize: bufferSize,
	}
}

// Publish appends the event to the job's log and fans it out to live
// subscribers. Append and fan-out are serialised per job so subscribers
// see live events in the same order the log assigned their IDs.
func (s *Service) Publish(ctx context.Context, jobID string, eventType models.EventType, payload interface{}) (*models.ProgressEvent, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job id is required")
	}

	lock := s.publishLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	event, err := s.storage.Append(ctx, jobID, eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	s.mu.RLock()
	var overflowed []*subscription
	for sub := range s.subs[jobID] {
		select {
		case sub.live <- event:
		default:
			overflowed = append(overflowed, sub)
		}
	}
	s.mu.RUnlock()

	for _, sub := range overflowed {
		s.logger.Warn().
			Str("job_id", jobID).
			Int64("event_id", event.EventID).
			Msg("Subscriber buffer full, disconnecting")
		sub.Close()
	}

	// Terminal events are the last publish for a job; the per-job
	// publish lock is not needed after this point.
	if eventType.IsTerminal() {
		s.mu.Lock()
		delete(s.pubs, jobID)
		s.mu.Unlock()
	}

	return event, nil
}

// Subscribe attaches a subscriber that replays persisted events with
// EventID > sinceID and then follows live publishes. The subscription
// ends with the job's terminal event, on ctx cancellation, on Close,
// or when the subscriber cannot keep up.
func (s *Service) Subscribe(ctx context.Context, jobID string, sinceID int64) (interfaces.EventSubscription, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job id is required")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		svc:    s,
		jobID:  jobID,
		since:  sinceID,
		live:   make(chan *models.ProgressEvent, s.bufferSize),
		out:    make(chan *models.ProgressEvent),
		ctx:    subCtx,
		cancel: cancel,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("event service is closed")
	}
	set, ok := s.subs[jobID]
	if !ok {
		set = make(map[*subscription]struct{})
		s.subs[jobID] = set
	}
	set[sub] = struct{}{}
	s.mu.Unlock()

	// Register before replaying so publishes during the replay land in
	// the live buffer; the pump suppresses the IDs replay already sent.
	common.SafeGo(s.logger, "events.subscription", sub.pump)

	s.logger.Debug().
		Str("job_id", jobID).
		Int64("since_event_id", sinceID).
		Msg("Event subscriber attached")

	return sub, nil
}

// Replay returns the persisted events with EventID > sinceID.
func (s *Service) Replay(ctx context.Context, jobID string, sinceID int64) ([]*models.ProgressEvent, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	return s.storage.ListSince(ctx, jobID, sinceID)
}

// Close disconnects every subscriber. Publishing afterwards still
// persists to the log but reaches nobody.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var all []*subscription
	for _, set := range s.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	s.subs = make(map[string]map[*subscription]struct{})
	s.pubs = make(map[string]*sync.Mutex)
	s.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}

	s.logger.Info().
		Int("subscriber_count", len(all)).
		Msg("Event service closed")

	return nil
}

// publishLock returns the per-job mutex that keeps fan-out order aligned
// with log order when workers publish concurrently.
func (s *Service) publishLock(jobID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.pubs[jobID]
	if !ok {
		lock = &sync.Mutex{}
		s.pubs[jobID] = lock
	}
	return lock
}

func (s *Service) unregister(sub *subscription) {
	s.mu.Lock()
	if set, ok := s.subs[sub.jobID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(s.subs, sub.jobID)
		}
	}
	s.mu.Unlock()
}
