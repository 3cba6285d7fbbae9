package events

import (
	"context"
	"sync"

	"github.com/ternarybob/doceo/internal/models"
)

// subscription is one attached consumer of a job's event stream. The
// pump goroutine owns delivery: it replays the log, then forwards live
// events, and closes out exactly once when the stream ends.
type subscription struct {
	svc   *Service
	jobID string
	since int64

	live chan *models.ProgressEvent
	out  chan *models.ProgressEvent

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Events yields the subscriber's view of the stream in EventID order.
func (s *subscription) Events() <-chan *models.ProgressEvent {
	return s.out
}

// Close cancels the subscription. Safe to call from any goroutine,
// including the publisher on overflow.
func (s *subscription) Close() {
	s.once.Do(s.cancel)
}

// pump replays persisted events past the resume point and then follows
// the live buffer, suppressing any ID replay already delivered. A
// terminal event ends the stream.
func (s *subscription) pump() {
	defer func() {
		s.Close()
		s.svc.unregister(s)
		close(s.out)
	}()

	replayed, err := s.svc.storage.ListSince(s.ctx, s.jobID, s.since)
	if err != nil {
		s.svc.logger.Warn().
			Str("job_id", s.jobID).
			Int64("since_event_id", s.since).
			Err(err).
			Msg("Event replay failed")
		return
	}

	lastID := s.since
	for _, event := range replayed {
		if !s.send(event) {
			return
		}
		lastID = event.EventID
		if event.Type.IsTerminal() {
			return
		}
	}

	for {
		select {
		case event := <-s.live:
			if event.EventID <= lastID {
				continue
			}
			if !s.send(event) {
				return
			}
			lastID = event.EventID
			if event.Type.IsTerminal() {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *subscription) send(event *models.ProgressEvent) bool {
	select {
	case s.out <- event:
		return true
	case <-s.ctx.Done():
		return false
	}
}
