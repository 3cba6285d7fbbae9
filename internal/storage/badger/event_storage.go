package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// eventCounter tracks the last EventID issued for a job.
type eventCounter struct {
	JobID string `badgerhold:"key"`
	Last  int64
}

// EventStorage implements the persistent per-job event log. EventIDs are
// allocated under a per-job mutex so they are dense and strictly
// increasing from 1.
type EventStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	mu   sync.Mutex
	jobs map[string]*sync.Mutex
}

// NewEventStorage creates a new EventStorage instance
func NewEventStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EventStorage {
	return &EventStorage{
		db:     db,
		logger: logger,
		jobs:   make(map[string]*sync.Mutex),
	}
}

func (s *EventStorage) jobLock(jobID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.jobs[jobID]
	if !ok {
		lock = &sync.Mutex{}
		s.jobs[jobID] = lock
	}
	return lock
}

func (s *EventStorage) Append(ctx context.Context, jobID string, eventType models.EventType, payload interface{}) (*models.ProgressEvent, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	now := time.Now().UTC()
	raw, err := models.EncodeEventPayload(payload, now)
	if err != nil {
		return nil, err
	}

	lock := s.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	var counter eventCounter
	err = s.db.Store().Get(jobID, &counter)
	if err == badgerhold.ErrNotFound {
		counter = eventCounter{JobID: jobID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load event counter: %w", err)
	}

	counter.Last++
	event := &models.ProgressEvent{
		Key:       models.EventKey(jobID, counter.Last),
		JobID:     jobID,
		EventID:   counter.Last,
		Type:      eventType,
		Timestamp: now,
		Payload:   raw,
	}

	if err := s.db.Store().Insert(event.Key, event); err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	if err := s.db.Store().Upsert(jobID, &counter); err != nil {
		return nil, fmt.Errorf("failed to advance event counter: %w", err)
	}

	return event, nil
}

func (s *EventStorage) ListSince(ctx context.Context, jobID string, sinceID int64) ([]*models.ProgressEvent, error) {
	var events []models.ProgressEvent
	query := badgerhold.Where("JobID").Eq(jobID).And("EventID").Gt(sinceID).SortBy("EventID")
	if err := s.db.Store().Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	out := make([]*models.ProgressEvent, len(events))
	for i := range events {
		out[i] = &events[i]
	}
	return out, nil
}

func (s *EventStorage) LastEventID(ctx context.Context, jobID string) (int64, error) {
	var counter eventCounter
	err := s.db.Store().Get(jobID, &counter)
	if err == badgerhold.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read event counter: %w", err)
	}
	return counter.Last, nil
}

func (s *EventStorage) DeleteJobEvents(ctx context.Context, jobID string) error {
	if err := s.db.Store().DeleteMatching(&models.ProgressEvent{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	if err := s.db.Store().Delete(jobID, &eventCounter{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete event counter: %w", err)
	}

	s.mu.Lock()
	delete(s.jobs, jobID)
	s.mu.Unlock()
	return nil
}

var _ interfaces.EventStorage = (*EventStorage)(nil)
