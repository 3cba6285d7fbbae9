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

// QueueStorage implements the QueueStorage interface for Badger.
// Claim-path operations serialize through mu; that is what makes
// concurrent ClaimBatch calls return disjoint sets.
type QueueStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex

	// lastSeq guarantees strictly increasing Seq values within this
	// process even when enqueues land in the same nanosecond. Seeded
	// from the clock so ordering survives restarts.
	lastSeq int64
}

// NewQueueStorage creates a new QueueStorage instance
func NewQueueStorage(db *BadgerDB, logger arbor.ILogger) interfaces.QueueStorage {
	return &QueueStorage{
		db:     db,
		logger: logger,
	}
}

// nextSeq must be called with mu held.
func (s *QueueStorage) nextSeq() int64 {
	seq := time.Now().UnixNano()
	if seq <= s.lastSeq {
		seq = s.lastSeq + 1
	}
	s.lastSeq = seq
	return seq
}

func (s *QueueStorage) Enqueue(ctx context.Context, items []*models.QueueItem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, item := range items {
		if item.ID == "" || item.JobID == "" || item.URLHash == "" {
			return inserted, fmt.Errorf("queue item requires id, job_id and url_hash")
		}

		seenKey := models.SeenURLKey(item.JobID, item.URLHash)
		var existing models.SeenURL
		err := s.db.Store().Get(seenKey, &existing)
		if err == nil {
			continue // already enqueued for this job
		}
		if err != badgerhold.ErrNotFound {
			return inserted, fmt.Errorf("failed to check seen url: %w", err)
		}

		seen := models.SeenURL{
			Key:       seenKey,
			JobID:     item.JobID,
			URLHash:   item.URLHash,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.db.Store().Insert(seenKey, &seen); err != nil {
			return inserted, fmt.Errorf("failed to mark url seen: %w", err)
		}

		item.Seq = s.nextSeq()
		item.State = models.ItemStatePending
		if err := s.db.Store().Insert(item.ID, item); err != nil {
			return inserted, fmt.Errorf("failed to insert queue item: %w", err)
		}
		inserted++
	}

	return inserted, nil
}

func (s *QueueStorage) ClaimBatch(ctx context.Context, jobID string, limit int) ([]*models.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []models.QueueItem
	query := badgerhold.Where("JobID").Eq(jobID).
		And("State").Eq(models.ItemStatePending).
		SortBy("Depth", "Seq").
		Limit(limit)
	if err := s.db.Store().Find(&pending, query); err != nil {
		return nil, fmt.Errorf("failed to find pending items: %w", err)
	}

	now := time.Now().UTC()
	claimed := make([]*models.QueueItem, 0, len(pending))
	for i := range pending {
		item := pending[i]
		item.State = models.ItemStateInFlight
		item.ClaimedAt = now
		item.UpdatedAt = now
		if err := s.db.Store().Upsert(item.ID, &item); err != nil {
			return claimed, fmt.Errorf("failed to claim item %s: %w", item.ID, err)
		}
		claimed = append(claimed, &item)
	}

	return claimed, nil
}

func (s *QueueStorage) Complete(ctx context.Context, itemID string, state models.ItemState) error {
	if !state.IsTerminal() {
		return fmt.Errorf("complete requires a terminal state, got %s", state)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var item models.QueueItem
	if err := s.db.Store().Get(itemID, &item); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrItemNotFound
		}
		return fmt.Errorf("failed to get item: %w", err)
	}

	item.State = state
	item.UpdatedAt = time.Now().UTC()
	if err := s.db.Store().Upsert(itemID, &item); err != nil {
		return fmt.Errorf("failed to complete item: %w", err)
	}
	return nil
}

func (s *QueueStorage) Fail(ctx context.Context, itemID string, errMsg string, retryable bool, maxRetries int) (*models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var item models.QueueItem
	if err := s.db.Store().Get(itemID, &item); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	item.Attempts++
	item.Error = errMsg
	item.UpdatedAt = time.Now().UTC()

	if retryable && item.Attempts < maxRetries {
		item.State = models.ItemStatePending
		item.ClaimedAt = time.Time{}
	} else {
		item.State = models.ItemStateFailed
	}

	if err := s.db.Store().Upsert(itemID, &item); err != nil {
		return nil, fmt.Errorf("failed to record item failure: %w", err)
	}
	return &item, nil
}

func (s *QueueStorage) Counts(ctx context.Context, jobID string) (interfaces.QueueCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countsLocked(jobID)
}

// countsLocked reads all states in one pass so callers observe a
// consistent snapshot. Completion detection depends on pending and
// in_flight being from the same instant.
func (s *QueueStorage) countsLocked(jobID string) (interfaces.QueueCounts, error) {
	var items []models.QueueItem
	if err := s.db.Store().Find(&items, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return interfaces.QueueCounts{}, fmt.Errorf("failed to count queue items: %w", err)
	}

	var counts interfaces.QueueCounts
	for i := range items {
		switch items[i].State {
		case models.ItemStatePending:
			counts.Pending++
		case models.ItemStateInFlight:
			counts.InFlight++
		case models.ItemStateDone:
			counts.Done++
		case models.ItemStateFailed:
			counts.Failed++
		case models.ItemStateSkipped:
			counts.Skipped++
		case models.ItemStateFiltered:
			counts.Filtered++
		}
	}
	return counts, nil
}

func (s *QueueStorage) GetItem(ctx context.Context, itemID string) (*models.QueueItem, error) {
	var item models.QueueItem
	if err := s.db.Store().Get(itemID, &item); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &item, nil
}

func (s *QueueStorage) ReleaseClaims(ctx context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inflight []models.QueueItem
	query := badgerhold.Where("JobID").Eq(jobID).And("State").Eq(models.ItemStateInFlight)
	if err := s.db.Store().Find(&inflight, query); err != nil {
		return 0, fmt.Errorf("failed to find in-flight items: %w", err)
	}

	released := 0
	now := time.Now().UTC()
	for i := range inflight {
		item := inflight[i]
		item.State = models.ItemStatePending
		item.ClaimedAt = time.Time{}
		item.UpdatedAt = now
		if err := s.db.Store().Upsert(item.ID, &item); err != nil {
			return released, fmt.Errorf("failed to release item %s: %w", item.ID, err)
		}
		released++
	}

	if released > 0 {
		s.logger.Debug().
			Str("job_id", jobID).
			Int("released", released).
			Msg("Released in-flight claims back to pending")
	}
	return released, nil
}

func (s *QueueStorage) MarkContentSeen(ctx context.Context, jobID, contentHash, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.SeenContentKey(jobID, contentHash)
	var existing models.SeenContent
	err := s.db.Store().Get(key, &existing)
	if err == nil {
		return true, nil // duplicate content
	}
	if err != badgerhold.ErrNotFound {
		return false, fmt.Errorf("failed to check seen content: %w", err)
	}

	record := models.SeenContent{
		Key:         key,
		JobID:       jobID,
		ContentHash: contentHash,
		FirstURL:    url,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.db.Store().Insert(key, &record); err != nil {
		return false, fmt.Errorf("failed to mark content seen: %w", err)
	}
	return false, nil
}

func (s *QueueStorage) DeleteJobItems(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Store().DeleteMatching(&models.QueueItem{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete queue items: %w", err)
	}
	if err := s.db.Store().DeleteMatching(&models.SeenURL{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete seen urls: %w", err)
	}
	if err := s.db.Store().DeleteMatching(&models.SeenContent{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete seen content hashes: %w", err)
	}
	return nil
}

var _ interfaces.QueueStorage = (*QueueStorage)(nil)
