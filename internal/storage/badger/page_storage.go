package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// PageStorage implements the PageStorage interface for Badger
type PageStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPageStorage creates a new PageStorage instance
func NewPageStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PageStorage {
	return &PageStorage{
		db:     db,
		logger: logger,
	}
}

func (s *PageStorage) SavePage(ctx context.Context, page *models.PageResult) error {
	if page.ID == "" || page.JobID == "" {
		return fmt.Errorf("page result requires id and job_id")
	}
	if err := s.db.Store().Upsert(page.ID, page); err != nil {
		return fmt.Errorf("failed to save page: %w", err)
	}
	return nil
}

func (s *PageStorage) GetPage(ctx context.Context, resultID string) (*models.PageResult, error) {
	var page models.PageResult
	if err := s.db.Store().Get(resultID, &page); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return &page, nil
}

func (s *PageStorage) ListPages(ctx context.Context, jobID string) ([]*models.PageResult, error) {
	var pages []models.PageResult
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("Seq")
	if err := s.db.Store().Find(&pages, query); err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}

	out := make([]*models.PageResult, len(pages))
	for i := range pages {
		out[i] = &pages[i]
	}
	return out, nil
}

func (s *PageStorage) CountPages(ctx context.Context, jobID string) (int, error) {
	count, err := s.db.Store().Count(&models.PageResult{}, badgerhold.Where("JobID").Eq(jobID))
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return int(count), nil
}

func (s *PageStorage) DeleteJobPages(ctx context.Context, jobID string) error {
	if err := s.db.Store().DeleteMatching(&models.PageResult{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete pages: %w", err)
	}
	return nil
}

var _ interfaces.PageStorage = (*PageStorage)(nil)
