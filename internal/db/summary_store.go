// Package db provides GORM-based persistence for recall.
package db

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/thebtf/recall/pkg/models"
)

// SummaryStore provides session summary database operations.
// Writes go through ObservationStore.StoreResponse so the summary upsert
// shares the observation transaction; this store is read-side.
type SummaryStore struct {
	db    *gorm.DB
	store *Store
}

// NewSummaryStore creates a new summary store.
func NewSummaryStore(store *Store) *SummaryStore {
	return &SummaryStore{db: store.DB, store: store}
}

// GetSummaryBySession retrieves the summary for a memory session, or nil.
func (s *SummaryStore) GetSummaryBySession(ctx context.Context, memorySessionID string) (*models.SessionSummary, error) {
	var row SessionSummary
	err := s.db.WithContext(ctx).
		Where("memory_session_id = ?", memorySessionID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelSummary(&row), nil
}

// GetRecentSummaries retrieves the newest summaries for a project.
func (s *SummaryStore) GetRecentSummaries(ctx context.Context, project string, limit int) ([]*models.SessionSummary, error) {
	var rows []SessionSummary
	err := s.db.WithContext(ctx).
		Where("project = ?", project).
		Order("created_at_epoch DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*models.SessionSummary, 0, len(rows))
	for i := range rows {
		out = append(out, toModelSummary(&rows[i]))
	}
	return out, nil
}
