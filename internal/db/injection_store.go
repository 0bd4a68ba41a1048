// Package db provides GORM-based persistence for recall.
package db

import (
	"context"

	"gorm.io/gorm"

	"github.com/thebtf/recall/pkg/models"
)

// InjectionStore records context delivered into sessions at startup.
type InjectionStore struct {
	db *gorm.DB
}

// NewInjectionStore creates a new injection store.
func NewInjectionStore(store *Store) *InjectionStore {
	return &InjectionStore{db: store.DB}
}

// RecordInjection logs one context injection.
func (s *InjectionStore) RecordInjection(ctx context.Context, project, contentSessionID string, observationCount, tokenCount int64) error {
	row := &ContextInjection{
		Project:          project,
		ContentSessionID: contentSessionID,
		ObservationCount: observationCount,
		TokenCount:       tokenCount,
	}
	return s.db.WithContext(ctx).Create(row).Error
}

// GetRecentInjections retrieves the newest injections for a project.
func (s *InjectionStore) GetRecentInjections(ctx context.Context, project string, limit int) ([]*models.ContextInjection, error) {
	var rows []ContextInjection
	err := s.db.WithContext(ctx).
		Where("project = ?", project).
		Order("created_at_epoch DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*models.ContextInjection, 0, len(rows))
	for i := range rows {
		r := rows[i]
		out = append(out, &models.ContextInjection{
			ID:               r.ID,
			Project:          r.Project,
			ContentSessionID: r.ContentSessionID,
			ObservationCount: r.ObservationCount,
			TokenCount:       r.TokenCount,
			CreatedAtEpoch:   r.CreatedAtEpoch,
		})
	}
	return out, nil
}
