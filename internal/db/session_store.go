// Package db provides GORM-based persistence for recall.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/recall/pkg/models"
)

// SessionStore provides session-related database operations.
type SessionStore struct {
	db *gorm.DB
}

// NewSessionStore creates a new session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{db: store.DB}
}

// CreateSession registers a session under its content session id.
// Idempotent: a second call with the same content session id returns the
// existing row. A non-empty userPrompt on a repeat call refreshes the stored
// prompt (prompt continuations re-enter through the same hook).
func (s *SessionStore) CreateSession(ctx context.Context, contentSessionID, project, userPrompt string) (*models.Session, error) {
	now := time.Now()
	row := &Session{
		ContentSessionID: contentSessionID,
		Project:          project,
		UserPrompt:       models.NullString(userPrompt),
		Status:           string(models.SessionStatusActive),
		StartedAt:        now.Format(time.RFC3339),
		StartedAtEpoch:   now.UnixMilli(),
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "content_session_id"}},
			DoNothing: true,
		}).
		Create(row).Error
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	var existing Session
	if err := s.db.WithContext(ctx).
		Where("content_session_id = ?", contentSessionID).
		First(&existing).Error; err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if userPrompt != "" && (!existing.UserPrompt.Valid || existing.UserPrompt.String != userPrompt) {
		if err := s.db.WithContext(ctx).
			Model(&Session{}).
			Where("id = ?", existing.ID).
			Update("user_prompt", userPrompt).Error; err != nil {
			return nil, fmt.Errorf("update user prompt: %w", err)
		}
		existing.UserPrompt = models.NullString(userPrompt)
	}

	return toModelSession(&existing), nil
}

// GetSessionByID retrieves a session by its database id.
func (s *SessionStore) GetSessionByID(ctx context.Context, id int64) (*models.Session, error) {
	var row Session
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: session %d", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return toModelSession(&row), nil
}

// GetSessionByContentID retrieves a session by its content session id.
func (s *SessionStore) GetSessionByContentID(ctx context.Context, contentSessionID string) (*models.Session, error) {
	var row Session
	err := s.db.WithContext(ctx).
		Where("content_session_id = ?", contentSessionID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, contentSessionID)
	}
	if err != nil {
		return nil, err
	}
	return toModelSession(&row), nil
}

// UpdateMemorySessionID records the subprocess-assigned memory session id.
// CRITICAL: this is the registration step that must happen before any
// observation or summary referencing the memory session id is inserted.
func (s *SessionStore) UpdateMemorySessionID(ctx context.Context, sessionDBID int64, memorySessionID string) error {
	return ensureRegistered(s.db.WithContext(ctx), sessionDBID, memorySessionID)
}

// ensureRegistered enforces the registration invariant inside tx:
// no-op when the stored memory session id already matches, update when it is
// still NULL, ErrSessionNotRegistered when the session row is missing.
func ensureRegistered(tx *gorm.DB, sessionDBID int64, memorySessionID string) error {
	var row Session
	err := tx.First(&row, sessionDBID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: session %d", ErrSessionNotRegistered, sessionDBID)
	}
	if err != nil {
		return err
	}

	if row.MemorySessionID.Valid {
		if row.MemorySessionID.String != memorySessionID {
			return fmt.Errorf("%w: session %d has %q, got %q",
				ErrMemorySessionMismatch, sessionDBID, row.MemorySessionID.String, memorySessionID)
		}
		return nil
	}

	return tx.Model(&Session{}).
		Where("id = ?", sessionDBID).
		Update("memory_session_id", memorySessionID).Error
}

// IncrementPromptCounter bumps the prompt counter and returns the new value.
func (s *SessionStore) IncrementPromptCounter(ctx context.Context, contentSessionID string) (int64, error) {
	err := s.db.WithContext(ctx).
		Model(&Session{}).
		Where("content_session_id = ?", contentSessionID).
		UpdateColumn("prompt_counter", gorm.Expr("prompt_counter + 1")).Error
	if err != nil {
		return 0, err
	}

	var row Session
	if err := s.db.WithContext(ctx).
		Select("prompt_counter").
		Where("content_session_id = ?", contentSessionID).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrSessionNotFound, contentSessionID)
		}
		return 0, err
	}
	return row.PromptCounter, nil
}

// SetWorkerPort records which worker instance owns the session.
func (s *SessionStore) SetWorkerPort(ctx context.Context, sessionDBID int64, port int) error {
	return s.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ?", sessionDBID).
		Update("worker_port", port).Error
}

// CompleteSession moves a session into a terminal status. Already-terminal
// sessions are left untouched.
func (s *SessionStore) CompleteSession(ctx context.Context, sessionDBID int64, status models.SessionStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ? AND status = ?", sessionDBID, string(models.SessionStatusActive)).
		Updates(map[string]interface{}{
			"status":             string(status),
			"completed_at":       now.Format(time.RFC3339),
			"completed_at_epoch": now.UnixMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&Session{}).Where("id = ?", sessionDBID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: session %d", ErrSessionNotFound, sessionDBID)
		}
	}
	return nil
}

// GetAllProjects returns the distinct project names across sessions.
func (s *SessionStore) GetAllProjects(ctx context.Context) ([]string, error) {
	var projects []string
	err := s.db.WithContext(ctx).
		Model(&Session{}).
		Distinct("project").
		Order("project ASC").
		Pluck("project", &projects).Error
	return projects, err
}
