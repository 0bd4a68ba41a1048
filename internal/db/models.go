// Package db provides GORM-based persistence for recall.
package db

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/recall/pkg/models"
)

// GORM row types. JSON column types (JSONStringArray, JSONEntityArray) come
// from pkg/models and implement sql.Scanner / driver.Valuer.

// Session represents an agent session row.
type Session struct {
	ID               int64          `gorm:"primaryKey;autoIncrement"`
	ContentSessionID string         `gorm:"uniqueIndex;not null"`
	MemorySessionID  sql.NullString `gorm:"uniqueIndex"`
	Project          string         `gorm:"index;not null"`
	UserPrompt       sql.NullString
	WorkerPort       sql.NullInt64
	PromptCounter    int64  `gorm:"default:0"`
	Status           string `gorm:"type:text;check:status IN ('active', 'completed', 'failed');default:'active';index"`
	StartedAt        string `gorm:"not null"`
	StartedAtEpoch   int64  `gorm:"index:idx_sessions_started,sort:desc;not null"`
	CompletedAt      sql.NullString
	CompletedAtEpoch sql.NullInt64
}

func (Session) TableName() string { return "sessions" }

// BeforeCreate hook to ensure timestamps are set.
func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.StartedAtEpoch == 0 {
		s.StartedAtEpoch = time.Now().UnixMilli()
	}
	if s.StartedAt == "" {
		s.StartedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// Observation represents a stored observation row.
type Observation struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	MemorySessionID string `gorm:"index;not null"`
	Project         string `gorm:"index;not null"`
	Type            string `gorm:"type:text;index;not null"`

	// Content fields
	Title         sql.NullString         `gorm:"type:text"`
	Subtitle      sql.NullString         `gorm:"type:text"`
	Facts         models.JSONStringArray `gorm:"type:text"`
	Narrative     sql.NullString         `gorm:"type:text"`
	Concepts      models.JSONStringArray `gorm:"type:text"`
	FilesRead     models.JSONStringArray `gorm:"type:text"`
	FilesModified models.JSONStringArray `gorm:"type:text"`

	// Enrichment
	Priority  string                 `gorm:"type:text;check:priority IN ('critical', 'important', 'informational');default:'informational';index"`
	Topics    models.JSONStringArray `gorm:"type:text"`
	Entities  models.JSONEntityArray `gorm:"type:text"`
	EventDate sql.NullString

	// Mutable after insert
	Pinned      bool  `gorm:"default:false;index:idx_observations_pinned"`
	AccessCount int64 `gorm:"default:0"`

	// Provenance
	Branch    sql.NullString
	CommitSHA sql.NullString `gorm:"index:idx_observations_commit"`

	// Metadata
	PromptNumber    sql.NullInt64
	DiscoveryTokens int64  `gorm:"default:0"`
	CreatedAt       string `gorm:"not null"`
	CreatedAtEpoch  int64  `gorm:"index:idx_observations_created,sort:desc;not null"`
}

func (Observation) TableName() string { return "observations" }

// BeforeCreate hook to ensure defaults are set.
func (o *Observation) BeforeCreate(tx *gorm.DB) error {
	if o.CreatedAtEpoch == 0 {
		o.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if o.CreatedAt == "" {
		o.CreatedAt = time.Now().Format(time.RFC3339)
	}
	if o.Priority == "" {
		o.Priority = string(models.PriorityInformational)
	}
	return nil
}

// SessionSummary represents a session summary row. One per memory session;
// inserts replace any prior row for the session.
type SessionSummary struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	MemorySessionID string `gorm:"uniqueIndex;not null"`
	Project         string `gorm:"index;not null"`

	Request      sql.NullString
	Investigated sql.NullString
	Learned      sql.NullString
	Completed    sql.NullString
	NextSteps    sql.NullString `gorm:"column:next_steps"`
	Notes        sql.NullString
	Files        models.JSONStringArray `gorm:"type:text"`

	PromptNumber    sql.NullInt64
	DiscoveryTokens int64  `gorm:"default:0"`
	CreatedAt       string `gorm:"not null"`
	CreatedAtEpoch  int64  `gorm:"index:idx_summaries_created,sort:desc;not null"`
}

func (SessionSummary) TableName() string { return "session_summaries" }

// BeforeCreate hook to ensure timestamps are set.
func (s *SessionSummary) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAtEpoch == 0 {
		s.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if s.CreatedAt == "" {
		s.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// ContextInjection records context delivered at session start.
type ContextInjection struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	Project          string `gorm:"index;not null"`
	ContentSessionID string `gorm:"index;not null"`
	ObservationCount int64  `gorm:"default:0"`
	TokenCount       int64  `gorm:"default:0"`
	CreatedAtEpoch   int64  `gorm:"index:idx_injections_created,sort:desc;not null"`
}

func (ContextInjection) TableName() string { return "context_injections" }

// BeforeCreate hook to ensure timestamps are set.
func (c *ContextInjection) BeforeCreate(tx *gorm.DB) error {
	if c.CreatedAtEpoch == 0 {
		c.CreatedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}

// Converters to domain models.

func toModelSession(s *Session) *models.Session {
	return &models.Session{
		ID:               s.ID,
		ContentSessionID: s.ContentSessionID,
		MemorySessionID:  s.MemorySessionID,
		Project:          s.Project,
		UserPrompt:       s.UserPrompt,
		WorkerPort:       s.WorkerPort,
		PromptCounter:    s.PromptCounter,
		Status:           models.SessionStatus(s.Status),
		StartedAt:        s.StartedAt,
		StartedAtEpoch:   s.StartedAtEpoch,
		CompletedAt:      s.CompletedAt,
		CompletedAtEpoch: s.CompletedAtEpoch,
	}
}

func toModelObservation(o *Observation) *models.Observation {
	return &models.Observation{
		ID:              o.ID,
		MemorySessionID: o.MemorySessionID,
		Project:         o.Project,
		Type:            o.Type,
		Title:           o.Title,
		Subtitle:        o.Subtitle,
		Narrative:       o.Narrative,
		Facts:           o.Facts,
		Concepts:        o.Concepts,
		FilesRead:       o.FilesRead,
		FilesModified:   o.FilesModified,
		Priority:        models.Priority(o.Priority),
		Topics:          o.Topics,
		Entities:        o.Entities,
		EventDate:       o.EventDate,
		Pinned:          o.Pinned,
		AccessCount:     o.AccessCount,
		Branch:          o.Branch,
		CommitSHA:       o.CommitSHA,
		PromptNumber:    o.PromptNumber,
		DiscoveryTokens: o.DiscoveryTokens,
		CreatedAt:       o.CreatedAt,
		CreatedAtEpoch:  o.CreatedAtEpoch,
	}
}

func toModelObservations(rows []Observation) []*models.Observation {
	out := make([]*models.Observation, 0, len(rows))
	for i := range rows {
		out = append(out, toModelObservation(&rows[i]))
	}
	return out
}

func toModelSummary(s *SessionSummary) *models.SessionSummary {
	return &models.SessionSummary{
		ID:              s.ID,
		MemorySessionID: s.MemorySessionID,
		Project:         s.Project,
		Request:         s.Request,
		Investigated:    s.Investigated,
		Learned:         s.Learned,
		Completed:       s.Completed,
		NextSteps:       s.NextSteps,
		Notes:           s.Notes,
		Files:           s.Files,
		PromptNumber:    s.PromptNumber,
		DiscoveryTokens: s.DiscoveryTokens,
		CreatedAt:       s.CreatedAt,
		CreatedAtEpoch:  s.CreatedAtEpoch,
	}
}
