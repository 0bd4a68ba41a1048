// Package models contains domain models for recall.
package models

import (
	"database/sql"
	"time"

	"github.com/goccy/go-json"
)

// SessionSummary represents a rolling summary of a memory session.
// At most one row exists per memory session; writes replace any prior row.
type SessionSummary struct {
	CreatedAt       string          `db:"created_at" json:"created_at"`
	MemorySessionID string          `db:"memory_session_id" json:"memory_session_id"`
	Project         string          `db:"project" json:"project"`
	Completed       sql.NullString  `db:"completed" json:"completed,omitempty"`
	Investigated    sql.NullString  `db:"investigated" json:"investigated,omitempty"`
	Learned         sql.NullString  `db:"learned" json:"learned,omitempty"`
	NextSteps       sql.NullString  `db:"next_steps" json:"next_steps,omitempty"`
	Notes           sql.NullString  `db:"notes" json:"notes,omitempty"`
	Request         sql.NullString  `db:"request" json:"request,omitempty"`
	Files           JSONStringArray `db:"files" json:"files"`
	PromptNumber    sql.NullInt64   `db:"prompt_number" json:"prompt_number,omitempty"`
	ID              int64           `db:"id" json:"id"`
	DiscoveryTokens int64           `db:"discovery_tokens" json:"discovery_tokens"`
	CreatedAtEpoch  int64           `db:"created_at_epoch" json:"created_at_epoch"`
}

// ParsedSummary represents a summary parsed from a memory-agent response.
type ParsedSummary struct {
	Request      string
	Investigated string
	Learned      string
	Completed    string
	NextSteps    string
	Files        []string
	Notes        string
}

// NewSessionSummary creates a session summary from parsed data.
func NewSessionSummary(memorySessionID, project string, parsed *ParsedSummary, promptNumber int, discoveryTokens int64) *SessionSummary {
	now := time.Now()
	return &SessionSummary{
		MemorySessionID: memorySessionID,
		Project:         project,
		Request:         NullString(parsed.Request),
		Investigated:    NullString(parsed.Investigated),
		Learned:         NullString(parsed.Learned),
		Completed:       NullString(parsed.Completed),
		NextSteps:       NullString(parsed.NextSteps),
		Notes:           NullString(parsed.Notes),
		Files:           JSONStringArray(parsed.Files),
		PromptNumber:    sql.NullInt64{Int64: int64(promptNumber), Valid: promptNumber > 0},
		DiscoveryTokens: discoveryTokens,
		CreatedAt:       now.Format(time.RFC3339),
		CreatedAtEpoch:  now.UnixMilli(),
	}
}

// SessionSummaryJSON is a JSON-friendly representation of SessionSummary.
type SessionSummaryJSON struct {
	Completed       string   `json:"completed,omitempty"`
	MemorySessionID string   `json:"memory_session_id"`
	Project         string   `json:"project"`
	Request         string   `json:"request,omitempty"`
	Investigated    string   `json:"investigated,omitempty"`
	Learned         string   `json:"learned,omitempty"`
	NextSteps       string   `json:"next_steps,omitempty"`
	Notes           string   `json:"notes,omitempty"`
	Files           []string `json:"files"`
	CreatedAt       string   `json:"created_at"`
	ID              int64    `json:"id"`
	PromptNumber    int64    `json:"prompt_number,omitempty"`
	DiscoveryTokens int64    `json:"discovery_tokens"`
	CreatedAtEpoch  int64    `json:"created_at_epoch"`
}

// MarshalJSON converts sql.Null* fields to plain values.
func (s *SessionSummary) MarshalJSON() ([]byte, error) {
	j := SessionSummaryJSON{
		ID:              s.ID,
		MemorySessionID: s.MemorySessionID,
		Project:         s.Project,
		Files:           s.Files,
		DiscoveryTokens: s.DiscoveryTokens,
		CreatedAt:       s.CreatedAt,
		CreatedAtEpoch:  s.CreatedAtEpoch,
	}
	if s.Request.Valid {
		j.Request = s.Request.String
	}
	if s.Investigated.Valid {
		j.Investigated = s.Investigated.String
	}
	if s.Learned.Valid {
		j.Learned = s.Learned.String
	}
	if s.Completed.Valid {
		j.Completed = s.Completed.String
	}
	if s.NextSteps.Valid {
		j.NextSteps = s.NextSteps.String
	}
	if s.Notes.Valid {
		j.Notes = s.Notes.String
	}
	if s.PromptNumber.Valid {
		j.PromptNumber = s.PromptNumber.Int64
	}
	return json.Marshal(j)
}
