// Package models contains domain models for recall.
package models

import (
	"database/sql"
)

// SessionStatus represents the lifecycle state of a memory session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// Session represents an agent session tracked by the memory system.
//
// A session carries three identifiers with distinct lifecycles:
//   - ContentSessionID: the external key under which hooks address the
//     session. Known at registration time.
//   - ID: the database primary key, assigned on insert.
//   - MemorySessionID: assigned asynchronously by the memory-agent
//     subprocess. NULL until the first subprocess message is observed.
//
// CRITICAL: rows referencing MemorySessionID must never be inserted before
// the parent session row has had its MemorySessionID populated.
type Session struct {
	ID               int64          `db:"id" json:"id"`
	ContentSessionID string         `db:"content_session_id" json:"content_session_id"`
	MemorySessionID  sql.NullString `db:"memory_session_id" json:"memory_session_id,omitempty"`
	Project          string         `db:"project" json:"project"`
	UserPrompt       sql.NullString `db:"user_prompt" json:"user_prompt,omitempty"`
	WorkerPort       sql.NullInt64  `db:"worker_port" json:"worker_port,omitempty"`
	PromptCounter    int64          `db:"prompt_counter" json:"prompt_counter"`
	Status           SessionStatus  `db:"status" json:"status"`
	StartedAt        string         `db:"started_at" json:"started_at"`
	StartedAtEpoch   int64          `db:"started_at_epoch" json:"started_at_epoch"`
	CompletedAt      sql.NullString `db:"completed_at" json:"completed_at,omitempty"`
	CompletedAtEpoch sql.NullInt64  `db:"completed_at_epoch" json:"completed_at_epoch,omitempty"`
}
