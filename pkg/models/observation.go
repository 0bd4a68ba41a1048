// Package models contains domain models for recall.
package models

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Priority levels for observations. Anything unrecognized coerces to
// informational rather than failing the insert.
type Priority string

const (
	PriorityCritical      Priority = "critical"
	PriorityImportant     Priority = "important"
	PriorityInformational Priority = "informational"
)

// NormalizePriority maps a raw priority string to a known Priority.
// Missing or invalid values default to informational.
func NormalizePriority(raw string) Priority {
	switch Priority(raw) {
	case PriorityCritical, PriorityImportant, PriorityInformational:
		return Priority(raw)
	default:
		return PriorityInformational
	}
}

// Entity is a named entity extracted during enrichment.
type Entity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// JSONStringArray is a []string stored as a JSON TEXT column.
type JSONStringArray []string

// Scan implements sql.Scanner.
func (a *JSONStringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for JSONStringArray: %T", value)
	}
	if len(data) == 0 {
		*a = nil
		return nil
	}
	return json.Unmarshal(data, a)
}

// Value implements driver.Valuer.
func (a JSONStringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// JSONEntityArray is a []Entity stored as a JSON TEXT column.
type JSONEntityArray []Entity

// Scan implements sql.Scanner.
func (a *JSONEntityArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for JSONEntityArray: %T", value)
	}
	if len(data) == 0 {
		*a = nil
		return nil
	}
	return json.Unmarshal(data, a)
}

// Value implements driver.Valuer.
func (a JSONEntityArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Observation represents a structured memory distilled from tool activity.
// Immutable after insert except Pinned and AccessCount.
type Observation struct {
	ID              int64           `db:"id" json:"id"`
	MemorySessionID string          `db:"memory_session_id" json:"memory_session_id"`
	Project         string          `db:"project" json:"project"`
	Type            string          `db:"type" json:"type"`
	Title           sql.NullString  `db:"title" json:"title,omitempty"`
	Subtitle        sql.NullString  `db:"subtitle" json:"subtitle,omitempty"`
	Narrative       sql.NullString  `db:"narrative" json:"narrative,omitempty"`
	Facts           JSONStringArray `db:"facts" json:"facts"`
	Concepts        JSONStringArray `db:"concepts" json:"concepts"`
	FilesRead       JSONStringArray `db:"files_read" json:"files_read"`
	FilesModified   JSONStringArray `db:"files_modified" json:"files_modified"`
	Priority        Priority        `db:"priority" json:"priority"`
	Topics          JSONStringArray `db:"topics" json:"topics"`
	Entities        JSONEntityArray `db:"entities" json:"entities"`
	EventDate       sql.NullString  `db:"event_date" json:"event_date,omitempty"`
	Pinned          bool            `db:"pinned" json:"pinned"`
	AccessCount     int64           `db:"access_count" json:"access_count"`
	Branch          sql.NullString  `db:"branch" json:"branch,omitempty"`
	CommitSHA       sql.NullString  `db:"commit_sha" json:"commit_sha,omitempty"`
	PromptNumber    sql.NullInt64   `db:"prompt_number" json:"prompt_number,omitempty"`
	DiscoveryTokens int64           `db:"discovery_tokens" json:"discovery_tokens"`
	CreatedAt       string          `db:"created_at" json:"created_at"`
	CreatedAtEpoch  int64           `db:"created_at_epoch" json:"created_at_epoch"`
}

// ParsedObservation represents an observation parsed from a memory-agent
// response, before it is bound to a session and persisted.
type ParsedObservation struct {
	Type          string
	Title         string
	Subtitle      string
	Narrative     string
	Facts         []string
	Concepts      []string
	FilesRead     []string
	FilesModified []string
	Priority      string
	Topics        []string
	Entities      []Entity
	EventDate     string
}

// NewObservation binds a parsed observation to a registered memory session.
func NewObservation(memorySessionID, project string, parsed *ParsedObservation, promptNumber int, discoveryTokens int64) *Observation {
	now := time.Now()
	return &Observation{
		MemorySessionID: memorySessionID,
		Project:         project,
		Type:            parsed.Type,
		Title:           NullString(parsed.Title),
		Subtitle:        NullString(parsed.Subtitle),
		Narrative:       NullString(parsed.Narrative),
		Facts:           JSONStringArray(parsed.Facts),
		Concepts:        JSONStringArray(parsed.Concepts),
		FilesRead:       JSONStringArray(parsed.FilesRead),
		FilesModified:   JSONStringArray(parsed.FilesModified),
		Priority:        NormalizePriority(parsed.Priority),
		Topics:          JSONStringArray(parsed.Topics),
		Entities:        JSONEntityArray(parsed.Entities),
		EventDate:       NullString(parsed.EventDate),
		PromptNumber:    sql.NullInt64{Int64: int64(promptNumber), Valid: promptNumber > 0},
		DiscoveryTokens: discoveryTokens,
		CreatedAt:       now.Format(time.RFC3339),
		CreatedAtEpoch:  now.UnixMilli(),
	}
}

// NullString creates a sql.NullString, treating empty as NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ObservationJSON is a JSON-friendly representation of Observation.
type ObservationJSON struct {
	ID              int64           `json:"id"`
	MemorySessionID string          `json:"memory_session_id"`
	Project         string          `json:"project"`
	Type            string          `json:"type"`
	Title           string          `json:"title,omitempty"`
	Subtitle        string          `json:"subtitle,omitempty"`
	Narrative       string          `json:"narrative,omitempty"`
	Facts           []string        `json:"facts"`
	Concepts        []string        `json:"concepts"`
	FilesRead       []string        `json:"files_read"`
	FilesModified   []string        `json:"files_modified"`
	Priority        Priority        `json:"priority"`
	Topics          []string        `json:"topics"`
	Entities        JSONEntityArray `json:"entities"`
	EventDate       string          `json:"event_date,omitempty"`
	Pinned          bool            `json:"pinned"`
	AccessCount     int64           `json:"access_count"`
	Branch          string          `json:"branch,omitempty"`
	CommitSHA       string          `json:"commit_sha,omitempty"`
	PromptNumber    int64           `json:"prompt_number,omitempty"`
	DiscoveryTokens int64           `json:"discovery_tokens"`
	CreatedAt       string          `json:"created_at"`
	CreatedAtEpoch  int64           `json:"created_at_epoch"`
}

// MarshalJSON converts sql.Null* fields to plain values.
func (o *Observation) MarshalJSON() ([]byte, error) {
	j := ObservationJSON{
		ID:              o.ID,
		MemorySessionID: o.MemorySessionID,
		Project:         o.Project,
		Type:            o.Type,
		Facts:           o.Facts,
		Concepts:        o.Concepts,
		FilesRead:       o.FilesRead,
		FilesModified:   o.FilesModified,
		Priority:        o.Priority,
		Topics:          o.Topics,
		Entities:        o.Entities,
		Pinned:          o.Pinned,
		AccessCount:     o.AccessCount,
		DiscoveryTokens: o.DiscoveryTokens,
		CreatedAt:       o.CreatedAt,
		CreatedAtEpoch:  o.CreatedAtEpoch,
	}
	if o.Title.Valid {
		j.Title = o.Title.String
	}
	if o.Subtitle.Valid {
		j.Subtitle = o.Subtitle.String
	}
	if o.Narrative.Valid {
		j.Narrative = o.Narrative.String
	}
	if o.EventDate.Valid {
		j.EventDate = o.EventDate.String
	}
	if o.Branch.Valid {
		j.Branch = o.Branch.String
	}
	if o.CommitSHA.Valid {
		j.CommitSHA = o.CommitSHA.String
	}
	if o.PromptNumber.Valid {
		j.PromptNumber = o.PromptNumber.Int64
	}
	return json.Marshal(j)
}
