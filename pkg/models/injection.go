// Package models contains domain models for recall.
package models

// ContextInjection records context delivered into a session at startup.
// Rows participate in project rename/merge/delete alongside sessions,
// observations and summaries.
type ContextInjection struct {
	ID               int64  `db:"id" json:"id"`
	Project          string `db:"project" json:"project"`
	ContentSessionID string `db:"content_session_id" json:"content_session_id"`
	ObservationCount int64  `db:"observation_count" json:"observation_count"`
	TokenCount       int64  `db:"token_count" json:"token_count"`
	CreatedAtEpoch   int64  `db:"created_at_epoch" json:"created_at_epoch"`
}
