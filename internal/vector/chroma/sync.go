// Package chroma provides the Chroma sibling-service integration for recall.
package chroma

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/internal/vector"
	"github.com/thebtf/recall/pkg/models"
)

// maxDocContent caps the content length of a single vector document.
const maxDocContent = 4000

// Sync mirrors SQLite rows into the vector service as granular per-field
// documents. Sync failures degrade search quality but never block
// persistence; callers log and move on.
type Sync struct {
	client vector.Client
}

// NewSync creates a new vector sync service.
func NewSync(client vector.Client) *Sync {
	return &Sync{client: client}
}

// SyncObservation mirrors a single observation.
func (s *Sync) SyncObservation(ctx context.Context, obs *models.Observation) error {
	docs := formatObservationDocs(obs)
	if len(docs) == 0 {
		return nil
	}

	if err := s.client.AddDocuments(ctx, docs); err != nil {
		return fmt.Errorf("add observation docs: %w", err)
	}

	log.Debug().
		Int64("observationId", obs.ID).
		Int("docCount", len(docs)).
		Msg("Synced observation to vector service")

	return nil
}

// formatObservationDocs renders an observation into granular documents: the
// narrative and each fact embed separately so a strong fact match is not
// diluted by a long narrative.
func formatObservationDocs(obs *models.Observation) []vector.Document {
	docs := make([]vector.Document, 0, len(obs.Facts)+1)

	baseMetadata := map[string]interface{}{
		"sqlite_id":         obs.ID,
		"doc_type":          string(DocTypeObservation),
		"memory_session_id": obs.MemorySessionID,
		"project":           obs.Project,
		"type":              obs.Type,
		"priority":          string(obs.Priority),
		"created_at_epoch":  obs.CreatedAtEpoch,
	}
	if obs.Title.Valid {
		baseMetadata["title"] = obs.Title.String
	}
	if obs.Subtitle.Valid {
		baseMetadata["subtitle"] = obs.Subtitle.String
	}
	if len(obs.Concepts) > 0 {
		baseMetadata["concepts"] = joinStrings(obs.Concepts, ",")
	}
	if len(obs.Topics) > 0 {
		baseMetadata["topics"] = joinStrings(obs.Topics, ",")
	}

	if obs.Narrative.Valid && obs.Narrative.String != "" {
		docs = append(docs, vector.Document{
			ID:       fmt.Sprintf("obs_%d_narrative", obs.ID),
			Content:  truncate(obs.Narrative.String, maxDocContent),
			Metadata: copyMetadata(baseMetadata, "field_type", "narrative"),
		})
	}

	for i, fact := range obs.Facts {
		if i >= maxFactsPerObservation {
			break
		}
		docs = append(docs, vector.Document{
			ID:      fmt.Sprintf("obs_%d_fact_%d", obs.ID, i),
			Content: truncate(fact, maxDocContent),
			Metadata: copyMetadataMulti(baseMetadata, map[string]interface{}{
				"field_type": "fact",
				"fact_index": i,
			}),
		})
	}

	return docs
}

// SyncSummary mirrors a session summary.
func (s *Sync) SyncSummary(ctx context.Context, summary *models.SessionSummary) error {
	docs := formatSummaryDocs(summary)
	if len(docs) == 0 {
		return nil
	}

	if err := s.client.AddDocuments(ctx, docs); err != nil {
		return fmt.Errorf("add summary docs: %w", err)
	}

	log.Debug().
		Int64("summaryId", summary.ID).
		Int("docCount", len(docs)).
		Msg("Synced summary to vector service")

	return nil
}

func formatSummaryDocs(summary *models.SessionSummary) []vector.Document {
	baseMetadata := map[string]interface{}{
		"sqlite_id":         summary.ID,
		"doc_type":          string(DocTypeSessionSummary),
		"memory_session_id": summary.MemorySessionID,
		"project":           summary.Project,
		"created_at_epoch":  summary.CreatedAtEpoch,
	}

	fields := []struct {
		name  string
		value string
	}{
		{"request", stringOrEmpty(summary.Request.Valid, summary.Request.String)},
		{"investigated", stringOrEmpty(summary.Investigated.Valid, summary.Investigated.String)},
		{"learned", stringOrEmpty(summary.Learned.Valid, summary.Learned.String)},
		{"completed", stringOrEmpty(summary.Completed.Valid, summary.Completed.String)},
		{"next_steps", stringOrEmpty(summary.NextSteps.Valid, summary.NextSteps.String)},
		{"notes", stringOrEmpty(summary.Notes.Valid, summary.Notes.String)},
	}

	var docs []vector.Document
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		docs = append(docs, vector.Document{
			ID:       fmt.Sprintf("sum_%d_%s", summary.ID, f.name),
			Content:  truncate(f.value, maxDocContent),
			Metadata: copyMetadata(baseMetadata, "field_type", f.name),
		})
	}
	return docs
}

// DeleteObservations removes every document an observation could have
// produced. The id space is bounded, so the ids are enumerated instead of
// queried; unknown ids are no-ops on the service side.
func (s *Sync) DeleteObservations(ctx context.Context, observationIDs []int64) error {
	if len(observationIDs) == 0 {
		return nil
	}

	ids := make([]string, 0, len(observationIDs)*(maxFactsPerObservation+1))
	for _, obsID := range observationIDs {
		ids = append(ids, fmt.Sprintf("obs_%d_narrative", obsID))
		for i := 0; i < maxFactsPerObservation; i++ {
			ids = append(ids, fmt.Sprintf("obs_%d_fact_%d", obsID, i))
		}
	}

	if err := s.client.DeleteDocuments(ctx, ids); err != nil {
		return fmt.Errorf("delete observation docs: %w", err)
	}

	log.Debug().
		Int("observationCount", len(observationIDs)).
		Msg("Deleted observation docs from vector service")

	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func stringOrEmpty(valid bool, s string) string {
	if !valid {
		return ""
	}
	return s
}
