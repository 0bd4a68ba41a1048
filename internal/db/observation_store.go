// Package db provides GORM-based persistence for recall.
package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/recall/pkg/models"
)

// MaxObservationsPerProject is the cap on stored observations per project.
// Older unpinned rows beyond the cap are removed after each insert.
const MaxObservationsPerProject = 100

// CleanupFunc is a callback invoked with the IDs of observations removed
// during cleanup, for downstream removal (vector store documents).
type CleanupFunc func(ctx context.Context, deletedIDs []int64)

// ObservationStore provides observation-related database operations.
type ObservationStore struct {
	db          *gorm.DB
	store       *Store
	cleanupFunc CleanupFunc
}

// NewObservationStore creates a new observation store.
func NewObservationStore(store *Store, cleanupFunc CleanupFunc) *ObservationStore {
	return &ObservationStore{db: store.DB, store: store, cleanupFunc: cleanupFunc}
}

// SetCleanupFunc sets the callback for when observations are deleted during cleanup.
func (s *ObservationStore) SetCleanupFunc(fn CleanupFunc) {
	s.cleanupFunc = fn
}

// StoreResponse persists one memory-agent response atomically: the
// registration check, every observation and the summary upsert share a single
// transaction, so a failure leaves no partial write behind.
func (s *ObservationStore) StoreResponse(
	ctx context.Context,
	sessionDBID int64,
	memorySessionID, project string,
	observations []*models.ParsedObservation,
	summary *models.ParsedSummary,
	promptNumber int,
	discoveryTokens int64,
	branch, commitSHA string,
) ([]int64, error) {
	var ids []int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureRegistered(tx, sessionDBID, memorySessionID); err != nil {
			return err
		}

		for _, parsed := range observations {
			obs := models.NewObservation(memorySessionID, project, parsed, promptNumber, discoveryTokens)
			row := &Observation{
				MemorySessionID: obs.MemorySessionID,
				Project:         obs.Project,
				Type:            obs.Type,
				Title:           obs.Title,
				Subtitle:        obs.Subtitle,
				Narrative:       obs.Narrative,
				Facts:           obs.Facts,
				Concepts:        obs.Concepts,
				FilesRead:       obs.FilesRead,
				FilesModified:   obs.FilesModified,
				Priority:        string(obs.Priority),
				Topics:          obs.Topics,
				Entities:        obs.Entities,
				EventDate:       obs.EventDate,
				Branch:          models.NullString(branch),
				CommitSHA:       models.NullString(commitSHA),
				PromptNumber:    obs.PromptNumber,
				DiscoveryTokens: obs.DiscoveryTokens,
				CreatedAt:       obs.CreatedAt,
				CreatedAtEpoch:  obs.CreatedAtEpoch,
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("insert observation: %w", err)
			}
			ids = append(ids, row.ID)
		}

		if summary != nil {
			sum := models.NewSessionSummary(memorySessionID, project, summary, promptNumber, discoveryTokens)
			row := &SessionSummary{
				MemorySessionID: sum.MemorySessionID,
				Project:         sum.Project,
				Request:         sum.Request,
				Investigated:    sum.Investigated,
				Learned:         sum.Learned,
				Completed:       sum.Completed,
				NextSteps:       sum.NextSteps,
				Notes:           sum.Notes,
				Files:           sum.Files,
				PromptNumber:    sum.PromptNumber,
				DiscoveryTokens: sum.DiscoveryTokens,
				CreatedAt:       sum.CreatedAt,
				CreatedAtEpoch:  sum.CreatedAtEpoch,
			}
			// One summary per session; a later write replaces the earlier one.
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "memory_session_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"project", "request", "investigated", "learned", "completed",
					"next_steps", "notes", "files", "prompt_number",
					"discovery_tokens", "created_at", "created_at_epoch",
				}),
			}).Create(row).Error; err != nil {
				return fmt.Errorf("upsert summary: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	// Cleanup beyond the per-project cap runs off the hot path.
	if project != "" && len(ids) > 0 {
		go func(proj string) {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			deletedIDs, _ := s.CleanupOldObservations(cleanupCtx, proj)
			if len(deletedIDs) > 0 && s.cleanupFunc != nil {
				s.cleanupFunc(cleanupCtx, deletedIDs)
			}
		}(project)
	}

	return ids, nil
}

// ObservationFilter narrows GetObservationsByIDs results. Zero-value fields
// are ignored; set fields combine with AND.
type ObservationFilter struct {
	Project  string
	Types    []string
	Concepts []string // any-of membership in the concepts JSON array
	File     string   // substring match over files_read / files_modified

	// VisibleSHAs restricts commit provenance when non-nil: observations with
	// a NULL commit_sha always pass, others must be in the set.
	VisibleSHAs []string
}

// GetObservationsByIDs retrieves observations by id, applying the filter.
func (s *ObservationStore) GetObservationsByIDs(ctx context.Context, ids []int64, filter ObservationFilter, orderBy string, limit int) ([]*models.Observation, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := s.db.WithContext(ctx).Where("id IN ?", ids)

	if filter.Project != "" {
		query = query.Where("project = ?", filter.Project)
	}
	if len(filter.Types) > 0 {
		query = query.Where("type IN ?", filter.Types)
	}
	if len(filter.Concepts) > 0 {
		query = query.Where(
			"EXISTS (SELECT 1 FROM json_each(observations.concepts) WHERE json_each.value IN ?)",
			filter.Concepts,
		)
	}
	if filter.File != "" {
		pattern := "%" + filter.File + "%"
		query = query.Where("files_read LIKE ? OR files_modified LIKE ?", pattern, pattern)
	}
	if filter.VisibleSHAs != nil {
		// NULL provenance predates branch tracking and stays visible.
		query = query.Where("commit_sha IS NULL OR commit_sha IN ?", filter.VisibleSHAs)
	}

	switch orderBy {
	case "date_asc":
		query = query.Order("created_at_epoch ASC")
	default:
		query = query.Order("created_at_epoch DESC")
	}

	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []Observation
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toModelObservations(rows), nil
}

// CandidateFilter narrows the candidate set fed into hybrid ranking.
// Set fields combine with AND.
type CandidateFilter struct {
	Project    string
	Topics     []string // any overlap with the topics JSON array
	EntityName string
	EntityType string
	PinnedOnly bool
}

// FilterCandidates returns the ids of observations matching the filter,
// newest first.
func (s *ObservationStore) FilterCandidates(ctx context.Context, filter CandidateFilter, limit int) ([]int64, error) {
	query := s.db.WithContext(ctx).Model(&Observation{})

	if filter.Project != "" {
		query = query.Where("project = ?", filter.Project)
	}
	if len(filter.Topics) > 0 {
		query = query.Where(
			"EXISTS (SELECT 1 FROM json_each(observations.topics) WHERE json_each.value IN ?)",
			filter.Topics,
		)
	}
	if filter.EntityName != "" && filter.EntityType != "" {
		query = query.Where(
			"EXISTS (SELECT 1 FROM json_each(observations.entities) WHERE json_extract(json_each.value, '$.name') = ? AND json_extract(json_each.value, '$.type') = ?)",
			filter.EntityName, filter.EntityType,
		)
	} else if filter.EntityName != "" {
		query = query.Where(
			"EXISTS (SELECT 1 FROM json_each(observations.entities) WHERE json_extract(json_each.value, '$.name') = ?)",
			filter.EntityName,
		)
	} else if filter.EntityType != "" {
		query = query.Where(
			"EXISTS (SELECT 1 FROM json_each(observations.entities) WHERE json_extract(json_each.value, '$.type') = ?)",
			filter.EntityType,
		)
	}
	if filter.PinnedOnly {
		query = query.Where("pinned = ?", true)
	}

	query = query.Order("created_at_epoch DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var ids []int64
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// GetRecentObservations retrieves the newest observations, scoped to one
// project when given, across all projects otherwise.
func (s *ObservationStore) GetRecentObservations(ctx context.Context, project string, limit int) ([]*models.Observation, error) {
	q := s.db.WithContext(ctx).
		Order("created_at_epoch DESC").
		Limit(limit)
	if project != "" {
		q = q.Where("project = ?", project)
	}

	var rows []Observation
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toModelObservations(rows), nil
}

// SetPinned toggles the pinned flag. Pinned and access_count are the only
// fields mutable after insert.
func (s *ObservationStore) SetPinned(ctx context.Context, id int64, pinned bool) error {
	res := s.db.WithContext(ctx).
		Model(&Observation{}).
		Where("id = ?", id).
		Update("pinned", pinned)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("observation %d not found", id)
	}
	return nil
}

// IncrementAccessCount bumps access_count for every id served to a caller.
func (s *ObservationStore) IncrementAccessCount(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&Observation{}).
		Where("id IN ?", ids).
		UpdateColumn("access_count", gorm.Expr("access_count + 1")).Error
}

// CleanupOldObservations removes unpinned observations beyond the per-project
// cap, oldest first, and returns the removed ids.
func (s *ObservationStore) CleanupOldObservations(ctx context.Context, project string) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&Observation{}).
		Where("project = ? AND pinned = ?", project, false).
		Order("created_at_epoch DESC").
		Offset(MaxObservationsPerProject).
		Limit(1000).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.db.WithContext(ctx).Delete(&Observation{}, ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ScoredHit is a keyword search hit: the observation id plus its raw BM25
// score (lower is better, as reported by FTS5).
type ScoredHit struct {
	ID    int64
	Score float64
}

// SearchObservationsFTS runs a keyword search over the observations FTS
// table. Query terms are OR-combined after stopword filtering; when nothing
// survives filtering a LIKE fallback over titles is used.
func (s *ObservationStore) SearchObservationsFTS(ctx context.Context, query, project string, limit int) ([]ScoredHit, error) {
	keywords := extractKeywords(query)
	rawDB := s.store.GetRawDB()

	if len(keywords) == 0 {
		return s.likeFallback(ctx, query, project, limit)
	}

	match := strings.Join(keywords, " OR ")
	sqlQuery := `
		SELECT o.id, bm25(observations_fts) AS score
		FROM observations_fts f
		JOIN observations o ON o.id = f.rowid
		WHERE observations_fts MATCH ?`
	args := []interface{}{match}
	if project != "" {
		sqlQuery += " AND o.project = ?"
		args = append(args, project)
	}
	sqlQuery += " ORDER BY score ASC LIMIT ?"
	args = append(args, limit)

	rows, err := rawDB.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var hits []ScoredHit
	for rows.Next() {
		var h ScoredHit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *ObservationStore) likeFallback(ctx context.Context, query, project string, limit int) ([]ScoredHit, error) {
	q := s.db.WithContext(ctx).
		Model(&Observation{}).
		Where("title LIKE ?", "%"+query+"%")
	if project != "" {
		q = q.Where("project = ?", project)
	}
	var ids []int64
	if err := q.Order("created_at_epoch DESC").Limit(limit).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	hits := make([]ScoredHit, 0, len(ids))
	for _, id := range ids {
		hits = append(hits, ScoredHit{ID: id})
	}
	return hits, nil
}

// stopwords excluded from FTS queries. Short connective words add noise to
// OR-combined MATCH expressions.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "from": true, "what": true, "when": true, "where": true,
	"which": true, "does": true, "have": true, "will": true, "about": true,
	"into": true, "then": true, "them": true, "were": true, "been": true,
	"how": true, "why": true, "who": true, "can": true, "are": true,
}

// extractKeywords pulls searchable terms out of a freeform query.
func extractKeywords(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '-' && r != '_'
	})

	var keywords []string
	for _, w := range words {
		if len(w) < 3 || stopwords[w] {
			continue
		}
		// quote terms so FTS treats hyphenated words literally
		keywords = append(keywords, `"`+w+`"`)
	}
	return keywords
}
