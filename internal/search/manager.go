// Package search provides hybrid retrieval for recall.
package search

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/internal/db"
	"github.com/thebtf/recall/internal/vector"
	"github.com/thebtf/recall/internal/vector/chroma"
	"github.com/thebtf/recall/pkg/models"
)

// Default blend weights when the blend strategy is selected.
const (
	DefaultVectorWeight  = 0.7
	DefaultKeywordWeight = 0.3
)

// candidateMultiplier oversamples each source so fusion has enough overlap
// to be meaningful before the final limit is applied.
const candidateMultiplier = 4

// Strategy selects how the two sources combine.
type Strategy string

const (
	// StrategyRRF fuses by rank only (default).
	StrategyRRF Strategy = "rrf"
	// StrategyBlend min-max normalizes raw scores and blends them.
	StrategyBlend Strategy = "blend"
)

// Manager orchestrates hybrid search across the vector service and the
// keyword index, with graceful degradation when either source fails.
type Manager struct {
	observations *db.ObservationStore
	vectorClient vector.Client

	opts          Options
	strategy      Strategy
	vectorWeight  float64
	keywordWeight float64
}

// ManagerConfig tunes a search manager.
type ManagerConfig struct {
	Fusion        Options
	Strategy      Strategy
	VectorWeight  float64
	KeywordWeight float64
}

// NewManager creates a search manager. vectorClient may be nil, in which
// case every search is keyword-only and flagged as degraded.
func NewManager(observations *db.ObservationStore, vectorClient vector.Client, cfg ManagerConfig) *Manager {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyRRF
	}
	if cfg.VectorWeight == 0 && cfg.KeywordWeight == 0 {
		cfg.VectorWeight = DefaultVectorWeight
		cfg.KeywordWeight = DefaultKeywordWeight
	}
	if cfg.Fusion.K == 0 {
		cfg.Fusion = DefaultOptions()
	}
	return &Manager{
		observations:  observations,
		vectorClient:  vectorClient,
		opts:          cfg.Fusion,
		strategy:      cfg.Strategy,
		vectorWeight:  cfg.VectorWeight,
		keywordWeight: cfg.KeywordWeight,
	}
}

// Params describes one search request.
type Params struct {
	Query   string
	Project string
	Limit   int

	// Candidate filters, AND-combined.
	Topics     []string
	EntityName string
	EntityType string
	PinnedOnly bool

	// Retrieval filters applied when loading rows.
	Types       []string
	Concepts    []string
	File        string
	VisibleSHAs []string
}

// Result is a ranked search response.
type Result struct {
	Observations []*models.Observation
	TotalCount   int
	FellBack     bool // true when a source was unavailable
	ElapsedMs    int64
}

// Search runs both sources concurrently, fuses the rankings, applies the
// candidate filters and loads the surviving rows in fused order.
func (m *Manager) Search(ctx context.Context, params Params) (*Result, error) {
	start := time.Now()
	if params.Limit <= 0 {
		params.Limit = 10
	}
	fetch := params.Limit * candidateMultiplier

	var (
		wg          sync.WaitGroup
		vectorOrder []int64
		vectorDist  map[int64]float64
		vectorErr   error
		keywordHits []db.ScoredHit
		keywordErr  error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if m.vectorClient == nil {
			vectorErr = errVectorDisabled
			return
		}
		where := chroma.BuildWhereFilter(chroma.DocTypeObservation, params.Project)
		results, err := m.vectorClient.Query(ctx, params.Query, fetch, where)
		if err != nil {
			vectorErr = err
			return
		}
		vectorOrder, vectorDist = chroma.BestDistancePerObservation(results)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		keywordHits, keywordErr = m.observations.SearchObservationsFTS(ctx, params.Query, params.Project, fetch)
	}()

	wg.Wait()

	fellBack := vectorErr != nil || keywordErr != nil
	if vectorErr != nil && m.vectorClient != nil {
		log.Warn().Err(vectorErr).Msg("Vector search unavailable, degrading to keyword-only")
	}
	if keywordErr != nil {
		log.Warn().Err(keywordErr).Msg("Keyword search failed")
	}
	if vectorErr != nil && keywordErr != nil {
		return &Result{FellBack: true, ElapsedMs: time.Since(start).Milliseconds()}, nil
	}

	keywordOrder := make([]int64, 0, len(keywordHits))
	keywordScore := make(map[int64]float64, len(keywordHits))
	for _, h := range keywordHits {
		keywordOrder = append(keywordOrder, h.ID)
		keywordScore[h.ID] = h.Score
	}

	var ranked []ScoredID
	switch {
	case vectorErr != nil:
		ranked = RRF(m.opts, keywordOrder)
	case keywordErr != nil:
		ranked = RRF(m.opts, vectorOrder)
	case m.strategy == StrategyBlend:
		ranked = m.blend(vectorOrder, vectorDist, keywordOrder, keywordScore)
	default:
		ranked = RRF(m.opts, vectorOrder, keywordOrder)
	}

	ids := make([]int64, 0, len(ranked))
	for _, r := range ranked {
		ids = append(ids, r.ID)
	}

	ids, err := m.applyCandidateFilters(ctx, params, ids)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return &Result{FellBack: fellBack, ElapsedMs: time.Since(start).Milliseconds()}, nil
	}

	rows, err := m.observations.GetObservationsByIDs(ctx, ids, db.ObservationFilter{
		Project:     params.Project,
		Types:       params.Types,
		Concepts:    params.Concepts,
		File:        params.File,
		VisibleSHAs: params.VisibleSHAs,
	}, "", 0)
	if err != nil {
		return nil, err
	}

	ordered := reorder(rows, ids)
	if len(ordered) > params.Limit {
		ordered = ordered[:params.Limit]
	}

	served := make([]int64, 0, len(ordered))
	for _, o := range ordered {
		served = append(served, o.ID)
	}
	if err := m.observations.IncrementAccessCount(ctx, served); err != nil {
		log.Warn().Err(err).Msg("Failed to bump access counts")
	}

	return &Result{
		Observations: ordered,
		TotalCount:   len(ordered),
		FellBack:     fellBack,
		ElapsedMs:    time.Since(start).Milliseconds(),
	}, nil
}

// blend min-max normalizes both sources (inverting so larger is better) and
// combines them with the configured weights.
func (m *Manager) blend(vectorOrder []int64, vectorDist map[int64]float64, keywordOrder []int64, keywordScore map[int64]float64) []ScoredID {
	vNorm := normalizeByID(vectorOrder, vectorDist, true)
	kNorm := normalizeByID(keywordOrder, keywordScore, true) // bm25: lower is better

	blended := Blend(vNorm, kNorm, m.vectorWeight, m.keywordWeight)

	ranked := make([]ScoredID, 0, len(blended))
	seen := make(map[int64]bool)
	for _, id := range append(append([]int64{}, vectorOrder...), keywordOrder...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		ranked = append(ranked, ScoredID{ID: id, Score: blended[id]})
	}
	sortByScoreDesc(ranked)
	return ranked
}

func normalizeByID(order []int64, scores map[int64]float64, invert bool) map[int64]float64 {
	if len(order) == 0 {
		return nil
	}
	raw := make([]float64, len(order))
	for i, id := range order {
		raw[i] = scores[id]
	}
	norm := MinMaxNormalize(raw, invert)
	out := make(map[int64]float64, len(order))
	for i, id := range order {
		out[id] = norm[i]
	}
	return out
}

// applyCandidateFilters intersects the ranked ids with the AND-combined
// topic/entity/pinned candidate set, preserving rank order.
func (m *Manager) applyCandidateFilters(ctx context.Context, params Params, ids []int64) ([]int64, error) {
	if len(params.Topics) == 0 && params.EntityName == "" && params.EntityType == "" && !params.PinnedOnly {
		return ids, nil
	}

	allowed, err := m.observations.FilterCandidates(ctx, db.CandidateFilter{
		Project:    params.Project,
		Topics:     params.Topics,
		EntityName: params.EntityName,
		EntityType: params.EntityType,
		PinnedOnly: params.PinnedOnly,
	}, 0)
	if err != nil {
		return nil, err
	}

	allowedSet := make(map[int64]bool, len(allowed))
	for _, id := range allowed {
		allowedSet[id] = true
	}

	filtered := ids[:0]
	for _, id := range ids {
		if allowedSet[id] {
			filtered = append(filtered, id)
		}
	}
	return filtered, nil
}

// reorder arranges rows to match the fused id ranking.
func reorder(rows []*models.Observation, ids []int64) []*models.Observation {
	byID := make(map[int64]*models.Observation, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	out := make([]*models.Observation, 0, len(rows))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

func sortByScoreDesc(items []ScoredID) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
}

// errVectorDisabled marks searches run without a vector client configured.
var errVectorDisabled = errors.New("vector client not configured")
