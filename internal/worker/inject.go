package worker

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"

	"github.com/thebtf/recall/internal/acquire"
	"github.com/thebtf/recall/pkg/models"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// countTokens measures a block with the BPE tokenizer, falling back to the
// byte heuristic if the codec is unavailable.
func countTokens(text string) int {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warn().Err(err).Msg("Tokenizer unavailable, using byte estimate")
			return
		}
		codec = c
	})
	if codec == nil {
		return int(acquire.EstimateTokens(text))
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return int(acquire.EstimateTokens(text))
	}
	return len(ids)
}

// priorityRank orders observations for injection. Unknown values sort last.
func priorityRank(p models.Priority) int {
	switch p {
	case models.PriorityCritical:
		return 0
	case models.PriorityImportant:
		return 1
	default:
		return 2
	}
}

// handleInject assembles the session-start context block: recent session
// summaries plus deduplicated recent observations, trimmed to the token
// budget. The block is wrapped in recall-context tags so it is stripped
// again if it ever flows back through ingestion.
func (s *Service) handleInject(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	project := q.Get("project")
	if project == "" {
		writeError(w, http.StatusBadRequest, "project is required")
		return
	}
	contentSessionID := q.Get("session_id")

	cfg := s.config
	summaries, err := s.summaryStore.GetRecentSummaries(r.Context(), project, cfg.ContextSummaries)
	if err != nil {
		s.errors.Record("inject", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	observations, err := s.observationStore.GetRecentObservations(r.Context(), project, cfg.ContextObservations)
	if err != nil {
		s.errors.Record("inject", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	observations = clusterObservations(observations, searchClusterThreshold)
	// Critical findings outrank recency; within a priority tier newest
	// stays first because the store returns rows newest-first.
	sort.SliceStable(observations, func(i, j int) bool {
		return priorityRank(observations[i].Priority) < priorityRank(observations[j].Priority)
	})

	var b strings.Builder
	b.WriteString("<recall-context>\n")
	b.WriteString(fmt.Sprintf("# Memory for %s\n\n", project))

	used := countTokens(b.String())
	budget := cfg.TokenBudget
	injected := 0

	if len(summaries) > 0 {
		header := "## Previous sessions\n\n"
		used += countTokens(header)
		b.WriteString(header)
		for _, summary := range summaries {
			block := formatSummaryBlock(summary)
			cost := countTokens(block)
			if used+cost > budget {
				break
			}
			b.WriteString(block)
			used += cost
		}
	}

	if len(observations) > 0 {
		header := "## Recent observations\n\n"
		cost := countTokens(header)
		if used+cost <= budget {
			b.WriteString(header)
			used += cost
			for _, obs := range observations {
				block := formatObservationBlock(obs)
				cost := countTokens(block)
				if used+cost > budget {
					break
				}
				b.WriteString(block)
				used += cost
				injected++
			}
		}
	}

	b.WriteString("</recall-context>\n")

	if contentSessionID != "" {
		if err := s.injectionStore.RecordInjection(r.Context(), project, contentSessionID, int64(injected), int64(used)); err != nil {
			log.Warn().Err(err).Msg("Injection record failed")
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"context":           b.String(),
		"observation_count": injected,
		"summary_count":     len(summaries),
		"token_count":       used,
	})
}

func formatSummaryBlock(summary *models.SessionSummary) string {
	var b strings.Builder
	if summary.Request.Valid && summary.Request.String != "" {
		b.WriteString(fmt.Sprintf("- **Request:** %s\n", summary.Request.String))
	}
	if summary.Learned.Valid && summary.Learned.String != "" {
		b.WriteString(fmt.Sprintf("  **Learned:** %s\n", summary.Learned.String))
	}
	if summary.Completed.Valid && summary.Completed.String != "" {
		b.WriteString(fmt.Sprintf("  **Completed:** %s\n", summary.Completed.String))
	}
	if summary.NextSteps.Valid && summary.NextSteps.String != "" {
		b.WriteString(fmt.Sprintf("  **Next steps:** %s\n", summary.NextSteps.String))
	}
	if b.Len() == 0 {
		return ""
	}
	b.WriteString("\n")
	return b.String()
}

func formatObservationBlock(obs *models.Observation) string {
	title := obs.Title.String
	if title == "" {
		title = obs.Type
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("- [%s] %s", obs.Type, title))
	if obs.Priority == models.PriorityCritical {
		b.WriteString(" (critical)")
	}
	b.WriteString("\n")
	for _, fact := range obs.Facts {
		b.WriteString(fmt.Sprintf("  - %s\n", fact))
	}
	return b.String()
}
