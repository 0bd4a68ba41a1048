package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/internal/db"
	"github.com/thebtf/recall/internal/vector/chroma"
	"github.com/thebtf/recall/internal/vocab"
	"github.com/thebtf/recall/internal/worker/session"
	"github.com/thebtf/recall/pkg/models"
)

// turnRunner abstracts the subprocess for tests.
type turnRunner interface {
	Run(ctx context.Context, resumeID, prompt string) (*Response, error)
}

// StoredEvent reports a persisted response to interested listeners.
type StoredEvent struct {
	SessionDBID    int64
	Project        string
	ObservationIDs []int64
	SummaryStored  bool
}

// Processor turns queued session messages into persisted memory. It
// implements the session dispatch Processor interface.
type Processor struct {
	runner       turnRunner
	sessions     *db.SessionStore
	observations *db.ObservationStore
	summaries    *db.SummaryStore
	registry     *vocab.Registry

	// sync is optional; nil disables vector indexing.
	sync *chroma.Sync

	onStored func(StoredEvent)
}

// NewProcessor wires a processor. sync may be nil.
func NewProcessor(runner *Runner, sessions *db.SessionStore, observations *db.ObservationStore, summaries *db.SummaryStore, registry *vocab.Registry, sync *chroma.Sync) *Processor {
	return &Processor{
		runner:       runner,
		sessions:     sessions,
		observations: observations,
		summaries:    summaries,
		registry:     registry,
		sync:         sync,
	}
}

// SetOnStored installs the persisted-response listener.
func (p *Processor) SetOnStored(fn func(StoredEvent)) {
	p.onStored = fn
}

// Process handles one dequeued message: render the prompt, run the
// subprocess turn, parse and persist whatever came back.
func (p *Processor) Process(ctx context.Context, as *session.ActiveSession, msg session.PendingMessage) error {
	var prompt string
	switch msg.Type {
	case session.MessageTypeObservation:
		if msg.Observation == nil {
			return nil
		}
		prompt = BuildObservationPrompt(ToolEvent{
			ToolName:   msg.Observation.ToolName,
			ToolInput:  msg.Observation.ToolInput,
			ToolOutput: msg.Observation.ToolOutput,
			OccurredAt: msg.EnqueuedAt,
			CWD:        msg.Observation.CWD,
		})
	case session.MessageTypeSummarize:
		if msg.Summarize == nil {
			return nil
		}
		prompt = BuildSummaryPrompt(SummaryRequest{
			Project:              as.Project,
			UserPrompt:           as.UserPrompt,
			LastUserMessage:      msg.Summarize.LastUserMessage,
			LastAssistantMessage: msg.Summarize.LastAssistantMessage,
		})
	default:
		return fmt.Errorf("unknown message type %d", msg.Type)
	}

	resp, err := p.runner.Run(ctx, as.MemorySessionID, prompt)
	if err != nil {
		return fmt.Errorf("agent turn: %w", err)
	}

	// CRITICAL: capture the subprocess's own session id on first contact and
	// persist it before anything else references it. Resume always uses this
	// id, never the observed session's.
	if as.MemorySessionID == "" && resp.MemorySessionID != "" {
		as.MemorySessionID = resp.MemorySessionID
		if err := p.sessions.UpdateMemorySessionID(ctx, as.SessionDBID, resp.MemorySessionID); err != nil {
			return fmt.Errorf("register memory session: %w", err)
		}
		log.Info().
			Int64("session_db_id", as.SessionDBID).
			Str("memory_session_id", resp.MemorySessionID).
			Msg("Captured memory session id")
	}

	as.CumulativeInputTokens += resp.InputTokens
	as.CumulativeOutputTokens += resp.OutputTokens
	discoveryTokens := resp.InputTokens + resp.OutputTokens

	observations := ParseObservations(resp.Text, p.registry)
	summary := ParseSummary(resp.Text)
	if summary != nil && msg.Type == session.MessageTypeSummarize {
		if isSelfReferentialSummary(summary) || !hasMeaningfulContent(resp.Text) {
			log.Debug().Int64("session_db_id", as.SessionDBID).Msg("Discarding self-referential summary")
			summary = nil
		}
	}
	if len(observations) == 0 && summary == nil {
		return nil
	}

	ids, err := p.observations.StoreResponse(ctx,
		as.SessionDBID, as.MemorySessionID, as.Project,
		observations, summary,
		as.LastPromptNumber, discoveryTokens,
		as.Branch, as.CommitSHA)
	if err != nil {
		return fmt.Errorf("persist response: %w", err)
	}

	p.indexStored(ids, as.MemorySessionID, summary != nil)

	if p.onStored != nil {
		p.onStored(StoredEvent{
			SessionDBID:    as.SessionDBID,
			Project:        as.Project,
			ObservationIDs: ids,
			SummaryStored:  summary != nil,
		})
	}
	return nil
}

// indexStored pushes freshly persisted rows to the vector sibling. Indexing
// is best-effort; the rows are already durable in SQLite.
func (p *Processor) indexStored(ids []int64, memorySessionID string, summaryStored bool) {
	if p.sync == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if len(ids) > 0 {
			rows, err := p.observations.GetObservationsByIDs(ctx, ids, db.ObservationFilter{}, "", 0)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to load observations for vector sync")
				return
			}
			for _, row := range rows {
				if err := p.sync.SyncObservation(ctx, row); err != nil {
					log.Warn().Err(err).Int64("observation_id", row.ID).Msg("Vector sync failed")
				}
			}
		}

		if summaryStored && p.summaries != nil {
			summary, err := p.summaries.GetSummaryBySession(ctx, memorySessionID)
			if err != nil || summary == nil {
				log.Warn().Err(err).Str("memory_session_id", memorySessionID).Msg("Failed to load summary for vector sync")
				return
			}
			if err := p.sync.SyncSummary(ctx, summary); err != nil {
				log.Warn().Err(err).Int64("summary_id", summary.ID).Msg("Summary vector sync failed")
			}
		}
	}()
}

// Phrases that mark a summary as being about the memory agent itself rather
// than the observed session.
var selfReferentialMarkers = []string{
	"memory extraction agent",
	"extraction agent",
	"memory agent",
	"no work has been completed",
	"no work completed",
	"awaiting tool",
	"awaiting user",
	"waiting for the user",
	"role definition",
	"session initialization",
	"operational guidelines",
}

// isSelfReferentialSummary detects summaries describing the agent's own
// bootstrapping instead of the observed session's work. Two or more marker
// phrases across the fields is the threshold; one alone can appear in
// legitimate content.
func isSelfReferentialSummary(summary *models.ParsedSummary) bool {
	combined := strings.ToLower(strings.Join([]string{
		summary.Request,
		summary.Investigated,
		summary.Learned,
		summary.Completed,
		summary.NextSteps,
		summary.Notes,
	}, "\n"))

	hits := 0
	for _, marker := range selfReferentialMarkers {
		if strings.Contains(combined, marker) {
			hits++
		}
	}
	return hits >= 2
}

// hasMeaningfulContent gates summary persistence on the response being
// about actual work, not hook chatter or agent setup.
func hasMeaningfulContent(content string) bool {
	if len(strings.TrimSpace(content)) < 50 {
		return false
	}

	lower := strings.ToLower(content)
	for _, marker := range []string{
		"memory extraction agent",
		"memory agent",
		"extraction agent",
		"hook success",
		"system-reminder",
		"no substantive work",
		"awaiting tool results",
	} {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}
