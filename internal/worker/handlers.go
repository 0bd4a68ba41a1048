package worker

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/internal/acquire"
	"github.com/thebtf/recall/internal/db"
	"github.com/thebtf/recall/internal/privacy"
	"github.com/thebtf/recall/internal/search"
	"github.com/thebtf/recall/internal/worker/session"
	"github.com/thebtf/recall/internal/worker/sse"
	"github.com/thebtf/recall/pkg/models"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("Response encoding failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	if !s.ready.Load() {
		status = "starting"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"version": s.version,
	})
}

func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeError(w, http.StatusServiceUnavailable, "service not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type sessionInitRequest struct {
	ContentSessionID string `json:"content_session_id"`
	Project          string `json:"project"`
	UserPrompt       string `json:"user_prompt"`
}

// handleSessionInit registers (or re-registers) a session and bumps its
// prompt counter. Called by the session-start and user-prompt hooks; both
// paths are idempotent on the content session id.
func (s *Service) handleSessionInit(w http.ResponseWriter, r *http.Request) {
	var req sessionInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ContentSessionID == "" || req.Project == "" {
		writeError(w, http.StatusBadRequest, "content_session_id and project are required")
		return
	}

	// Prompts never reach storage with private spans or echoed memory
	// context still inside.
	prompt := privacy.Clean(req.UserPrompt)

	row, err := s.sessionStore.CreateSession(r.Context(), req.ContentSessionID, req.Project, prompt)
	if err != nil {
		s.errors.Record("session_init", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	promptNumber, err := s.sessionStore.IncrementPromptCounter(r.Context(), req.ContentSessionID)
	if err != nil {
		s.errors.Record("session_init", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	active := s.sessionManager.Register(row.ID, req.ContentSessionID, req.Project, prompt)
	active.LastPromptNumber = int(promptNumber)

	s.sseBroadcaster.Emit(sse.EventNewPrompt, map[string]interface{}{
		"session_id":    row.ID,
		"project":       req.Project,
		"prompt_number": promptNumber,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":    row.ID,
		"prompt_number": promptNumber,
	})
}

// handleSessionResolve maps a content session id onto its database id
// without touching the prompt counter.
func (s *Service) handleSessionResolve(w http.ResponseWriter, r *http.Request) {
	contentSessionID := r.URL.Query().Get("content_session_id")
	if contentSessionID == "" {
		writeError(w, http.StatusBadRequest, "content_session_id is required")
		return
	}

	row, err := s.sessionStore.GetSessionByContentID(r.Context(), contentSessionID)
	if err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
		} else {
			s.errors.Record("session_resolve", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":    row.ID,
		"project":       row.Project,
		"prompt_number": row.PromptCounter,
		"status":        row.Status,
	})
}

// handleSubagentComplete nudges the dispatch loop so observations queued
// during a subagent run are drained promptly.
func (s *Service) handleSubagentComplete(w http.ResponseWriter, r *http.Request) {
	active, ok := s.resolveSession(w, r)
	if !ok {
		return
	}

	s.sessionManager.Kick()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"acknowledged": true,
		"queue_depth":  active.QueueDepth(),
	})
}

type observationEventRequest struct {
	ToolName   string      `json:"tool_name"`
	ToolInput  interface{} `json:"tool_input"`
	ToolOutput interface{} `json:"tool_output"`
	CWD        string      `json:"cwd"`
	Branch     string      `json:"branch"`
	CommitSHA  string      `json:"commit_sha"`
}

// handleObservationEvent accepts one tool event and queues it for the
// session's agent loop. Returns 202 on enqueue; duplicates inside the
// dedupe window are acknowledged without queueing.
func (s *Service) handleObservationEvent(w http.ResponseWriter, r *http.Request) {
	active, ok := s.resolveSession(w, r)
	if !ok {
		return
	}

	var req observationEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ToolName == "" {
		writeError(w, http.StatusBadRequest, "tool_name is required")
		return
	}

	// Entirely-private payloads carry nothing worth remembering.
	if privacy.IsEntirelyPrivate(acquire.Stringify(req.ToolInput)) &&
		privacy.IsEntirelyPrivate(acquire.Stringify(req.ToolOutput)) {
		writeJSON(w, http.StatusOK, map[string]bool{"queued": false, "private": true})
		return
	}

	fingerprint := acquire.Fingerprint(req.ToolName, req.ToolInput, req.ToolOutput)
	if !s.deduper.Observe(fingerprint) {
		writeJSON(w, http.StatusOK, map[string]bool{"queued": false, "deduplicated": true})
		return
	}

	queued := s.sessionManager.EnqueueObservation(active.SessionDBID, &session.ObservationData{
		ToolName:     req.ToolName,
		ToolInput:    req.ToolInput,
		ToolOutput:   req.ToolOutput,
		PromptNumber: active.LastPromptNumber,
		CWD:          req.CWD,
		Branch:       req.Branch,
		CommitSHA:    req.CommitSHA,
	})
	if !queued {
		writeError(w, http.StatusNotFound, "session not active")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"queued":      true,
		"category":    string(acquire.ClassifyTool(req.ToolName)),
		"queue_depth": active.QueueDepth(),
	})
}

type summarizeRequest struct {
	LastUserMessage      string `json:"last_user_message"`
	LastAssistantMessage string `json:"last_assistant_message"`
}

// handleSummarize queues a summary request for the session. Rapid repeat
// invocations for the same content session trip the loop guard and are
// acknowledged without queueing, because a stop hook that re-fires
// mechanically would otherwise summarize forever.
func (s *Service) handleSummarize(w http.ResponseWriter, r *http.Request) {
	active, ok := s.resolveSession(w, r)
	if !ok {
		return
	}

	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if s.loopGuard.Observe(active.ContentSessionID) {
		log.Warn().Str("content_session_id", active.ContentSessionID).Msg("Summarize loop detected, dropping request")
		writeJSON(w, http.StatusOK, map[string]bool{"queued": false, "loop_detected": true})
		return
	}

	queued := s.sessionManager.QueueSummary(active.SessionDBID, &session.SummarizeData{
		LastUserMessage:      privacy.Clean(req.LastUserMessage),
		LastAssistantMessage: privacy.Clean(req.LastAssistantMessage),
	})
	if !queued {
		writeError(w, http.StatusNotFound, "session not active")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}

// handleSessionComplete marks the session finished and releases its
// in-memory state. Pending work is abandoned; completion is the caller
// saying the conversation is over.
func (s *Service) handleSessionComplete(w http.ResponseWriter, r *http.Request) {
	active, ok := s.resolveSession(w, r)
	if !ok {
		return
	}

	if err := s.sessionStore.CompleteSession(r.Context(), active.SessionDBID, models.SessionStatusCompleted); err != nil {
		s.errors.Record("session_complete", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.loopGuard.Reset(active.ContentSessionID)
	s.sessionManager.DeleteSession(active.SessionDBID)

	s.sseBroadcaster.Emit(sse.EventSessionCompleted, map[string]interface{}{
		"session_id": active.SessionDBID,
		"project":    active.Project,
	})

	writeJSON(w, http.StatusOK, map[string]bool{"completed": true})
}

// resolveSession finds the active session for the path id, re-registering
// from the database after a worker restart.
func (s *Service) resolveSession(w http.ResponseWriter, r *http.Request) (*session.ActiveSession, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return nil, false
	}

	if active := s.sessionManager.Get(id); active != nil {
		return active, true
	}

	row, err := s.sessionStore.GetSessionByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
		} else {
			s.errors.Record("resolve_session", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}

	active := s.sessionManager.Register(row.ID, row.ContentSessionID, row.Project, row.UserPrompt.String)
	active.LastPromptNumber = int(row.PromptCounter)
	return active, true
}

// handleSearch runs hybrid retrieval. Query and project are required so a
// misconfigured hook cannot dump the whole corpus.
func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.searchRequests.Add(1)

	q := r.URL.Query()
	query := q.Get("query")
	if query == "" {
		query = q.Get("q")
	}
	project := q.Get("project")
	if query == "" || project == "" {
		writeError(w, http.StatusBadRequest, "query and project are required")
		return
	}

	limit := intParam(q.Get("limit"), 20)
	params := search.Params{
		Query:      query,
		Project:    project,
		Limit:      limit,
		Topics:     splitParam(q.Get("topics")),
		EntityName: q.Get("entity"),
		EntityType: q.Get("entity_type"),
		PinnedOnly: q.Get("pinned") == "true",
		Types:      splitParam(q.Get("types")),
		Concepts:   splitParam(q.Get("concepts")),
		File:       q.Get("file"),
	}

	result, err := s.searchManager.Search(r.Context(), params)
	if err != nil {
		s.errors.Record("search", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Access counts are bumped inside the search manager; the handler only
	// dedupes near-identical results before serving.
	observations := clusterObservations(result.Observations, searchClusterThreshold)
	s.observationsServed.Add(int64(len(observations)))
	s.metrics.RecordSearch(r.Context(), float64(result.ElapsedMs))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"observations": observations,
		"total_count":  result.TotalCount,
		"degraded":     result.FellBack,
		"elapsed_ms":   result.ElapsedMs,
	})
}

// handleRecentObservations returns the newest observations, optionally
// scoped to one project.
func (s *Service) handleRecentObservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 50)

	observations, err := s.observationStore.GetRecentObservations(r.Context(), q.Get("project"), limit)
	if err != nil {
		s.errors.Record("recent_observations", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.observationsServed.Add(int64(len(observations)))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"observations": observations,
		"count":        len(observations),
	})
}

func (s *Service) handleProjectCounts(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	counts, err := s.projectStore.GetProjectRowCounts(r.Context(), project)
	if err != nil {
		s.writeProjectError(w, "project_counts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project": project,
		"counts":  counts,
		"total":   counts.Total(),
	})
}

type projectRenameRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (s *Service) handleProjectRename(w http.ResponseWriter, r *http.Request) {
	var req projectRenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	counts, err := s.projectStore.RenameProject(r.Context(), req.From, req.To)
	if err != nil {
		s.writeProjectError(w, "project_rename", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project": req.To,
		"moved":   counts,
	})
}

type projectMergeRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

func (s *Service) handleProjectMerge(w http.ResponseWriter, r *http.Request) {
	var req projectMergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" || req.Target == "" {
		writeError(w, http.StatusBadRequest, "source and target are required")
		return
	}

	counts, err := s.projectStore.MergeProjects(r.Context(), req.Source, req.Target)
	if err != nil {
		s.writeProjectError(w, "project_merge", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project": req.Target,
		"moved":   counts,
	})
}

func (s *Service) handleProjectDelete(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	counts, err := s.projectStore.DeleteProject(r.Context(), project)
	if err != nil {
		s.writeProjectError(w, "project_delete", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project": project,
		"deleted": counts,
	})
}

// writeProjectError maps project-store sentinels onto HTTP statuses.
func (s *Service) writeProjectError(w http.ResponseWriter, source string, err error) {
	switch {
	case errors.Is(err, db.ErrProjectNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, db.ErrProjectExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, db.ErrSameProject):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.errors.Record(source, err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":            s.version,
		"uptime_seconds":     int64(time.Since(s.startTime).Seconds()),
		"active_sessions":    s.sessionManager.GetActiveSessionCount(),
		"queue_depth":        s.sessionManager.GetTotalQueueDepth(),
		"processing":         s.sessionManager.IsAnySessionProcessing(),
		"sse_clients":        s.sseBroadcaster.ClientCount(),
		"retrieval":          s.GetRetrievalStats(),
		"recent_errors":      s.errors.Recent(),
		"recurring_patterns": s.errors.RecurringPatterns(),
	})
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
