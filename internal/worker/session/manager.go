package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/recall/internal/db"
	"github.com/thebtf/recall/pkg/models"
)

// Manager tracks all active sessions and their pending work. It owns the
// map only; each session's queue is guarded by the session itself.
type Manager struct {
	sessions map[int64]*ActiveSession
	mu       sync.RWMutex

	// ProcessNotify wakes the dispatch loop when any session gains work.
	ProcessNotify chan struct{}

	sessionStore *db.SessionStore
	restartCap   int64

	onCreated          func(sessionDBID int64)
	onDeleted          func(sessionDBID int64)
	onSummaryQueued    func(sessionDBID int64)
	onGeneratorRestart func(sessionDBID int64, err error)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a session manager. sessionStore may be nil in tests;
// a restartCap of zero or less falls back to the built-in default.
func NewManager(sessionStore *db.SessionStore, restartCap int) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions:      make(map[int64]*ActiveSession),
		ProcessNotify: make(chan struct{}, 1),
		sessionStore:  sessionStore,
		restartCap:    int64(restartCap),
		ctx:           ctx,
		cancel:        cancel,
	}
	go m.cleanupLoop()
	return m
}

// Register returns the active session for the given ids, creating it if this
// is the first sighting. Re-registration of a live session is idempotent and
// refreshes the user prompt for continuations.
func (m *Manager) Register(sessionDBID int64, contentSessionID, project, userPrompt string) *ActiveSession {
	m.mu.Lock()
	if existing, ok := m.sessions[sessionDBID]; ok {
		if userPrompt != "" {
			existing.UserPrompt = userPrompt
		}
		m.mu.Unlock()
		return existing
	}

	as := newActiveSession(m.ctx, sessionDBID, contentSessionID, project, userPrompt)
	m.sessions[sessionDBID] = as
	m.mu.Unlock()

	log.Debug().
		Int64("session_db_id", sessionDBID).
		Str("content_session_id", contentSessionID).
		Str("project", project).
		Msg("Session registered")

	if m.onCreated != nil {
		m.onCreated(sessionDBID)
	}
	return as
}

// Get returns the active session or nil.
func (m *Manager) Get(sessionDBID int64) *ActiveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionDBID]
}

// GetByContentID finds a session by its content session id.
func (m *Manager) GetByContentID(contentSessionID string) *ActiveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, as := range m.sessions {
		if as.ContentSessionID == contentSessionID {
			return as
		}
	}
	return nil
}

// EnqueueObservation queues a tool event for a session and signals the
// dispatch loop. Returns false if the session is not registered.
func (m *Manager) EnqueueObservation(sessionDBID int64, obs *ObservationData) bool {
	as := m.Get(sessionDBID)
	if as == nil {
		return false
	}
	as.Enqueue(PendingMessage{Type: MessageTypeObservation, Observation: obs})
	m.signalProcess()
	return true
}

// QueueSummary queues a summarization request for a session. The returned
// value reports whether the request was enqueued, and it is true from the
// moment the queue holds the message: failures in downstream notification
// never retract an accepted enqueue.
func (m *Manager) QueueSummary(sessionDBID int64, data *SummarizeData) bool {
	as := m.Get(sessionDBID)
	if as == nil {
		return false
	}
	as.Enqueue(PendingMessage{Type: MessageTypeSummarize, Summarize: data})
	m.signalProcess()
	m.notifySummaryQueued(sessionDBID)
	return true
}

// notifySummaryQueued fires the summary-queued hook. A panicking listener
// must not unwind past the enqueue, the caller already got its answer.
func (m *Manager) notifySummaryQueued(sessionDBID int64) {
	if m.onSummaryQueued == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("Summary-queued listener panicked")
		}
	}()
	m.onSummaryQueued(sessionDBID)
}

// SetOnSummaryQueued installs the summary-queued hook.
func (m *Manager) SetOnSummaryQueued(fn func(sessionDBID int64)) {
	m.onSummaryQueued = fn
}

// SetOnGeneratorRestart installs the hook fired after an unplanned
// subprocess restart.
func (m *Manager) SetOnGeneratorRestart(fn func(sessionDBID int64, err error)) {
	m.onGeneratorRestart = fn
}

// Kick wakes the dispatch loop without enqueueing anything. Used when an
// external event suggests queued work may be waiting.
func (m *Manager) Kick() {
	m.signalProcess()
}

func (m *Manager) signalProcess() {
	select {
	case m.ProcessNotify <- struct{}{}:
	default:
	}
}

// DrainMessages removes and returns all pending messages for a session in
// FIFO order. Returns nil for an unknown session.
func (m *Manager) DrainMessages(sessionDBID int64) []PendingMessage {
	as := m.Get(sessionDBID)
	if as == nil {
		return nil
	}

	as.messageMu.Lock()
	defer as.messageMu.Unlock()
	drained := as.pendingMessages
	as.pendingMessages = make([]PendingMessage, 0)
	as.earliestPending = time.Time{}
	return drained
}

// DeleteSession cancels and removes a session. Deleting a session twice, or
// one that never existed, is a no-op.
func (m *Manager) DeleteSession(sessionDBID int64) {
	m.mu.Lock()
	as, existed := m.sessions[sessionDBID]
	if existed {
		delete(m.sessions, sessionDBID)
	}
	m.mu.Unlock()

	if !existed {
		return
	}

	as.Cancel()
	if m.onDeleted != nil {
		m.onDeleted(sessionDBID)
	}
}

// GetActiveSessionCount returns the number of live sessions.
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetTotalQueueDepth sums pending messages across all sessions.
func (m *Manager) GetTotalQueueDepth() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, as := range m.sessions {
		total += as.QueueDepth()
	}
	return total
}

// IsAnySessionProcessing reports whether any session has queued work or a
// running generator.
func (m *Manager) IsAnySessionProcessing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, as := range m.sessions {
		if as.QueueDepth() > 0 || as.GeneratorActive() {
			return true
		}
	}
	return false
}

// GetAllSessions returns a snapshot of the live sessions.
func (m *Manager) GetAllSessions() []*ActiveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ActiveSession, 0, len(m.sessions))
	for _, as := range m.sessions {
		out = append(out, as)
	}
	return out
}

// SetOnSessionCreated installs the creation callback.
func (m *Manager) SetOnSessionCreated(fn func(sessionDBID int64)) {
	m.onCreated = fn
}

// SetOnSessionDeleted installs the deletion callback.
func (m *Manager) SetOnSessionDeleted(fn func(sessionDBID int64)) {
	m.onDeleted = fn
}

// ShutdownAll completes every session in the database, cancels in-flight
// work and stops the cleanup loop. Bounded by ctx.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*ActiveSession, 0, len(m.sessions))
	for _, as := range m.sessions {
		sessions = append(sessions, as)
	}
	m.sessions = make(map[int64]*ActiveSession)
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, as := range sessions {
		as := as
		g.Go(func() error {
			as.Cancel()
			if m.sessionStore != nil {
				if err := m.sessionStore.CompleteSession(gctx, as.SessionDBID, models.SessionStatusCompleted); err != nil {
					log.Warn().Err(err).Int64("session_db_id", as.SessionDBID).Msg("Failed to complete session on shutdown")
				}
			}
			return nil
		})
	}
	err := g.Wait()

	m.cancel()
	return err
}

// cleanupLoop reaps sessions idle beyond SessionTimeout.
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.reapIdleSessions()
		}
	}
}

func (m *Manager) reapIdleSessions() {
	cutoff := time.Now().Add(-SessionTimeout)

	m.mu.RLock()
	var stale []int64
	for id, as := range m.sessions {
		if as.QueueDepth() == 0 && !as.GeneratorActive() && as.LastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		log.Info().Int64("session_db_id", id).Msg("Reaping idle session")
		if m.sessionStore != nil {
			if err := m.sessionStore.CompleteSession(context.Background(), id, models.SessionStatusCompleted); err != nil {
				log.Warn().Err(err).Int64("session_db_id", id).Msg("Failed to expire idle session")
			}
		}
		m.DeleteSession(id)
	}
}
