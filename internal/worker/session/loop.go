package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/pkg/models"
)

// MaxGeneratorRestarts caps unplanned subprocess restarts per session before
// the session is marked failed. Managers built without an explicit cap use
// this value.
const MaxGeneratorRestarts = 3

// maxRestarts resolves the effective restart cap for this manager.
func (m *Manager) maxRestarts() int64 {
	if m.restartCap > 0 {
		return m.restartCap
	}
	return MaxGeneratorRestarts
}

// Processor handles one dequeued message against the memory subprocess.
type Processor interface {
	Process(ctx context.Context, as *ActiveSession, msg PendingMessage) error
}

// RunDispatch is the manager's consumer loop. It wakes on ProcessNotify,
// finds sessions with pending work and no running generator, and drains each
// in its own goroutine. One generator per session at a time; messages within
// a session stay strictly FIFO.
func (m *Manager) RunDispatch(ctx context.Context, proc Processor) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.ProcessNotify:
		}

		for _, as := range m.GetAllSessions() {
			if as.QueueDepth() == 0 {
				continue
			}
			if !as.generatorActive.CompareAndSwap(false, true) {
				continue
			}
			go m.drainSession(as, proc)
		}
	}
}

// drainSession processes a session's queue until empty. The caller has
// already claimed the generator flag.
func (m *Manager) drainSession(as *ActiveSession, proc Processor) {
	defer as.SetGeneratorActive(false)

	for {
		msg, ok := as.Dequeue()
		if !ok {
			// CRITICAL: install the replacement context before cancelling the
			// old one, so nothing ever holds a cancelled current handle.
			as.RenewContext(m.ctx)
			return
		}

		waited := time.Since(msg.EnqueuedAt)
		err := proc.Process(as.Context(), as, msg)
		if err == nil {
			log.Debug().
				Int64("session_db_id", as.SessionDBID).
				Dur("queued_for", waited).
				Msg("Message processed")
			continue
		}

		if as.Context().Err() != nil {
			// Session cancelled underneath us; drop the remainder.
			return
		}

		restarts := as.RecordRestart()
		log.Warn().Err(err).
			Int64("session_db_id", as.SessionDBID).
			Int64("restarts", restarts).
			Msg("Generator failed, restarting")
		if m.onGeneratorRestart != nil {
			m.onGeneratorRestart(as.SessionDBID, err)
		}

		if restarts >= m.maxRestarts() {
			m.failSession(as)
			return
		}

		// Fresh context for the restarted generator; the failed message is
		// not replayed, its content is gone with the crashed subprocess.
		as.RenewContext(m.ctx)
	}
}

func (m *Manager) failSession(as *ActiveSession) {
	log.Error().
		Int64("session_db_id", as.SessionDBID).
		Int64("restarts", as.RestartCount()).
		Msg("Session exceeded restart budget, marking failed")

	if m.sessionStore != nil {
		if err := m.sessionStore.CompleteSession(context.Background(), as.SessionDBID, models.SessionStatusFailed); err != nil {
			log.Warn().Err(err).Int64("session_db_id", as.SessionDBID).Msg("Failed to persist failed status")
		}
	}
	m.DeleteSession(as.SessionDBID)
}
