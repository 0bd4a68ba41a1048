// Package session provides session lifecycle management for recall.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Session lifecycle tuning.
const (
	// SessionTimeout is how long a session may sit idle before the cleanup
	// pass reaps it.
	SessionTimeout = 30 * time.Minute

	// CleanupInterval is how often idle sessions are reaped.
	CleanupInterval = 5 * time.Minute
)

// MessageType distinguishes queued work items.
type MessageType int

const (
	MessageTypeObservation MessageType = iota
	MessageTypeSummarize
)

// ObservationData carries one tool event into the agent loop.
type ObservationData struct {
	ToolName   string
	ToolInput  interface{}
	ToolOutput interface{}

	PromptNumber int
	CWD          string

	// Provenance captured at enqueue time; copied onto the ActiveSession at
	// dequeue so persisted observations carry the latest known values.
	Branch    string
	CommitSHA string
}

// SummarizeData carries a summarization request into the agent loop.
type SummarizeData struct {
	LastUserMessage      string
	LastAssistantMessage string
}

// PendingMessage is one queued unit of work for a session's agent loop.
type PendingMessage struct {
	Type        MessageType
	Observation *ObservationData
	Summarize   *SummarizeData
	EnqueuedAt  time.Time
}

// ActiveSession is the in-memory runtime state of one session. Queue access
// goes through messageMu; the consumer side is single-goroutine (the agent
// loop), so everything it alone touches needs no lock.
type ActiveSession struct {
	SessionDBID      int64
	ContentSessionID string
	Project          string
	UserPrompt       string
	LastPromptNumber int
	StartTime        time.Time

	// MemorySessionID is captured from the first subprocess message and is
	// only ever written by the agent loop.
	MemorySessionID string

	// Last provenance observed on a dequeued message.
	Branch    string
	CommitSHA string

	CumulativeInputTokens  int64
	CumulativeOutputTokens int64

	pendingMessages []PendingMessage
	earliestPending time.Time
	lastActivity    time.Time
	messageMu       sync.Mutex

	notify chan struct{}

	ctxMu  sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	generatorActive atomic.Bool
	restartCount    atomic.Int64
}

// NewActiveSession creates standalone runtime state for one session, outside
// any manager. Callers that want registry semantics use Manager.Register.
func NewActiveSession(parent context.Context, sessionDBID int64, contentSessionID, project, userPrompt string) *ActiveSession {
	return newActiveSession(parent, sessionDBID, contentSessionID, project, userPrompt)
}

// newActiveSession creates the runtime state for one session.
func newActiveSession(parent context.Context, sessionDBID int64, contentSessionID, project, userPrompt string) *ActiveSession {
	ctx, cancel := context.WithCancel(parent)
	return &ActiveSession{
		SessionDBID:      sessionDBID,
		ContentSessionID: contentSessionID,
		Project:          project,
		UserPrompt:       userPrompt,
		StartTime:        time.Now(),
		lastActivity:     time.Now(),
		pendingMessages:  make([]PendingMessage, 0),
		notify:           make(chan struct{}, 1),
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Enqueue appends a message to the session queue. The transition from empty
// to non-empty records the earliest-pending timestamp, and the notify channel
// gets a non-blocking signal.
func (as *ActiveSession) Enqueue(msg PendingMessage) {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}

	as.messageMu.Lock()
	if len(as.pendingMessages) == 0 {
		as.earliestPending = msg.EnqueuedAt
	}
	as.pendingMessages = append(as.pendingMessages, msg)
	as.lastActivity = time.Now()
	as.messageMu.Unlock()

	select {
	case as.notify <- struct{}{}:
	default:
	}
}

// Dequeue pops exactly one message in FIFO order. Provenance on observation
// messages is copied onto the session before it is returned.
func (as *ActiveSession) Dequeue() (PendingMessage, bool) {
	as.messageMu.Lock()
	defer as.messageMu.Unlock()

	if len(as.pendingMessages) == 0 {
		return PendingMessage{}, false
	}

	msg := as.pendingMessages[0]
	as.pendingMessages = as.pendingMessages[1:]
	if len(as.pendingMessages) == 0 {
		as.earliestPending = time.Time{}
	}
	as.lastActivity = time.Now()

	if msg.Type == MessageTypeObservation && msg.Observation != nil {
		if msg.Observation.Branch != "" {
			as.Branch = msg.Observation.Branch
		}
		if msg.Observation.CommitSHA != "" {
			as.CommitSHA = msg.Observation.CommitSHA
		}
		if msg.Observation.PromptNumber > 0 {
			as.LastPromptNumber = msg.Observation.PromptNumber
		}
	}

	return msg, true
}

// QueueDepth returns the number of pending messages.
func (as *ActiveSession) QueueDepth() int {
	as.messageMu.Lock()
	defer as.messageMu.Unlock()
	return len(as.pendingMessages)
}

// EarliestPending returns when the oldest queued message arrived, or the zero
// time when the queue is empty.
func (as *ActiveSession) EarliestPending() time.Time {
	as.messageMu.Lock()
	defer as.messageMu.Unlock()
	return as.earliestPending
}

// LastActivity returns the last time the queue moved.
func (as *ActiveSession) LastActivity() time.Time {
	as.messageMu.Lock()
	defer as.messageMu.Unlock()
	return as.lastActivity
}

// Notify exposes the wakeup channel to the agent loop.
func (as *ActiveSession) Notify() <-chan struct{} {
	return as.notify
}

// Context returns the current cancellation context.
func (as *ActiveSession) Context() context.Context {
	as.ctxMu.Lock()
	defer as.ctxMu.Unlock()
	return as.ctx
}

// RenewContext installs a fresh cancellation context after a generator
// completes. CRITICAL: the new context is created before the old one is
// cancelled, so no caller ever observes a cancelled current handle.
func (as *ActiveSession) RenewContext(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)

	as.ctxMu.Lock()
	oldCancel := as.cancel
	as.ctx = ctx
	as.cancel = cancel
	as.ctxMu.Unlock()

	oldCancel()
}

// Cancel aborts the session's in-flight work.
func (as *ActiveSession) Cancel() {
	as.ctxMu.Lock()
	cancel := as.cancel
	as.ctxMu.Unlock()
	cancel()
}

// RestartCount returns how many times the subprocess restarted unplanned.
func (as *ActiveSession) RestartCount() int64 {
	return as.restartCount.Load()
}

// RecordRestart bumps the restart counter and returns the new value.
func (as *ActiveSession) RecordRestart() int64 {
	return as.restartCount.Add(1)
}

// GeneratorActive reports whether the subprocess generator is running.
func (as *ActiveSession) GeneratorActive() bool {
	return as.generatorActive.Load()
}

// SetGeneratorActive flips the generator flag.
func (as *ActiveSession) SetGeneratorActive(active bool) {
	as.generatorActive.Store(active)
}
