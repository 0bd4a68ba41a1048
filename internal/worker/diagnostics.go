package worker

import (
	"sync"
	"time"

	"github.com/thebtf/recall/pkg/similarity"
)

// errorLogCapacity bounds the in-memory diagnostics ring.
const errorLogCapacity = 50

// recurringSimilarityThreshold groups error messages that differ only in
// identifiers (ports, paths, ids) into one recurring pattern.
const recurringSimilarityThreshold = 0.6

// ErrorEntry is one recorded failure.
type ErrorEntry struct {
	Message   string `json:"message"`
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp"`
}

// RecurringPattern is a group of similar recent errors.
type RecurringPattern struct {
	Sample string `json:"sample"`
	Count  int    `json:"count"`
}

// errorLog keeps the most recent failures in a fixed-size ring so /api/stats
// can report them without touching the database.
type errorLog struct {
	mu      sync.Mutex
	entries []ErrorEntry
	next    int
	filled  bool
}

func newErrorLog() *errorLog {
	return &errorLog{entries: make([]ErrorEntry, errorLogCapacity)}
}

// Record appends one failure, overwriting the oldest once the ring is full.
func (l *errorLog) Record(source string, err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = ErrorEntry{
		Message:   err.Error(),
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
	}
	l.next++
	if l.next == len(l.entries) {
		l.next = 0
		l.filled = true
	}
}

// Recent returns the recorded errors, newest first.
func (l *errorLog) Recent() []ErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.filled {
		size = len(l.entries)
	}
	out := make([]ErrorEntry, 0, size)
	for i := 1; i <= size; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}

// RecurringPatterns groups the recent errors by message similarity and
// returns every group seen more than once, largest first.
func (l *errorLog) RecurringPatterns() []RecurringPattern {
	recent := l.Recent()

	var patterns []RecurringPattern
	for _, entry := range recent {
		matched := false
		for i := range patterns {
			if similarity.SimilarTexts(patterns[i].Sample, entry.Message, recurringSimilarityThreshold) {
				patterns[i].Count++
				matched = true
				break
			}
		}
		if !matched {
			patterns = append(patterns, RecurringPattern{Sample: entry.Message, Count: 1})
		}
	}

	out := patterns[:0]
	for _, p := range patterns {
		if p.Count > 1 {
			out = append(out, p)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Count > out[j-1].Count; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
