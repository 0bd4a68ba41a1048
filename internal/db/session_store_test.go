// Package db provides GORM-based persistence for recall.
package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/recall/pkg/models"
)

// SessionStoreSuite is a test suite for SessionStore operations.
type SessionStoreSuite struct {
	suite.Suite
	store    *Store
	sessions *SessionStore
	ctx      context.Context
}

func TestSessionStoreSuite(t *testing.T) {
	suite.Run(t, new(SessionStoreSuite))
}

func (s *SessionStoreSuite) SetupTest() {
	s.store = newTestStore(s.T())
	s.sessions = NewSessionStore(s.store)
	s.ctx = context.Background()
}

// TestCreateSession_Idempotent tests that registration under the same
// content session id returns the same row.
func (s *SessionStoreSuite) TestCreateSession_Idempotent() {
	first, err := s.sessions.CreateSession(s.ctx, "content-1", "proj", "fix the login bug")
	s.Require().NoError(err)
	s.Greater(first.ID, int64(0))
	s.Equal("content-1", first.ContentSessionID)
	s.False(first.MemorySessionID.Valid)
	s.Equal(models.SessionStatusActive, first.Status)

	second, err := s.sessions.CreateSession(s.ctx, "content-1", "proj", "")
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)
	s.Equal("fix the login bug", second.UserPrompt.String)
}

// TestCreateSession_RefreshesPromptOnContinuation tests that a later prompt
// replaces the stored one.
func (s *SessionStoreSuite) TestCreateSession_RefreshesPromptOnContinuation() {
	_, err := s.sessions.CreateSession(s.ctx, "content-1", "proj", "first prompt")
	s.Require().NoError(err)

	updated, err := s.sessions.CreateSession(s.ctx, "content-1", "proj", "second prompt")
	s.Require().NoError(err)
	s.Equal("second prompt", updated.UserPrompt.String)
}

// TestUpdateMemorySessionID tests the registration step.
func (s *SessionStoreSuite) TestUpdateMemorySessionID() {
	sess, err := s.sessions.CreateSession(s.ctx, "content-1", "proj", "")
	s.Require().NoError(err)

	s.Require().NoError(s.sessions.UpdateMemorySessionID(s.ctx, sess.ID, "mem-1"))

	loaded, err := s.sessions.GetSessionByID(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.True(loaded.MemorySessionID.Valid)
	s.Equal("mem-1", loaded.MemorySessionID.String)

	// Re-registering the same id is a no-op.
	s.NoError(s.sessions.UpdateMemorySessionID(s.ctx, sess.ID, "mem-1"))

	// A different id is an invariant violation.
	err = s.sessions.UpdateMemorySessionID(s.ctx, sess.ID, "mem-2")
	s.ErrorIs(err, ErrMemorySessionMismatch)
}

// TestUpdateMemorySessionID_MissingSession tests the not-found error names
// the session id.
func (s *SessionStoreSuite) TestUpdateMemorySessionID_MissingSession() {
	err := s.sessions.UpdateMemorySessionID(s.ctx, 9999, "mem-1")
	s.ErrorIs(err, ErrSessionNotRegistered)
	s.Contains(err.Error(), "9999")
}

// TestIncrementPromptCounter tests counter progression.
func (s *SessionStoreSuite) TestIncrementPromptCounter() {
	_, err := s.sessions.CreateSession(s.ctx, "content-1", "proj", "")
	s.Require().NoError(err)

	n, err := s.sessions.IncrementPromptCounter(s.ctx, "content-1")
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	n, err = s.sessions.IncrementPromptCounter(s.ctx, "content-1")
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	_, err = s.sessions.IncrementPromptCounter(s.ctx, "missing")
	s.ErrorIs(err, ErrSessionNotFound)
}

// TestCompleteSession tests terminal transitions.
func (s *SessionStoreSuite) TestCompleteSession() {
	sess, err := s.sessions.CreateSession(s.ctx, "content-1", "proj", "")
	s.Require().NoError(err)

	s.Require().NoError(s.sessions.CompleteSession(s.ctx, sess.ID, models.SessionStatusCompleted))

	loaded, err := s.sessions.GetSessionByID(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(models.SessionStatusCompleted, loaded.Status)
	s.True(loaded.CompletedAt.Valid)

	// Terminal states are sticky.
	s.Require().NoError(s.sessions.CompleteSession(s.ctx, sess.ID, models.SessionStatusFailed))
	loaded, err = s.sessions.GetSessionByID(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(models.SessionStatusCompleted, loaded.Status)

	s.Error(s.sessions.CompleteSession(s.ctx, sess.ID, models.SessionStatusActive))
	s.ErrorIs(s.sessions.CompleteSession(s.ctx, 9999, models.SessionStatusFailed), ErrSessionNotFound)
}

// TestGetAllProjects tests distinct project listing.
func (s *SessionStoreSuite) TestGetAllProjects() {
	_, err := s.sessions.CreateSession(s.ctx, "c1", "beta", "")
	s.Require().NoError(err)
	_, err = s.sessions.CreateSession(s.ctx, "c2", "alpha", "")
	s.Require().NoError(err)
	_, err = s.sessions.CreateSession(s.ctx, "c3", "alpha", "")
	s.Require().NoError(err)

	projects, err := s.sessions.GetAllProjects(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"alpha", "beta"}, projects)
}

// TestGetSessionByContentID tests lookup by the external key.
func (s *SessionStoreSuite) TestGetSessionByContentID() {
	created, err := s.sessions.CreateSession(s.ctx, "content-1", "proj", "")
	s.Require().NoError(err)

	loaded, err := s.sessions.GetSessionByContentID(s.ctx, "content-1")
	s.Require().NoError(err)
	s.Require().NotNil(loaded)
	s.Equal(created.ID, loaded.ID)

	missing, err := s.sessions.GetSessionByContentID(s.ctx, "nope")
	s.Require().ErrorIs(err, ErrSessionNotFound)
	s.Nil(missing)
}

// TestGetSessionByID_Missing pins the not-found sentinel; callers map it to
// a 404 and must never see a nil row with a nil error.
func (s *SessionStoreSuite) TestGetSessionByID_Missing() {
	missing, err := s.sessions.GetSessionByID(s.ctx, 9999)
	s.Require().ErrorIs(err, ErrSessionNotFound)
	s.Nil(missing)
}
