// Package db provides GORM-based persistence for recall.
package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/recall/pkg/models"
)

// ObservationStoreSuite is a test suite for ObservationStore operations.
type ObservationStoreSuite struct {
	suite.Suite
	store        *Store
	sessions     *SessionStore
	observations *ObservationStore
	summaries    *SummaryStore
	ctx          context.Context
	sessionDBID  int64
}

func TestObservationStoreSuite(t *testing.T) {
	suite.Run(t, new(ObservationStoreSuite))
}

func (s *ObservationStoreSuite) SetupTest() {
	s.store = newTestStore(s.T())
	s.sessions = NewSessionStore(s.store)
	s.observations = NewObservationStore(s.store, nil)
	s.summaries = NewSummaryStore(s.store)
	s.ctx = context.Background()

	sess, err := s.sessions.CreateSession(s.ctx, "content-1", "proj", "")
	s.Require().NoError(err)
	s.sessionDBID = sess.ID
}

func (s *ObservationStoreSuite) storeOne(parsed *models.ParsedObservation) int64 {
	s.T().Helper()
	ids, err := s.observations.StoreResponse(
		s.ctx, s.sessionDBID, "mem-1", "proj",
		[]*models.ParsedObservation{parsed}, nil, 1, 100, "", "")
	s.Require().NoError(err)
	s.Require().Len(ids, 1)
	return ids[0]
}

// TestGetRecentObservations_UnscopedSpansProjects tests that an empty
// project argument means "all projects", not "the project named empty".
func (s *ObservationStoreSuite) TestGetRecentObservations_UnscopedSpansProjects() {
	s.storeOne(&models.ParsedObservation{Type: "discovery", Title: "first", Narrative: "n"})

	other, err := s.sessions.CreateSession(s.ctx, "content-2", "other-proj", "")
	s.Require().NoError(err)
	_, err = s.observations.StoreResponse(
		s.ctx, other.ID, "mem-2", "other-proj",
		[]*models.ParsedObservation{{Type: "discovery", Title: "second", Narrative: "n"}},
		nil, 1, 100, "", "")
	s.Require().NoError(err)

	scoped, err := s.observations.GetRecentObservations(s.ctx, "proj", 10)
	s.Require().NoError(err)
	s.Len(scoped, 1)

	all, err := s.observations.GetRecentObservations(s.ctx, "", 10)
	s.Require().NoError(err)
	s.Len(all, 2)
}

// TestStoreResponse_BeforeRegistrationFails tests the happens-before
// invariant: inserting against an unknown session raises the named error and
// persists nothing.
func (s *ObservationStoreSuite) TestStoreResponse_BeforeRegistrationFails() {
	_, err := s.observations.StoreResponse(
		s.ctx, 4242, "mem-ghost", "proj",
		[]*models.ParsedObservation{{Type: "discovery", Title: "orphan"}},
		&models.ParsedSummary{Request: "orphan"}, 1, 0, "", "")

	s.Require().ErrorIs(err, ErrSessionNotRegistered)
	s.Contains(err.Error(), "4242")

	var obsCount, sumCount int64
	s.Require().NoError(s.store.DB.Model(&Observation{}).Count(&obsCount).Error)
	s.Require().NoError(s.store.DB.Model(&SessionSummary{}).Count(&sumCount).Error)
	s.Zero(obsCount)
	s.Zero(sumCount)
}

// TestStoreResponse_RegistersAndPersists tests the two-phase write: the
// registration update and the inserts land together.
func (s *ObservationStoreSuite) TestStoreResponse_RegistersAndPersists() {
	ids, err := s.observations.StoreResponse(
		s.ctx, s.sessionDBID, "mem-1", "proj",
		[]*models.ParsedObservation{
			{Type: "bugfix", Title: "fixed queue race", Priority: "critical", Topics: []string{"queues"}},
			{Type: "discovery", Title: "notify channel drops"},
		},
		&models.ParsedSummary{Request: "investigate queue race", Learned: "channel was unbuffered"},
		2, 500, "main", "abc123")
	s.Require().NoError(err)
	s.Len(ids, 2)

	sess, err := s.sessions.GetSessionByID(s.ctx, s.sessionDBID)
	s.Require().NoError(err)
	s.Equal("mem-1", sess.MemorySessionID.String)

	got, err := s.observations.GetObservationsByIDs(s.ctx, ids, ObservationFilter{}, "date_asc", 0)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal("fixed queue race", got[0].Title.String)
	s.Equal(models.PriorityCritical, got[0].Priority)
	s.Equal("abc123", got[0].CommitSHA.String)
	s.Equal("main", got[0].Branch.String)
	s.Equal(models.PriorityInformational, got[1].Priority)

	sum, err := s.summaries.GetSummaryBySession(s.ctx, "mem-1")
	s.Require().NoError(err)
	s.Require().NotNil(sum)
	s.Equal("investigate queue race", sum.Request.String)
}

// TestStoreResponse_SummaryUpsert tests that a later summary replaces the
// earlier one instead of accumulating.
func (s *ObservationStoreSuite) TestStoreResponse_SummaryUpsert() {
	_, err := s.observations.StoreResponse(s.ctx, s.sessionDBID, "mem-1", "proj",
		nil, &models.ParsedSummary{Request: "first"}, 1, 0, "", "")
	s.Require().NoError(err)

	_, err = s.observations.StoreResponse(s.ctx, s.sessionDBID, "mem-1", "proj",
		nil, &models.ParsedSummary{Request: "second", Learned: "more"}, 2, 0, "", "")
	s.Require().NoError(err)

	var count int64
	s.Require().NoError(s.store.DB.Model(&SessionSummary{}).Count(&count).Error)
	s.Equal(int64(1), count)

	sum, err := s.summaries.GetSummaryBySession(s.ctx, "mem-1")
	s.Require().NoError(err)
	s.Equal("second", sum.Request.String)
	s.Equal("more", sum.Learned.String)
}

// TestGetObservationsByIDs_Filters tests the retrieval filters.
func (s *ObservationStoreSuite) TestGetObservationsByIDs_Filters() {
	idA := s.storeOne(&models.ParsedObservation{
		Type: "bugfix", Title: "a", Concepts: []string{"concurrency", "debugging"},
		FilesRead: []string{"internal/worker/session/manager.go"},
	})
	idB := s.storeOne(&models.ParsedObservation{
		Type: "decision", Title: "b", Concepts: []string{"architecture"},
		FilesModified: []string{"internal/db/store.go"},
	})
	all := []int64{idA, idB}

	got, err := s.observations.GetObservationsByIDs(s.ctx, all, ObservationFilter{Types: []string{"bugfix"}}, "", 0)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(idA, got[0].ID)

	got, err = s.observations.GetObservationsByIDs(s.ctx, all, ObservationFilter{Concepts: []string{"architecture", "testing"}}, "", 0)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(idB, got[0].ID)

	got, err = s.observations.GetObservationsByIDs(s.ctx, all, ObservationFilter{File: "session/manager"}, "", 0)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(idA, got[0].ID)

	got, err = s.observations.GetObservationsByIDs(s.ctx, all, ObservationFilter{Project: "other"}, "", 0)
	s.Require().NoError(err)
	s.Empty(got)
}

// TestGetObservationsByIDs_CommitAncestry tests provenance visibility:
// NULL commits always pass, others only when in the visible set.
func (s *ObservationStoreSuite) TestGetObservationsByIDs_CommitAncestry() {
	ids, err := s.observations.StoreResponse(s.ctx, s.sessionDBID, "mem-1", "proj",
		[]*models.ParsedObservation{{Type: "change", Title: "on branch"}}, nil, 1, 0, "feature", "sha-new")
	s.Require().NoError(err)
	branchID := ids[0]

	nullID := s.storeOne(&models.ParsedObservation{Type: "discovery", Title: "no provenance"})
	all := []int64{branchID, nullID}

	got, err := s.observations.GetObservationsByIDs(s.ctx, all,
		ObservationFilter{VisibleSHAs: []string{"sha-new", "sha-old"}}, "", 0)
	s.Require().NoError(err)
	s.Len(got, 2)

	got, err = s.observations.GetObservationsByIDs(s.ctx, all,
		ObservationFilter{VisibleSHAs: []string{"sha-old"}}, "", 0)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(nullID, got[0].ID)
}

// TestFilterCandidates tests AND-combined candidate filters.
func (s *ObservationStoreSuite) TestFilterCandidates() {
	idA := s.storeOne(&models.ParsedObservation{
		Type: "discovery", Title: "a", Topics: []string{"auth", "sessions"},
		Entities: []models.Entity{{Name: "TokenStore", Type: "type"}},
	})
	idB := s.storeOne(&models.ParsedObservation{
		Type: "discovery", Title: "b", Topics: []string{"auth"},
		Entities: []models.Entity{{Name: "TokenStore", Type: "service"}},
	})
	s.Require().NoError(s.observations.SetPinned(s.ctx, idB, true))

	got, err := s.observations.FilterCandidates(s.ctx, CandidateFilter{Topics: []string{"sessions"}}, 0)
	s.Require().NoError(err)
	s.Equal([]int64{idA}, got)

	got, err = s.observations.FilterCandidates(s.ctx, CandidateFilter{EntityName: "TokenStore"}, 0)
	s.Require().NoError(err)
	s.Len(got, 2)

	got, err = s.observations.FilterCandidates(s.ctx, CandidateFilter{EntityName: "TokenStore", EntityType: "service"}, 0)
	s.Require().NoError(err)
	s.Equal([]int64{idB}, got)

	got, err = s.observations.FilterCandidates(s.ctx, CandidateFilter{Topics: []string{"auth"}, PinnedOnly: true}, 0)
	s.Require().NoError(err)
	s.Equal([]int64{idB}, got)
}

// TestPinnedAndAccessCount tests the only two post-insert mutations.
func (s *ObservationStoreSuite) TestPinnedAndAccessCount() {
	id := s.storeOne(&models.ParsedObservation{Type: "discovery", Title: "x"})

	s.Require().NoError(s.observations.SetPinned(s.ctx, id, true))
	s.Require().NoError(s.observations.IncrementAccessCount(s.ctx, []int64{id}))
	s.Require().NoError(s.observations.IncrementAccessCount(s.ctx, []int64{id}))
	s.Require().NoError(s.observations.IncrementAccessCount(s.ctx, nil))

	got, err := s.observations.GetObservationsByIDs(s.ctx, []int64{id}, ObservationFilter{}, "", 0)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.True(got[0].Pinned)
	s.Equal(int64(2), got[0].AccessCount)

	s.Error(s.observations.SetPinned(s.ctx, 9999, true))
}

// TestSearchObservationsFTS tests keyword search over the FTS index.
func (s *ObservationStoreSuite) TestSearchObservationsFTS() {
	id := s.storeOne(&models.ParsedObservation{
		Type:      "discovery",
		Title:     "database locking under concurrent writers",
		Narrative: "busy_timeout lets writers wait out short contention",
	})
	s.storeOne(&models.ParsedObservation{Type: "discovery", Title: "unrelated frontend styling"})

	hits, err := s.observations.SearchObservationsFTS(s.ctx, "concurrent database locking", "proj", 10)
	s.Require().NoError(err)
	s.Require().NotEmpty(hits)
	s.Equal(id, hits[0].ID)

	// project filter excludes everything
	hits, err = s.observations.SearchObservationsFTS(s.ctx, "database", "other-proj", 10)
	s.Require().NoError(err)
	s.Empty(hits)
}

// TestCleanupOldObservations tests the per-project cap. Rows are inserted
// directly so the async post-insert cleanup cannot race the assertions.
func (s *ObservationStoreSuite) TestCleanupOldObservations() {
	total := MaxObservationsPerProject + 5
	for i := 0; i < total; i++ {
		row := &Observation{
			MemorySessionID: "mem-1",
			Project:         "proj",
			Type:            "discovery",
			CreatedAt:       "2026-08-01T00:00:00Z",
			CreatedAtEpoch:  int64(1000 + i),
		}
		s.Require().NoError(s.store.DB.Create(row).Error)
	}

	deleted, err := s.observations.CleanupOldObservations(s.ctx, "proj")
	s.Require().NoError(err)
	s.Len(deleted, 5)

	var count int64
	s.Require().NoError(s.store.DB.Model(&Observation{}).Count(&count).Error)
	s.Equal(int64(MaxObservationsPerProject), count)

	// the oldest rows are the ones that go
	var minEpoch int64
	s.Require().NoError(s.store.DB.Model(&Observation{}).Select("MIN(created_at_epoch)").Scan(&minEpoch).Error)
	s.Equal(int64(1005), minEpoch)
}
