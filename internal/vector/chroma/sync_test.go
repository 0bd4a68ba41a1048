// Package chroma provides the Chroma sibling-service integration for recall.
package chroma

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/recall/internal/vector"
	"github.com/thebtf/recall/pkg/models"
)

// fakeClient records calls for assertions.
type fakeClient struct {
	added   []vector.Document
	deleted []string
}

func (f *fakeClient) AddDocuments(ctx context.Context, docs []vector.Document) error {
	f.added = append(f.added, docs...)
	return nil
}

func (f *fakeClient) DeleteDocuments(ctx context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

func (f *fakeClient) Query(ctx context.Context, query string, limit int, where map[string]interface{}) ([]vector.QueryResult, error) {
	return nil, nil
}

func (f *fakeClient) IsConnected() bool { return true }
func (f *fakeClient) Close() error      { return nil }

// SyncSuite is a test suite for vector sync formatting.
type SyncSuite struct {
	suite.Suite
	client *fakeClient
	sync   *Sync
	ctx    context.Context
}

func TestSyncSuite(t *testing.T) {
	suite.Run(t, new(SyncSuite))
}

func (s *SyncSuite) SetupTest() {
	s.client = &fakeClient{}
	s.sync = NewSync(s.client)
	s.ctx = context.Background()
}

// TestSyncObservation_GranularDocs tests that narrative and facts become
// separate documents sharing the parent metadata.
func (s *SyncSuite) TestSyncObservation_GranularDocs() {
	obs := &models.Observation{
		ID:              42,
		MemorySessionID: "mem-1",
		Project:         "recall",
		Type:            "bugfix",
		Title:           sql.NullString{String: "fixed race", Valid: true},
		Narrative:       sql.NullString{String: "the notify channel dropped signals", Valid: true},
		Facts:           models.JSONStringArray{"channel is buffered now", "loop drains before exit"},
		Topics:          models.JSONStringArray{"session-engine"},
		Priority:        models.PriorityCritical,
		CreatedAtEpoch:  1000,
	}

	s.Require().NoError(s.sync.SyncObservation(s.ctx, obs))
	s.Require().Len(s.client.added, 3)

	s.Equal("obs_42_narrative", s.client.added[0].ID)
	s.Equal("obs_42_fact_0", s.client.added[1].ID)
	s.Equal("obs_42_fact_1", s.client.added[2].ID)

	for _, doc := range s.client.added {
		s.Equal(int64(42), doc.Metadata["sqlite_id"])
		s.Equal("observation", doc.Metadata["doc_type"])
		s.Equal("recall", doc.Metadata["project"])
		s.Equal("critical", doc.Metadata["priority"])
		s.Equal("session-engine", doc.Metadata["topics"])
	}
	s.Equal("narrative", s.client.added[0].Metadata["field_type"])
	s.Equal(0, s.client.added[1].Metadata["fact_index"])
}

// TestSyncObservation_Empty tests that content-free observations sync nothing.
func (s *SyncSuite) TestSyncObservation_Empty() {
	s.Require().NoError(s.sync.SyncObservation(s.ctx, &models.Observation{ID: 1}))
	s.Empty(s.client.added)
}

// TestSyncObservation_FactCap tests the bounded fact id space.
func (s *SyncSuite) TestSyncObservation_FactCap() {
	facts := make([]string, maxFactsPerObservation+5)
	for i := range facts {
		facts[i] = "fact"
	}
	obs := &models.Observation{ID: 7, Facts: models.JSONStringArray(facts)}

	s.Require().NoError(s.sync.SyncObservation(s.ctx, obs))
	s.Len(s.client.added, maxFactsPerObservation)
}

// TestSyncSummary_PerFieldDocs tests summary field documents.
func (s *SyncSuite) TestSyncSummary_PerFieldDocs() {
	summary := &models.SessionSummary{
		ID:              9,
		MemorySessionID: "mem-1",
		Project:         "recall",
		Request:         sql.NullString{String: "investigate race", Valid: true},
		Learned:         sql.NullString{String: "channel was unbuffered", Valid: true},
		CreatedAtEpoch:  1000,
	}

	s.Require().NoError(s.sync.SyncSummary(s.ctx, summary))
	s.Require().Len(s.client.added, 2)
	s.Equal("sum_9_request", s.client.added[0].ID)
	s.Equal("sum_9_learned", s.client.added[1].ID)
	s.Equal("session_summary", s.client.added[0].Metadata["doc_type"])
}

// TestDeleteObservations_EnumeratesIDSpace tests deletion without lookups.
func (s *SyncSuite) TestDeleteObservations_EnumeratesIDSpace() {
	s.Require().NoError(s.sync.DeleteObservations(s.ctx, []int64{3}))

	s.Len(s.client.deleted, maxFactsPerObservation+1)
	s.Contains(s.client.deleted, "obs_3_narrative")
	s.Contains(s.client.deleted, "obs_3_fact_0")
	s.Contains(s.client.deleted, "obs_3_fact_19")
}

// TestExtractObservationIDs tests dedup across granular documents.
func (s *SyncSuite) TestExtractObservationIDs() {
	results := []vector.QueryResult{
		{ID: "obs_5_fact_1", Metadata: map[string]interface{}{"sqlite_id": float64(5), "doc_type": "observation"}},
		{ID: "obs_2_narrative", Metadata: map[string]interface{}{"sqlite_id": float64(2), "doc_type": "observation"}},
		{ID: "obs_5_narrative", Metadata: map[string]interface{}{"sqlite_id": float64(5), "doc_type": "observation"}},
		{ID: "sum_9_request", Metadata: map[string]interface{}{"sqlite_id": float64(9), "doc_type": "session_summary"}},
		{ID: "junk", Metadata: map[string]interface{}{}},
	}

	s.Equal([]int64{5, 2}, ExtractObservationIDs(results))
}

// TestBestDistancePerObservation tests that the closest granular hit wins.
func (s *SyncSuite) TestBestDistancePerObservation() {
	results := []vector.QueryResult{
		{Metadata: map[string]interface{}{"sqlite_id": float64(5), "doc_type": "observation"}, Distance: 0.4},
		{Metadata: map[string]interface{}{"sqlite_id": float64(2), "doc_type": "observation"}, Distance: 0.3},
		{Metadata: map[string]interface{}{"sqlite_id": float64(5), "doc_type": "observation"}, Distance: 0.1},
	}

	order, best := BestDistancePerObservation(results)
	s.Equal([]int64{5, 2}, order)
	s.InDelta(0.1, best[5], 1e-12)
	s.InDelta(0.3, best[2], 1e-12)
}

// TestBuildWhereFilter tests filter construction.
func (s *SyncSuite) TestBuildWhereFilter() {
	s.Equal(map[string]interface{}{"doc_type": "observation", "project": "p"},
		BuildWhereFilter(DocTypeObservation, "p"))
	s.Equal(map[string]interface{}{"project": "p"}, BuildWhereFilter("", "p"))
	s.Empty(BuildWhereFilter("", ""))
}
