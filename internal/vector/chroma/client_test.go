// Package chroma provides the Chroma sibling-service integration for recall.
package chroma

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/recall/internal/vector"
)

func TestClient_QueryParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/collections/recall/query", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"ids": [["obs_1_narrative", "obs_2_fact_0"]],
			"documents": [["narrative text", "fact text"]],
			"metadatas": [[{"sqlite_id": 1, "doc_type": "observation"}, {"sqlite_id": 2, "doc_type": "observation"}]],
			"distances": [[0.1, 0.4]]
		}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "recall")
	results, err := client.Query(context.Background(), "race condition", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "obs_1_narrative", results[0].ID)
	assert.Equal(t, "narrative text", results[0].Content)
	assert.InDelta(t, 0.1, results[0].Distance, 1e-12)
	assert.Equal(t, float64(2), results[1].Metadata["sqlite_id"])
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "recall")
	err := client.AddDocuments(context.Background(), []vector.Document{{ID: "obs_1_narrative", Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_FailsFastOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "recall")
	err := client.DeleteDocuments(context.Background(), []string{"obs_1_narrative"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not retry")
}

func TestClient_BoundedAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "recall")
	err := client.AddDocuments(context.Background(), []vector.Document{{ID: "x", Content: "y"}})
	require.Error(t, err)
	assert.Equal(t, int32(maxAttempts), calls.Load())
}

func TestClient_IsConnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/heartbeat", r.URL.Path)
		_, _ = w.Write([]byte(`{"nanosecond heartbeat": 1}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "recall")
	assert.True(t, client.IsConnected())

	srv.Close()
	assert.False(t, client.IsConnected())
}

func TestClient_NoopOnEmptyBatches(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "recall")
	assert.NoError(t, client.AddDocuments(context.Background(), nil))
	assert.NoError(t, client.DeleteDocuments(context.Background(), nil))
}
