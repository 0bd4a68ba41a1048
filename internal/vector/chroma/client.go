// Package chroma provides the Chroma sibling-service integration for recall.
package chroma

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/internal/vector"
)

// Retry tuning for the sibling service. The service runs on the same host,
// so failures are short-lived restarts rather than network partitions.
const (
	maxAttempts    = 3
	initialBackoff = 200 * time.Millisecond
	requestTimeout = 10 * time.Second
)

// Client talks to a Chroma-compatible HTTP service.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

// NewClient creates a client against the given base URL (e.g.
// "http://127.0.0.1:8900") and collection name. The collection is created
// lazily on first write.
func NewClient(baseURL, collection string) *Client {
	return &Client{
		baseURL:    baseURL,
		collection: collection,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// doWithRetry issues a request with bounded retries and exponential backoff.
// Only transport errors and 5xx responses retry; 4xx responses fail fast.
func (c *Client) doWithRetry(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			log.Debug().Err(err).Str("path", path).Int("attempt", attempt).Msg("Vector service request failed")
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("vector service %s: status %d", path, resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("vector service %s: status %d: %s", path, resp.StatusCode, respBody)
		}
		return respBody, nil
	}

	return nil, fmt.Errorf("vector service unavailable after %d attempts: %w", maxAttempts, lastErr)
}

// AddDocuments upserts documents into the collection.
func (c *Client) AddDocuments(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	ids := make([]string, 0, len(docs))
	contents := make([]string, 0, len(docs))
	metadatas := make([]map[string]interface{}, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
		contents = append(contents, d.Content)
		metadatas = append(metadatas, d.Metadata)
	}

	_, err := c.doWithRetry(ctx, http.MethodPost,
		"/api/v1/collections/"+c.collection+"/upsert",
		map[string]interface{}{
			"ids":       ids,
			"documents": contents,
			"metadatas": metadatas,
		})
	return err
}

// DeleteDocuments removes documents by id. Unknown ids are ignored by the
// service, which is what the bounded id-space deletion relies on.
func (c *Client) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.doWithRetry(ctx, http.MethodPost,
		"/api/v1/collections/"+c.collection+"/delete",
		map[string]interface{}{"ids": ids})
	return err
}

type queryResponse struct {
	IDs       [][]string                 `json:"ids"`
	Documents [][]string                 `json:"documents"`
	Metadatas [][]map[string]interface{} `json:"metadatas"`
	Distances [][]float64                `json:"distances"`
}

// Query performs a similarity search over the collection.
func (c *Client) Query(ctx context.Context, query string, limit int, where map[string]interface{}) ([]vector.QueryResult, error) {
	payload := map[string]interface{}{
		"query_texts": []string{query},
		"n_results":   limit,
		"include":     []string{"documents", "metadatas", "distances"},
	}
	if len(where) > 0 {
		payload["where"] = where
	}

	body, err := c.doWithRetry(ctx, http.MethodPost,
		"/api/v1/collections/"+c.collection+"/query", payload)
	if err != nil {
		return nil, err
	}

	var parsed queryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	if len(parsed.IDs) == 0 {
		return nil, nil
	}

	results := make([]vector.QueryResult, 0, len(parsed.IDs[0]))
	for i, id := range parsed.IDs[0] {
		r := vector.QueryResult{ID: id}
		if len(parsed.Documents) > 0 && i < len(parsed.Documents[0]) {
			r.Content = parsed.Documents[0][i]
		}
		if len(parsed.Metadatas) > 0 && i < len(parsed.Metadatas[0]) {
			r.Metadata = parsed.Metadatas[0][i]
		}
		if len(parsed.Distances) > 0 && i < len(parsed.Distances[0]) {
			r.Distance = parsed.Distances[0][i]
		}
		results = append(results, r)
	}
	return results, nil
}

// IsConnected probes the service heartbeat.
func (c *Client) IsConnected() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/heartbeat", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases resources. The HTTP client holds no persistent state.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
