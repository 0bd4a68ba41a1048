package hooks

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// httpClient is shared by all worker calls. Hooks run inline with the
// conversation, so requests stay short.
var httpClient = &http.Client{Timeout: 5 * time.Second}

// GET calls a worker endpoint and decodes the JSON object response.
func GET(port int, path string) (map[string]interface{}, error) {
	resp, err := httpClient.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, path))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeResponse(resp)
}

// POST sends a JSON payload to a worker endpoint and decodes the response.
func POST(port int, path string, payload interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Post(
		fmt.Sprintf("http://127.0.0.1:%d%s", port, path),
		"application/json",
		bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeResponse(resp)
}

func decodeResponse(resp *http.Response) (map[string]interface{}, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := result["error"].(string)
		if msg == "" {
			msg = resp.Status
		}
		return result, fmt.Errorf("worker returned %d: %s", resp.StatusCode, msg)
	}
	return result, nil
}
