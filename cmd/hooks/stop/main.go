// Package main provides the stop hook: when a conversation turn ends it asks
// the worker to summarize the session, passing the closing exchange from the
// transcript as context.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/thebtf/recall/pkg/hooks"
)

// Input is the hook input for a stop event.
type Input struct {
	hooks.BaseInput
	StopHookActive bool   `json:"stop_hook_active"`
	TranscriptPath string `json:"transcript_path"`
}

// transcriptMessage is one line of the transcript JSONL file.
type transcriptMessage struct {
	Type    string `json:"type"`
	Message struct {
		Role    string      `json:"role"`
		Content interface{} `json:"content"` // string or content-block array
	} `json:"message"`
}

func main() {
	hooks.RunHook("Stop", handleStop)
}

func handleStop(ctx *hooks.HookContext, input *Input) (string, error) {
	result, err := hooks.GET(ctx.Port, "/api/sessions/resolve?content_session_id="+ctx.SessionID)
	if err != nil {
		// Nothing was ever observed for this session; nothing to summarize.
		return "", nil
	}
	sessionID, ok := result["session_id"].(float64)
	if !ok {
		return "", nil
	}

	lastUser, lastAssistant := "", ""
	if input.TranscriptPath != "" {
		lastUser, lastAssistant = parseTranscript(input.TranscriptPath)
	}

	_, err = hooks.POST(ctx.Port, fmt.Sprintf("/api/sessions/%d/summarize", int64(sessionID)), map[string]interface{}{
		"last_user_message":      lastUser,
		"last_assistant_message": lastAssistant,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "[stop] Warning: summary request failed: %v\n", err)
	}
	return "", nil
}

// parseTranscript scans the transcript and keeps the last user and
// assistant messages. Unreadable files yield empty strings; the summary
// still runs, just without closing context.
func parseTranscript(path string) (lastUser, lastAssistant string) {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = strings.Replace(path, "~", home, 1)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		var msg transcriptMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}

		text := extractText(msg.Message.Content)
		if text == "" {
			continue
		}

		switch msg.Message.Role {
		case "user":
			lastUser = text
		case "assistant":
			lastAssistant = text
		}
	}

	return lastUser, lastAssistant
}

// extractText flattens message content, which is either a bare string or an
// array of typed content blocks.
func extractText(content interface{}) string {
	switch v := content.(type) {
	case string:
		return v
	case []interface{}:
		var texts []string
		for _, item := range v {
			block, ok := item.(map[string]interface{})
			if !ok || block["type"] != "text" {
				continue
			}
			if text, ok := block["text"].(string); ok {
				texts = append(texts, text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}
