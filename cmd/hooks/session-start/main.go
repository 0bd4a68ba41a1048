// Package main provides the session-start hook: it registers the session
// with the worker and injects stored project memory into the conversation.
package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/thebtf/recall/pkg/hooks"
)

// Input is the hook input for a session-start event.
type Input struct {
	hooks.BaseInput
	Source string `json:"source"` // "startup", "resume", "clear", "compact"
}

func main() {
	hooks.RunHook("SessionStart", handleSessionStart)
}

func handleSessionStart(ctx *hooks.HookContext, input *Input) (string, error) {
	if _, err := hooks.POST(ctx.Port, "/api/sessions/init", map[string]interface{}{
		"content_session_id": ctx.SessionID,
		"project":            ctx.Project,
	}); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("/api/context/inject?project=%s&session_id=%s",
		url.QueryEscape(ctx.Project),
		url.QueryEscape(ctx.SessionID))

	result, err := hooks.GET(ctx.Port, endpoint)
	if err != nil {
		// Missing context never blocks a session from starting.
		fmt.Fprintf(os.Stderr, "[session-start] Warning: context fetch failed: %v\n", err)
		return "", nil
	}

	contextBlock, _ := result["context"].(string)
	count, _ := result["observation_count"].(float64)
	if contextBlock == "" || count == 0 {
		return "", nil
	}

	tokens, _ := result["token_count"].(float64)
	fmt.Fprintf(os.Stderr, "[recall] Injecting %d memories (%d tokens)\n", int(count), int(tokens))

	return contextBlock, nil
}
