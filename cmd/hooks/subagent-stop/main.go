// Package main provides the subagent-stop hook: when a subagent finishes it
// nudges the worker so observations queued during the subagent run drain
// without waiting for the next tool event.
package main

import (
	"fmt"
	"os"

	"github.com/thebtf/recall/pkg/hooks"
)

// Input is the hook input for a subagent-stop event.
type Input struct {
	hooks.BaseInput
	StopHookActive bool `json:"stop_hook_active"`
}

func main() {
	hooks.RunHook("SubagentStop", handleSubagentStop)
}

func handleSubagentStop(ctx *hooks.HookContext, input *Input) (string, error) {
	result, err := hooks.GET(ctx.Port, "/api/sessions/resolve?content_session_id="+ctx.SessionID)
	if err != nil {
		// No session means the subagent produced nothing to drain.
		return "", nil
	}
	sessionID, ok := result["session_id"].(float64)
	if !ok {
		return "", nil
	}

	_, err = hooks.POST(ctx.Port, fmt.Sprintf("/api/sessions/%d/subagent-complete", int64(sessionID)), map[string]interface{}{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "[subagent-stop] Warning: failed to notify worker: %v\n", err)
	}
	return "", nil
}
