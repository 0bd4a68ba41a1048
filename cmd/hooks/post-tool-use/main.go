// Package main provides the post-tool-use hook: it forwards each tool event
// to the worker for observation.
package main

import (
	"fmt"

	"github.com/thebtf/recall/pkg/hooks"
)

// Input is the hook input for a post-tool-use event.
type Input struct {
	hooks.BaseInput
	ToolName     string      `json:"tool_name"`
	ToolInput    interface{} `json:"tool_input"`
	ToolResponse interface{} `json:"tool_response"`
	ToolUseID    string      `json:"tool_use_id"`
}

func main() {
	hooks.RunHook("PostToolUse", handlePostToolUse)
}

func handlePostToolUse(ctx *hooks.HookContext, input *Input) (string, error) {
	sessionID, err := resolveSessionID(ctx)
	if err != nil {
		return "", err
	}

	branch, commitSHA := hooks.GitProvenance(ctx.CWD)

	_, err = hooks.POST(ctx.Port, fmt.Sprintf("/api/sessions/%d/observations", sessionID), map[string]interface{}{
		"tool_name":   input.ToolName,
		"tool_input":  input.ToolInput,
		"tool_output": input.ToolResponse,
		"cwd":         ctx.CWD,
		"branch":      branch,
		"commit_sha":  commitSHA,
	})
	return "", err
}

// resolveSessionID maps the content session onto its database id,
// registering the session if the session-start hook never fired.
func resolveSessionID(ctx *hooks.HookContext) (int64, error) {
	result, err := hooks.GET(ctx.Port, "/api/sessions/resolve?content_session_id="+ctx.SessionID)
	if err == nil {
		if id, ok := result["session_id"].(float64); ok {
			return int64(id), nil
		}
	}

	result, err = hooks.POST(ctx.Port, "/api/sessions/init", map[string]interface{}{
		"content_session_id": ctx.SessionID,
		"project":            ctx.Project,
	})
	if err != nil {
		return 0, err
	}
	id, ok := result["session_id"].(float64)
	if !ok {
		return 0, fmt.Errorf("worker returned no session id")
	}
	return int64(id), nil
}
