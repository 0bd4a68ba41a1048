// Package hooks carries the shared plumbing for the recall hook binaries:
// stdin parsing, worker discovery and startup, and the response protocol
// expected by the host agent.
package hooks

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// InternalEnv marks subprocess invocations spawned by the worker itself.
// CRITICAL: hooks must no-op under it, or the memory agent's own tool use
// would be observed and fed back into the pipeline.
const InternalEnv = "RECALL_INTERNAL"

// HookResponse is the minimal success/failure reply on stdout.
type HookResponse struct {
	Continue bool `json:"continue"`
}

// ProjectIDWithName derives a stable project identifier from a working
// directory: the directory name plus a short path hash, so identically named
// checkouts in different locations stay separate.
func ProjectIDWithName(cwd string) string {
	absPath, err := filepath.Abs(cwd)
	if err != nil {
		absPath = cwd
	}

	dirName := filepath.Base(absPath)
	hash := sha256.Sum256([]byte(absPath))
	shortHash := hex.EncodeToString(hash[:3])

	return fmt.Sprintf("%s_%s", dirName, shortHash)
}

// WriteResponse writes a hook response to stdout.
func WriteResponse(hookName string, success bool) {
	data, _ := json.Marshal(HookResponse{Continue: success})
	fmt.Println(string(data))
}

// WriteError reports a failure on stderr and emits a non-continue response.
func WriteError(hookName string, err error) {
	fmt.Fprintf(os.Stderr, "[%s] Error: %v\n", hookName, err)
	WriteResponse(hookName, false)
}

// BaseInput contains the fields every hook event carries.
type BaseInput struct {
	SessionID      string `json:"session_id"`
	CWD            string `json:"cwd"`
	PermissionMode string `json:"permission_mode"`
	HookEventName  string `json:"hook_event_name"`
}

// HookContext is the resolved environment handed to a hook handler.
type HookContext struct {
	HookName  string
	Port      int
	Project   string
	SessionID string
	CWD       string
	RawInput  []byte
}

// HookHandler implements one hook's logic. A non-empty return string is
// injected back into the conversation as additional context.
type HookHandler[T any] func(ctx *HookContext, input *T) (additionalContext string, err error)

// RunHook wraps a handler with the shared boilerplate: the internal-call
// guard, stdin decoding, worker startup and project resolution.
func RunHook[T any](hookName string, handler HookHandler[T]) {
	if os.Getenv(InternalEnv) == "1" {
		WriteResponse(hookName, true)
		return
	}

	inputData, err := io.ReadAll(os.Stdin)
	if err != nil {
		WriteError(hookName, err)
		os.Exit(1)
	}

	var input T
	if err := json.Unmarshal(inputData, &input); err != nil {
		WriteError(hookName, err)
		os.Exit(1)
	}

	port, err := EnsureWorkerRunning()
	if err != nil {
		WriteError(hookName, err)
		os.Exit(1)
	}

	var base BaseInput
	_ = json.Unmarshal(inputData, &base)

	ctx := &HookContext{
		HookName:  hookName,
		Port:      port,
		Project:   ProjectIDWithName(base.CWD),
		SessionID: base.SessionID,
		CWD:       base.CWD,
		RawInput:  inputData,
	}

	additionalContext, err := handler(ctx, &input)
	if err != nil {
		WriteError(hookName, err)
		os.Exit(1)
	}

	if additionalContext != "" {
		response := map[string]interface{}{
			"continue": true,
			"hookSpecificOutput": map[string]interface{}{
				"hookEventName":     hookName,
				"additionalContext": additionalContext,
			},
		}
		_ = json.NewEncoder(os.Stdout).Encode(response)
		os.Exit(0)
	}

	WriteResponse(hookName, true)
}

// StatuslineHandler renders one status line. It must tolerate a nil input.
type StatuslineHandler[T any] func(input *T, port int) string

// RunStatuslineHook is the stripped-down runner for the statusline binary:
// no internal-call guard, no worker startup, plain-text output. Statuslines
// render on every repaint and have to stay under the host's latency budget.
func RunStatuslineHook[T any](handler StatuslineHandler[T]) {
	inputData, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Println(handler(nil, 0))
		return
	}

	var input T
	if err := json.Unmarshal(inputData, &input); err != nil {
		fmt.Println(handler(nil, 0))
		return
	}

	fmt.Println(handler(&input, GetWorkerPort()))
}
