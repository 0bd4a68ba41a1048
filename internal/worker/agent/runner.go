package agent

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Runner spawns the memory-agent CLI for one prompt and streams its
// JSON-lines output.
type Runner struct {
	command      string
	extraArgs    []string
	systemPrompt string
}

// NewRunner creates a runner for the given CLI command. systemPrompt is
// passed on every fresh spawn.
func NewRunner(command string, systemPrompt string, extraArgs ...string) *Runner {
	return &Runner{
		command:      command,
		extraArgs:    extraArgs,
		systemPrompt: systemPrompt,
	}
}

// Response is one completed subprocess turn.
type Response struct {
	// MemorySessionID is the subprocess's own session id, reported on its
	// first message. Used to resume the same agent conversation later.
	MemorySessionID string
	Text            string
	InputTokens     int64
	OutputTokens    int64
}

// streamMessage is one line of the subprocess's stream-json output. Every
// message type carries session_id.
type streamMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Result    string `json:"result"`
	IsError   bool   `json:"is_error"`
	Message   struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens              int64 `json:"input_tokens"`
			OutputTokens             int64 `json:"output_tokens"`
			CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

// Run executes one turn. resumeID resumes a previously captured memory
// session; empty means a fresh agent session. CRITICAL: resumeID must be a
// memory session id captured from an earlier Response, never the observed
// session's own id, resuming into the observed transcript would corrupt it.
func (r *Runner) Run(ctx context.Context, resumeID, prompt string) (*Response, error) {
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if resumeID != "" {
		args = append(args, "--resume", resumeID)
	} else if r.systemPrompt != "" {
		args = append(args, "--append-system-prompt", r.systemPrompt)
	}
	args = append(args, r.extraArgs...)

	cmd := exec.CommandContext(ctx, r.command, args...)
	cmd.Stdin = strings.NewReader(prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", r.command, err)
	}

	resp := &Response{}
	var text strings.Builder

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var msg streamMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Debug().Str("line", string(line)).Msg("Skipping unparseable agent output line")
			continue
		}

		if resp.MemorySessionID == "" && msg.SessionID != "" {
			resp.MemorySessionID = msg.SessionID
		}

		switch msg.Type {
		case "assistant":
			for _, c := range msg.Message.Content {
				if c.Type == "text" {
					text.WriteString(c.Text)
				}
			}
			resp.InputTokens += msg.Message.Usage.InputTokens + msg.Message.Usage.CacheCreationInputTokens
			resp.OutputTokens += msg.Message.Usage.OutputTokens
		case "result":
			if msg.IsError {
				_ = cmd.Wait()
				return nil, fmt.Errorf("agent reported error: %s", truncate(msg.Result, 500))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		_ = cmd.Wait()
		return nil, fmt.Errorf("read agent output: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("agent exited: %w (stderr: %s)", err, truncate(stderr.String(), 500))
	}

	resp.Text = text.String()
	return resp, nil
}
