package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/recall/internal/vocab"
)

const (
	maxInputPromptLen  = 3000
	maxOutputPromptLen = 5000
	maxResponseLen     = 4000
)

// ToolEvent is the observation payload rendered into the subprocess prompt.
type ToolEvent struct {
	ToolName   string
	ToolInput  interface{}
	ToolOutput interface{}
	OccurredAt time.Time
	CWD        string
}

// BuildObservationPrompt renders a tool event for the memory agent.
func BuildObservationPrompt(ev ToolEvent) string {
	inputJSON, _ := json.MarshalIndent(ev.ToolInput, "  ", "  ")
	outputJSON, _ := json.MarshalIndent(ev.ToolOutput, "  ", "  ")

	when := ev.OccurredAt
	if when.IsZero() {
		when = time.Now()
	}

	var sb strings.Builder
	sb.WriteString("<observed_from_primary_session>\n")
	sb.WriteString(fmt.Sprintf("  <what_happened>%s</what_happened>\n", ev.ToolName))
	sb.WriteString(fmt.Sprintf("  <occurred_at>%s</occurred_at>\n", when.Format(time.RFC3339)))
	if ev.CWD != "" {
		sb.WriteString(fmt.Sprintf("  <working_directory>%s</working_directory>\n", ev.CWD))
	}
	sb.WriteString(fmt.Sprintf("  <parameters>%s</parameters>\n", truncate(string(inputJSON), maxInputPromptLen)))
	sb.WriteString(fmt.Sprintf("  <outcome>%s</outcome>\n", truncate(string(outputJSON), maxOutputPromptLen)))
	sb.WriteString("</observed_from_primary_session>")

	return sb.String()
}

// BuildSystemPrompt describes the memory agent's job and response format,
// with the active vocabulary spliced in.
func BuildSystemPrompt(registry *vocab.Registry) string {
	var sb strings.Builder

	sb.WriteString("You are a memory agent observing another coding session. ")
	sb.WriteString("Extract durable observations from the tool executions you are shown: decisions made, bugs fixed, patterns discovered, structure learned, code changed. ")
	sb.WriteString("Skip routine noise (directory listings, trivial reads). Record what a future session would want to know.\n\n")

	sb.WriteString("Valid observation types: ")
	sb.WriteString(strings.Join(registry.TypeIDs(), ", "))
	sb.WriteString("\nValid concepts: ")
	sb.WriteString(strings.Join(registry.Concepts(), ", "))
	sb.WriteString("\n\nRespond with zero or more blocks in this format:\n")
	sb.WriteString(`<observation>
  <type>[one of the valid types]</type>
  <priority>[critical|important|informational]</priority>
  <title>[short title]</title>
  <subtitle>[optional subtitle]</subtitle>
  <narrative>[what happened and why it matters]</narrative>
  <facts>
    <fact>[one atomic fact]</fact>
  </facts>
  <concepts>
    <concept>[one of the valid concepts]</concept>
  </concepts>
  <topics>
    <topic>[free-form topic tag]</topic>
  </topics>
  <entities>
    <entity type="[function|file|module|service|concept]">[name]</entity>
  </entities>
  <files_read>
    <file>[path]</file>
  </files_read>
  <files_modified>
    <file>[path]</file>
  </files_modified>
</observation>`)

	return sb.String()
}

// SummaryRequest carries the context for a progress-summary prompt.
type SummaryRequest struct {
	Project              string
	UserPrompt           string
	LastUserMessage      string
	LastAssistantMessage string
}

// BuildSummaryPrompt requests a progress summary checkpoint.
func BuildSummaryPrompt(req SummaryRequest) string {
	var sb strings.Builder

	sb.WriteString("PROGRESS SUMMARY CHECKPOINT\n")
	sb.WriteString("===========================\n")
	sb.WriteString("Write progress notes of what was done, what was learned, and what's next. ")
	sb.WriteString("This is a checkpoint; the session is ongoing and more tool executions may follow. ")
	sb.WriteString("Write next_steps as the current trajectory of work, not post-session future work. ")
	sb.WriteString("Always write at least a minimal summary, even early in a session.\n\n")

	if req.LastAssistantMessage != "" {
		sb.WriteString("Latest assistant response in the observed session:\n")
		sb.WriteString(truncate(req.LastAssistantMessage, maxResponseLen))
		sb.WriteString("\n\n")
	}

	sb.WriteString(`Respond in this XML format:
<summary>
  <request>[Short title capturing the user's request and what was done]</request>
  <investigated>[What was explored or examined]</investigated>
  <learned>[What was learned about how things work]</learned>
  <completed>[What work has shipped or changed]</completed>
  <next_steps>[What is actively being worked on next]</next_steps>
  <files>
    <file>[path touched during this work]</file>
  </files>
  <notes>[Additional insights about the current progress]</notes>
</summary>

If there is genuinely nothing to summarize, respond with <skip_summary reason="..."/> instead.

You are summarizing a DIFFERENT session, not your own. Never reference yourself or your own actions. Output nothing outside the XML block.`)

	return sb.String()
}

// truncate caps s at maxLen with a marker.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}
