// Package main provides the statusline binary: one line of recall activity
// for the host's status bar. It never starts the worker; offline just
// renders as offline.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/recall/pkg/hooks"
)

// StatusInput is the statusline input from the host.
type StatusInput struct {
	HookEventName string `json:"hook_event_name"`
	SessionID     string `json:"session_id"`
	CWD           string `json:"cwd"`
	Model         struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"model"`
	Workspace struct {
		CurrentDir string `json:"current_dir"`
		ProjectDir string `json:"project_dir"`
	} `json:"workspace"`
	Version string `json:"version"`
}

// workerStats mirrors the fields of /api/stats the statusline renders.
type workerStats struct {
	Version        string `json:"version"`
	ActiveSessions int    `json:"active_sessions"`
	QueueDepth     int    `json:"queue_depth"`
	Processing     bool   `json:"processing"`
	Retrieval      struct {
		TotalRequests      int64 `json:"total_requests"`
		SearchRequests     int64 `json:"search_requests"`
		ObservationsServed int64 `json:"observations_served"`
	} `json:"retrieval"`
}

// ANSI color codes.
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

func main() {
	hooks.RunStatuslineHook(render)
}

func render(input *StatusInput, port int) string {
	useColors := colorsEnabled()
	if input == nil {
		return formatOffline(useColors)
	}

	stats := fetchStats(port)
	if stats == nil {
		return formatOffline(useColors)
	}

	switch os.Getenv("RECALL_STATUSLINE_FORMAT") {
	case "compact":
		return formatCompact(stats, useColors)
	case "minimal":
		return formatMinimal(stats, useColors)
	default:
		return formatDefault(stats, useColors)
	}
}

func colorsEnabled() bool {
	switch os.Getenv("RECALL_STATUSLINE_COLORS") {
	case "true":
		return true
	case "false":
		return false
	}
	return os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
}

// fetchStats pulls /api/stats with a tight timeout so a stuck worker cannot
// stall the status bar repaint.
func fetchStats(port int) *workerStats {
	client := &http.Client{Timeout: 100 * time.Millisecond}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/api/stats", port))
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var stats workerStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil
	}
	return &stats
}

func formatDefault(stats *workerStats, useColors bool) string {
	prefix, indicator := "[recall]", "●"
	if useColors {
		prefix = colorCyan + prefix + colorReset
		indicator = colorGreen + indicator + colorReset
	}

	parts := []string{fmt.Sprintf("served:%d", stats.Retrieval.ObservationsServed)}
	if stats.Retrieval.SearchRequests > 0 {
		parts = append(parts, fmt.Sprintf("searches:%d", stats.Retrieval.SearchRequests))
	}
	if stats.ActiveSessions > 0 {
		parts = append(parts, fmt.Sprintf("sessions:%d", stats.ActiveSessions))
	}
	if stats.Processing || stats.QueueDepth > 0 {
		busy := "observing..."
		if useColors {
			busy = colorYellow + busy + colorReset
		}
		parts = append(parts, busy)
	}

	result := prefix + " " + indicator
	for i, part := range parts {
		if i == 0 {
			result += " " + part
		} else {
			result += " | " + part
		}
	}
	return result
}

func formatCompact(stats *workerStats, useColors bool) string {
	prefix, indicator := "[r]", "●"
	if useColors {
		prefix = colorCyan + prefix + colorReset
		indicator = colorGreen + indicator + colorReset
	}

	result := fmt.Sprintf("%s %s %d/%d", prefix, indicator,
		stats.Retrieval.ObservationsServed, stats.Retrieval.SearchRequests)

	if stats.Processing || stats.QueueDepth > 0 {
		busy := "⚙"
		if useColors {
			busy = colorYellow + busy + colorReset
		}
		result += " " + busy
	}
	return result
}

func formatMinimal(stats *workerStats, useColors bool) string {
	indicator := "●"
	if useColors {
		indicator = colorGreen + indicator + colorReset
	}
	return fmt.Sprintf("%s %d", indicator, stats.Retrieval.ObservationsServed)
}

func formatOffline(useColors bool) string {
	if useColors {
		return colorCyan + "[recall]" + colorReset + " " + colorGray + "○" + colorReset
	}
	return "[recall] ○"
}
