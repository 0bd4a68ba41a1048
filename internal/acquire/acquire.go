// Package acquire normalizes incoming tool events before they enter a
// session queue: payload stringification, token estimation, tool
// classification and duplicate rejection. The package is storage-pure.
package acquire

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/goccy/go-json"
)

// Stringify renders an arbitrary tool payload as a string. Strings pass
// through untouched; everything else is JSON-encoded, falling back to fmt
// formatting when encoding fails.
func Stringify(payload interface{}) string {
	switch v := payload.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// EstimateTokens approximates the token count of a payload string.
// ceil(len/4) tracks the usual bytes-per-token ratio closely enough for
// queue accounting; exact counts are not needed here.
func EstimateTokens(s string) int64 {
	if len(s) == 0 {
		return 0
	}
	return int64((len(s) + 3) / 4)
}

// Category buckets a tool by what it does to the workspace.
type Category string

const (
	CategorySearch Category = "search"
	CategoryRead   Category = "read"
	CategoryWrite  Category = "write"
	CategoryBash   Category = "bash"
	CategoryOther  Category = "other"
)

// Classification lists. A tool appearing on more than one list resolves to
// search first.
var (
	searchTools = map[string]bool{
		"Grep": true, "Glob": true, "WebSearch": true, "Search": true,
		"CodeSearch": true, "LS": true,
	}
	readTools = map[string]bool{
		"Read": true, "NotebookRead": true, "WebFetch": true, "Fetch": true,
		"LS": true,
	}
	writeTools = map[string]bool{
		"Write": true, "Edit": true, "MultiEdit": true, "NotebookEdit": true,
	}
	bashTools = map[string]bool{
		"Bash": true, "Shell": true, "Exec": true,
	}
)

// ClassifyTool maps a tool name into its category.
func ClassifyTool(name string) Category {
	switch {
	case searchTools[name]:
		return CategorySearch
	case readTools[name]:
		return CategoryRead
	case writeTools[name]:
		return CategoryWrite
	case bashTools[name]:
		return CategoryBash
	default:
		return CategoryOther
	}
}

// Fingerprint hashes a tool event's identity: the same tool invoked with the
// same input and output fingerprints identically regardless of timing.
func Fingerprint(toolName string, toolInput, toolOutput interface{}) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write([]byte(Stringify(toolInput)))
	h.Write([]byte{0})
	h.Write([]byte(Stringify(toolOutput)))
	return hex.EncodeToString(h.Sum(nil))
}
