// Package privacy strips opt-out content before anything is stored.
package privacy

import (
	"regexp"
	"strings"
)

var (
	// privateTagRegex matches <private>...</private> spans.
	privateTagRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)

	// contextTagRegex matches <recall-context>...</recall-context> spans,
	// the blocks the worker itself injected. Re-storing them would feed the
	// memory back into itself.
	contextTagRegex = regexp.MustCompile(`(?s)<recall-context>.*?</recall-context>`)
)

// StripPrivateTags removes all <private>...</private> content.
func StripPrivateTags(text string) string {
	return privateTagRegex.ReplaceAllString(text, "")
}

// StripContextTags removes all <recall-context>...</recall-context> content.
func StripContextTags(text string) string {
	return contextTagRegex.ReplaceAllString(text, "")
}

// StripAllTags removes both private and injected-context spans.
func StripAllTags(text string) string {
	return StripContextTags(StripPrivateTags(text))
}

// IsEntirelyPrivate reports whether nothing remains once private spans are
// removed.
func IsEntirelyPrivate(text string) bool {
	return strings.TrimSpace(StripPrivateTags(text)) == ""
}

// Clean is the single entry point used before storing user content.
func Clean(text string) string {
	return strings.TrimSpace(StripAllTags(text))
}
