// Package agent drives the memory-agent subprocess for recall.
package agent

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/internal/vocab"
	"github.com/thebtf/recall/pkg/models"
)

var (
	skipSummaryRe = regexp.MustCompile(`<skip_summary\s+reason="([^"]+)"\s*/>`)
	entityAttrRe  = regexp.MustCompile(`(?s)<entity(?:\s+type="([^"]*)")?\s*>(.*?)</entity>`)
)

// ParseObservations extracts every observation block from a subprocess
// response. Malformed blocks degrade rather than fail: unknown types coerce
// to the vocabulary fallback, missing sections come back empty, and the
// block is kept regardless, partial memory beats none.
func ParseObservations(text string, registry *vocab.Registry) []*models.ParsedObservation {
	var out []*models.ParsedObservation

	for _, block := range extractBlocks(text, "observation") {
		obsType := registry.Normalize(extractSection(block, "type"))

		concepts := extractList(block, "concepts", "concept")
		// Types and concepts are separate dimensions; agents sometimes echo
		// the type into the concept list.
		cleaned := concepts[:0]
		for _, c := range concepts {
			if c != obsType {
				cleaned = append(cleaned, c)
			}
		}
		if len(cleaned) != len(concepts) {
			log.Warn().Str("type", obsType).Msg("Removed observation type from concepts")
		}

		out = append(out, &models.ParsedObservation{
			Type:          obsType,
			Title:         extractSection(block, "title"),
			Subtitle:      extractSection(block, "subtitle"),
			Narrative:     extractSection(block, "narrative"),
			Facts:         extractList(block, "facts", "fact"),
			Concepts:      cleaned,
			FilesRead:     extractList(block, "files_read", "file"),
			FilesModified: extractList(block, "files_modified", "file"),
			Priority:      string(models.NormalizePriority(extractSection(block, "priority"))),
			Topics:        extractList(block, "topics", "topic"),
			Entities:      extractEntities(block),
			EventDate:     extractSection(block, "event_date"),
		})
	}

	return out
}

// ParseSummary extracts the first summary block, or nil when the agent
// explicitly skipped or produced no summary. A summary with missing fields
// is still returned; every field is nullable downstream.
func ParseSummary(text string) *models.ParsedSummary {
	if m := skipSummaryRe.FindStringSubmatch(text); m != nil {
		log.Info().Str("reason", m[1]).Msg("Summary skipped by agent")
		return nil
	}

	blocks := extractBlocks(text, "summary")
	if len(blocks) == 0 {
		return nil
	}
	block := blocks[0]

	return &models.ParsedSummary{
		Request:      extractSection(block, "request"),
		Investigated: extractSection(block, "investigated"),
		Learned:      extractSection(block, "learned"),
		Completed:    extractSection(block, "completed"),
		NextSteps:    extractSection(block, "next_steps"),
		Files:        extractList(block, "files", "file"),
		Notes:        extractSection(block, "notes"),
	}
}

// extractBlocks returns the inner content of every <tag>...</tag> pair.
func extractBlocks(text, tag string) []string {
	re := regexp.MustCompile(`(?s)<` + tag + `>(.*?)</` + tag + `>`)
	matches := re.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// extractSection returns the trimmed content of the first <tag> in block,
// or "" when absent.
func extractSection(block, tag string) string {
	re := regexp.MustCompile(`(?s)<` + tag + `>(.*?)</` + tag + `>`)
	m := re.FindStringSubmatch(block)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// extractList returns the trimmed, non-empty items of a
// <container><item>..</item></container> list.
func extractList(block, container, item string) []string {
	inner := extractSection(block, container)
	if inner == "" {
		return nil
	}
	re := regexp.MustCompile(`(?s)<` + item + `>(.*?)</` + item + `>`)
	var out []string
	for _, m := range re.FindAllStringSubmatch(inner, -1) {
		if v := strings.TrimSpace(m[1]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// extractEntities parses <entities><entity type="module">name</entity></entities>.
// A missing type attribute yields an entity with an empty type.
func extractEntities(block string) []models.Entity {
	inner := extractSection(block, "entities")
	if inner == "" {
		return nil
	}
	var out []models.Entity
	for _, m := range entityAttrRe.FindAllStringSubmatch(inner, -1) {
		name := strings.TrimSpace(m[2])
		if name == "" {
			continue
		}
		out = append(out, models.Entity{Name: name, Type: strings.TrimSpace(m[1])})
	}
	return out
}
