// Package chroma provides the Chroma sibling-service integration for recall.
package chroma

import (
	"strings"

	"github.com/thebtf/recall/internal/vector"
)

// DocType represents the type of document stored in the vector service.
type DocType string

const (
	DocTypeObservation    DocType = "observation"
	DocTypeSessionSummary DocType = "session_summary"
)

// maxFactsPerObservation bounds the fact-document id space per observation,
// so deletion can enumerate ids without querying the service first.
const maxFactsPerObservation = 20

// BuildWhereFilter creates a metadata filter for vector queries.
// Empty arguments add no clause.
func BuildWhereFilter(docType DocType, project string) map[string]interface{} {
	where := make(map[string]interface{})
	if docType != "" {
		where["doc_type"] = string(docType)
	}
	if project != "" {
		where["project"] = project
	}
	return where
}

// ExtractObservationIDs pulls deduplicated observation row ids out of query
// results, preserving result order. Granular documents share their parent's
// sqlite_id, so the first hit wins.
func ExtractObservationIDs(results []vector.QueryResult) []int64 {
	var ids []int64
	seen := make(map[int64]bool)

	for _, result := range results {
		sqliteID, ok := result.Metadata["sqlite_id"].(float64)
		if !ok {
			continue
		}
		docType, _ := result.Metadata["doc_type"].(string)
		if docType != string(DocTypeObservation) {
			continue
		}
		id := int64(sqliteID)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// BestDistancePerObservation maps each observation id to the smallest
// distance among its granular documents, preserving first-seen order in the
// returned id slice.
func BestDistancePerObservation(results []vector.QueryResult) ([]int64, map[int64]float64) {
	var order []int64
	best := make(map[int64]float64)

	for _, result := range results {
		sqliteID, ok := result.Metadata["sqlite_id"].(float64)
		if !ok {
			continue
		}
		docType, _ := result.Metadata["doc_type"].(string)
		if docType != string(DocTypeObservation) {
			continue
		}
		id := int64(sqliteID)
		if d, seen := best[id]; !seen || result.Distance < d {
			if !seen {
				order = append(order, id)
			}
			best[id] = result.Distance
		}
	}
	return order, best
}

func joinStrings(items []string, sep string) string {
	return strings.Join(items, sep)
}

func copyMetadata(base map[string]interface{}, key string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}

func copyMetadataMulti(base map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
