// Package similarity provides text similarity and clustering utilities.
package similarity

import (
	"strings"

	"github.com/thebtf/recall/pkg/models"
)

// ClusterObservations groups near-duplicate observations and keeps one
// representative per cluster. Input order is preference order (newest
// first); the first member of each cluster survives.
func ClusterObservations(observations []*models.Observation, threshold float64) []*models.Observation {
	if len(observations) <= 1 {
		return observations
	}

	termSets := make([]map[string]bool, len(observations))
	for i, obs := range observations {
		termSets[i] = ExtractObservationTerms(obs)
	}

	clustered := make([]bool, len(observations))
	result := make([]*models.Observation, 0, len(observations))

	for i := range observations {
		if clustered[i] {
			continue
		}
		result = append(result, observations[i])
		clustered[i] = true

		for j := i + 1; j < len(observations); j++ {
			if clustered[j] {
				continue
			}
			if JaccardSimilarity(termSets[i], termSets[j]) >= threshold {
				clustered[j] = true
			}
		}
	}

	return result
}

// IsSimilarToAny reports whether the observation is a near-duplicate of any
// member of existing.
func IsSimilarToAny(newObs *models.Observation, existing []*models.Observation, threshold float64) bool {
	if len(existing) == 0 {
		return false
	}

	newTerms := ExtractObservationTerms(newObs)
	if len(newTerms) == 0 {
		return false
	}

	for _, obs := range existing {
		if JaccardSimilarity(newTerms, ExtractObservationTerms(obs)) >= threshold {
			return true
		}
	}
	return false
}

// SimilarTexts reports whether two free-form strings share enough terms to
// count as the same message. Used to group recurring errors in diagnostics.
func SimilarTexts(a, b string, threshold float64) bool {
	return JaccardSimilarity(ExtractTerms(a), ExtractTerms(b)) >= threshold
}

// ExtractObservationTerms builds the comparison term set from an
// observation's title, narrative, facts, topics and touched files.
func ExtractObservationTerms(obs *models.Observation) map[string]bool {
	terms := make(map[string]bool)

	addTerms(terms, obs.Title.String)
	addTerms(terms, obs.Narrative.String)
	for _, fact := range obs.Facts {
		addTerms(terms, fact)
	}
	for _, topic := range obs.Topics {
		terms[strings.ToLower(topic)] = true
	}

	// File basenames only; directory churn should not separate clusters.
	for _, file := range obs.FilesRead {
		terms[baseName(file)] = true
	}
	for _, file := range obs.FilesModified {
		terms[baseName(file)] = true
	}

	return terms
}

// ExtractTerms builds a comparison term set from arbitrary text.
func ExtractTerms(text string) map[string]bool {
	terms := make(map[string]bool)
	addTerms(terms, text)
	return terms
}

func baseName(path string) string {
	parts := strings.Split(path, "/")
	return strings.ToLower(parts[len(parts)-1])
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true,
	"this": true, "that": true, "these": true, "those": true,
	"and": true, "or": true, "but": true, "if": true, "then": true,
	"for": true, "from": true, "with": true, "about": true, "into": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "by": true,
	"it": true, "its": true, "which": true, "who": true, "what": true,
	"when": true, "where": true, "how": true, "why": true,
}

// addTerms tokenizes text and adds meaningful terms to the set.
func addTerms(terms map[string]bool, text string) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_')
	})
	for _, word := range words {
		if len(word) >= 3 && !stopWords[word] {
			terms[word] = true
		}
	}
}

// JaccardSimilarity is |intersection| / |union| over two term sets.
func JaccardSimilarity(set1, set2 map[string]bool) float64 {
	if len(set1) == 0 && len(set2) == 0 {
		return 1.0
	}
	if len(set1) == 0 || len(set2) == 0 {
		return 0.0
	}

	intersection := 0
	for term := range set1 {
		if set2[term] {
			intersection++
		}
	}

	union := len(set1) + len(set2) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}
