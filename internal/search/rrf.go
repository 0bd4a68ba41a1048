// Package search provides hybrid retrieval for recall.
package search

import "sort"

// Fusion constants. Tunable through Options; these are the defaults.
const (
	// DefaultRRFK is the k constant in the 1/(k+rank) contribution.
	DefaultRRFK = 60

	// DefaultAgreementBonus is the flat bonus for ids every source ranks
	// near the top.
	DefaultAgreementBonus = 0.003

	// DefaultAgreementCutoff is how deep "near the top" reaches.
	DefaultAgreementCutoff = 5
)

// ScoredID pairs a database row id with a fused score.
type ScoredID struct {
	ID    int64
	Score float64
}

// Options tunes rank fusion.
type Options struct {
	K               int     // RRF k constant
	AgreementBonus  float64 // flat bonus for cross-source top-rank agreement
	AgreementCutoff int     // rank (1-indexed) at or above which a source counts as agreeing
}

// DefaultOptions returns the standard fusion tuning.
func DefaultOptions() Options {
	return Options{
		K:               DefaultRRFK,
		AgreementBonus:  DefaultAgreementBonus,
		AgreementCutoff: DefaultAgreementCutoff,
	}
}

// RRF fuses ranked id lists with Reciprocal Rank Fusion. Each input list is
// ordered best-first; an id at 1-indexed rank r contributes 1/(k+r) per list
// it appears in, and the contributions sum.
//
// Ids ranked at or above the agreement cutoff in EVERY input list receive
// one flat agreement bonus on top. An id missing from any list, or ranked
// below the cutoff anywhere, gets nothing: agreement means all sources, not
// most.
//
// Returns the fused ids sorted by score descending.
func RRF(opts Options, lists ...[]int64) []ScoredID {
	if opts.K <= 0 {
		opts.K = DefaultRRFK
	}
	if opts.AgreementCutoff <= 0 {
		opts.AgreementCutoff = DefaultAgreementCutoff
	}

	scores := make(map[int64]float64)
	topCount := make(map[int64]int)
	var order []int64

	nonEmpty := 0
	for _, list := range lists {
		if len(list) == 0 {
			continue
		}
		nonEmpty++
		for i, id := range list {
			rank := i + 1
			if _, exists := scores[id]; !exists {
				order = append(order, id)
			}
			scores[id] += 1.0 / float64(opts.K+rank)
			if rank <= opts.AgreementCutoff {
				topCount[id]++
			}
		}
	}

	if nonEmpty > 1 && opts.AgreementBonus > 0 {
		for id, n := range topCount {
			if n == nonEmpty {
				scores[id] += opts.AgreementBonus
			}
		}
	}

	result := make([]ScoredID, 0, len(order))
	for _, id := range order {
		result = append(result, ScoredID{ID: id, Score: scores[id]})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Score > result[j].Score
	})
	return result
}

// MinMaxNormalize rescales scores to [0,1]. With invert set, smaller inputs
// map to larger outputs (distances become similarities). A single-element or
// zero-range input normalizes to 1.0 for every entry.
func MinMaxNormalize(scores []float64, invert bool) []float64 {
	if len(scores) == 0 {
		return nil
	}

	min, max := scores[0], scores[0]
	for _, v := range scores[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	out := make([]float64, len(scores))
	if max == min {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}

	for i, v := range scores {
		n := (v - min) / (max - min)
		if invert {
			n = 1.0 - n
		}
		out[i] = n
	}
	return out
}

// Blend combines normalized vector and keyword scores with the given
// weights. Ids present in only one source fall back to that source's
// normalized score alone.
func Blend(vector, keyword map[int64]float64, vectorWeight, keywordWeight float64) map[int64]float64 {
	out := make(map[int64]float64, len(vector)+len(keyword))
	for id, v := range vector {
		if k, ok := keyword[id]; ok {
			out[id] = vectorWeight*v + keywordWeight*k
		} else {
			out[id] = v
		}
	}
	for id, k := range keyword {
		if _, ok := vector[id]; !ok {
			out[id] = k
		}
	}
	return out
}

// BM25Normalize converts a raw BM25 magnitude to [0,1).
// formula: |x| / (1 + |x|)
func BM25Normalize(score float64) float64 {
	if score < 0 {
		score = -score
	}
	return score / (1 + score)
}
