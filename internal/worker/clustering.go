// Package worker provides the recall worker service.
package worker

import (
	"github.com/thebtf/recall/pkg/models"
	"github.com/thebtf/recall/pkg/similarity"
)

// searchClusterThreshold controls how aggressively near-duplicate search
// results collapse into one representative.
const searchClusterThreshold = 0.7

// clusterObservations groups similar observations and returns one
// representative per cluster, preserving ranked order. Delegates to
// pkg/similarity for the Jaccard clustering itself.
func clusterObservations(observations []*models.Observation, threshold float64) []*models.Observation {
	return similarity.ClusterObservations(observations, threshold)
}
