package evaluation

import (
	"slices"

	"github.com/abhisek/misconcept/internal/cluster"
	"github.com/abhisek/misconcept/internal/embedding"
)

// ClusterSize is the membership count of one cluster label.
type ClusterSize struct {
	Label int `json:"label"`
	Size  int `json:"size"`
}

// ClusteringReport summarises the coherence of a labelling.
type ClusteringReport struct {
	Points           int            `json:"points"`
	Clusters         int            `json:"clusters"`
	Sizes            []ClusterSize  `json:"sizes"`
	Silhouette       cluster.Metric `json:"silhouette"`
	CalinskiHarabasz cluster.Metric `json:"calinski_harabasz"`
}

// Clustering scores an assignment of points to cluster labels with the same
// metrics the clusterer reports.
func Clustering(points []embedding.Embedding, assignment []int) (*ClusteringReport, error) {
	sil, err := cluster.Silhouette(points, assignment)
	if err != nil {
		return nil, err
	}
	ch, err := cluster.CalinskiHarabasz(points, assignment)
	if err != nil {
		return nil, err
	}

	counts := map[int]int{}
	for _, l := range assignment {
		counts[l]++
	}
	sizes := make([]ClusterSize, 0, len(counts))
	for l, n := range counts {
		sizes = append(sizes, ClusterSize{Label: l, Size: n})
	}
	slices.SortFunc(sizes, func(a, b ClusterSize) int { return a.Label - b.Label })

	return &ClusteringReport{
		Points:           len(points),
		Clusters:         len(counts),
		Sizes:            sizes,
		Silhouette:       sil,
		CalinskiHarabasz: ch,
	}, nil
}
