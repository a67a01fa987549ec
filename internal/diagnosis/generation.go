package diagnosis

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/misconcept/internal/cluster"
	"github.com/abhisek/misconcept/internal/errs"
)

// Generation is an immutable snapshot of the misconception taxonomy.
// A new clustering run produces a new Generation; published ones are
// never modified, so readers need no locking.
type Generation struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Dimension int       `json:"dimension"`
	Source    string    `json:"source,omitempty"`

	clusters []MisconceptionCluster
	byID     map[int]int
	// itemLabels holds, per item, the sorted labels its clustered answers
	// received. Items absent from the map are unconstrained.
	itemLabels map[string][]string
}

// EmptyGeneration is the cold-start taxonomy with no clusters.
func EmptyGeneration() *Generation {
	return &Generation{ID: uuid.New(), CreatedAt: time.Now().UTC(), byID: map[int]int{}}
}

// NewGeneration validates and deep-copies clusters into a new Generation.
// All centroids must share one dimensionality and cluster IDs must be unique.
func NewGeneration(clusters []MisconceptionCluster, source string) (*Generation, error) {
	g := &Generation{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		Source:    source,
		clusters:  make([]MisconceptionCluster, 0, len(clusters)),
		byID:      make(map[int]int, len(clusters)),
	}

	for i, c := range clusters {
		if len(c.Centroid) == 0 {
			return nil, errs.Invalid("centroid", i, "empty centroid for cluster %d", c.ID)
		}
		if g.Dimension == 0 {
			g.Dimension = len(c.Centroid)
		} else if len(c.Centroid) != g.Dimension {
			return nil, errs.DimensionMismatch("centroid", i, g.Dimension, len(c.Centroid))
		}
		if _, dup := g.byID[c.ID]; dup {
			return nil, errs.Invalid("centroid", i, "duplicate cluster id %d", c.ID)
		}

		c.Centroid = c.Centroid.Clone()
		if c.Label == "" {
			c.Label = DefaultLabel(c.ID)
		}
		g.byID[c.ID] = len(g.clusters)
		g.clusters = append(g.clusters, c)
	}
	return g, nil
}

// RestoreGeneration rebuilds a previously published generation, keeping its
// identity. Used when loading from the artifact store.
func RestoreGeneration(id uuid.UUID, createdAt time.Time, clusters []MisconceptionCluster, source string) (*Generation, error) {
	g, err := NewGeneration(clusters, source)
	if err != nil {
		return nil, err
	}
	g.ID = id
	g.CreatedAt = createdAt
	return g, nil
}

// FromClusterResult turns a clustering run into a Generation. labels may
// name some or all cluster IDs; the rest get DefaultLabel.
func FromClusterResult(res *cluster.Result, labels map[int]string, source string) (*Generation, error) {
	clusters := make([]MisconceptionCluster, len(res.Clusters))
	for i, c := range res.Clusters {
		clusters[i] = MisconceptionCluster{
			ID:       c.ID,
			Label:    labels[c.ID],
			Centroid: c.Centroid,
			Size:     c.Size,
			Cohesion: c.Cohesion,
		}
	}
	return NewGeneration(clusters, source)
}

// WithItemLabels returns a copy of g, same identity, that records which
// labels were observed for each item. Labels are deduplicated and sorted;
// empty item IDs and labels are dropped.
func (g *Generation) WithItemLabels(ref map[string][]string) *Generation {
	out := *g
	out.itemLabels = make(map[string][]string, len(ref))
	for item, labels := range ref {
		if item == "" {
			continue
		}
		var clean []string
		for _, l := range labels {
			if l != "" {
				clean = append(clean, l)
			}
		}
		if len(clean) == 0 {
			continue
		}
		slices.Sort(clean)
		out.itemLabels[item] = slices.Compact(clean)
	}
	return &out
}

// KnownLabels returns the labels observed for itemID, and whether the item
// has a recorded label set at all.
func (g *Generation) KnownLabels(itemID string) ([]string, bool) {
	labels, ok := g.itemLabels[itemID]
	return slices.Clone(labels), ok
}

// ItemLabels returns a copy of every item's observed labels.
func (g *Generation) ItemLabels() map[string][]string {
	out := make(map[string][]string, len(g.itemLabels))
	for k, v := range g.itemLabels {
		out[k] = slices.Clone(v)
	}
	return out
}

// DefaultLabel names an unlabelled cluster.
func DefaultLabel(id int) string {
	return fmt.Sprintf("cluster-%d", id)
}

// Len returns the number of clusters.
func (g *Generation) Len() int { return len(g.clusters) }

// Empty reports whether the generation has no clusters (cold start).
func (g *Generation) Empty() bool { return g == nil || len(g.clusters) == 0 }

// Clusters returns a deep copy of the clusters, ordered as constructed.
func (g *Generation) Clusters() []MisconceptionCluster {
	out := slices.Clone(g.clusters)
	for i := range out {
		out[i].Centroid = out[i].Centroid.Clone()
	}
	return out
}

// Cluster looks up a cluster by ID.
func (g *Generation) Cluster(id int) (MisconceptionCluster, bool) {
	i, ok := g.byID[id]
	if !ok {
		return MisconceptionCluster{}, false
	}
	c := g.clusters[i]
	c.Centroid = c.Centroid.Clone()
	return c, true
}

type generationJSON struct {
	ID        uuid.UUID              `json:"id"`
	CreatedAt time.Time              `json:"created_at"`
	Dimension int                    `json:"dimension"`
	Source    string                 `json:"source,omitempty"`
	Clusters  []MisconceptionCluster `json:"clusters"`

	ItemLabels map[string][]string `json:"item_labels,omitempty"`
}

func (g *Generation) MarshalJSON() ([]byte, error) {
	clusters := g.clusters
	if clusters == nil {
		clusters = []MisconceptionCluster{}
	}
	return json.Marshal(generationJSON{
		ID:        g.ID,
		CreatedAt: g.CreatedAt,
		Dimension: g.Dimension,
		Source:    g.Source,
		Clusters:  clusters,

		ItemLabels: g.itemLabels,
	})
}

func (g *Generation) UnmarshalJSON(data []byte) error {
	var raw generationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	restored, err := RestoreGeneration(raw.ID, raw.CreatedAt, raw.Clusters, raw.Source)
	if err != nil {
		return err
	}
	if len(raw.ItemLabels) > 0 {
		restored = restored.WithItemLabels(raw.ItemLabels)
	}
	*g = *restored
	return nil
}

// Holder publishes the current Generation to concurrent readers.
// The zero value holds the cold-start generation.
type Holder struct {
	current atomic.Pointer[Generation]
}

// NewHolder returns a Holder seeded with g, or an empty generation if g is nil.
func NewHolder(g *Generation) *Holder {
	h := &Holder{}
	h.Publish(g)
	return h
}

// Load returns the current generation. Never nil.
func (h *Holder) Load() *Generation {
	if g := h.current.Load(); g != nil {
		return g
	}
	return EmptyGeneration()
}

// Publish atomically replaces the current generation and returns the
// previous one.
func (h *Holder) Publish(g *Generation) *Generation {
	if g == nil {
		g = EmptyGeneration()
	}
	return h.current.Swap(g)
}
