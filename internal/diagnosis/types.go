package diagnosis

import "github.com/abhisek/misconcept/internal/embedding"

// UnknownLabel is reported when no cluster can be assigned.
const UnknownLabel = "unknown"

// LabelKind distinguishes a learned misconception label from "unknown".
// LabelUnseen is a learned label never observed for the answer's item.
type LabelKind int

const (
	LabelUnknown LabelKind = iota
	LabelKnown
	LabelUnseen
)

func (k LabelKind) String() string {
	switch k {
	case LabelKnown:
		return "known"
	case LabelUnseen:
		return "unseen"
	default:
		return "unknown"
	}
}

func (k LabelKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ResponseRecord is one student answer headed for clustering or
// classification.
type ResponseRecord struct {
	ResponseID string              `json:"response_id"`
	Embedding  embedding.Embedding `json:"embedding"`
	ClusterID  *int                `json:"cluster_id,omitempty"`
	Label      string              `json:"label,omitempty"`
}

// MisconceptionCluster is one learned misconception within a Generation.
type MisconceptionCluster struct {
	ID       int                 `json:"cluster_id"`
	Label    string              `json:"label"`
	Centroid embedding.Embedding `json:"centroid"`
	Size     int                 `json:"size"`
	Cohesion float64             `json:"cohesion"`
}
