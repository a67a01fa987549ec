package analyzer

import (
	"github.com/google/uuid"

	"github.com/abhisek/misconcept/internal/cluster"
	"github.com/abhisek/misconcept/internal/diagnosis"
	"github.com/abhisek/misconcept/internal/difficulty"
	"github.com/abhisek/misconcept/internal/errs"
)

// AnalyzeRequest is one student answer to analyse in full.
type AnalyzeRequest struct {
	Question    string `json:"question_text"`
	IdealAnswer string `json:"ideal_answer_text"`
	UserAnswer  string `json:"user_answer_text"`
	ItemID      string `json:"item_id,omitempty"`
}

// Similarities are raw cosines rounded for presentation.
type Similarities struct {
	UserVsIdeal     float64 `json:"user_vs_ideal"`
	QuestionVsIdeal float64 `json:"question_vs_ideal"`
}

// AnalyzeResult combines every signal the engine has about one answer.
type AnalyzeResult struct {
	Similarity    Similarities        `json:"similarity"`
	Misconception Prediction          `json:"misconception"`
	Difficulty    difficulty.Estimate `json:"difficulty"`

	// AnswerScore blends closeness to the ideal answer with the absence
	// of misconception risk.
	AnswerScore float64             `json:"answer_score"`
	Guidance    *diagnosis.Guidance `json:"guidance"`
}

// Prediction is the misconception verdict for one answer.
type Prediction struct {
	Label        string              `json:"label"`
	Kind         diagnosis.LabelKind `json:"kind"`
	ClusterID    *int                `json:"cluster_id,omitempty"`
	Confidence   float64             `json:"confidence"`
	Risk         float64             `json:"risk"`
	Severity     diagnosis.Severity  `json:"severity"`
	GenerationID uuid.UUID           `json:"generation_id"`
	Warnings     []errs.Warning      `json:"warnings,omitempty"`
}

// ClusterRequest asks for a new taxonomy built from free-text answers.
type ClusterRequest struct {
	Texts []string `json:"texts"`
	// K overrides the configured cluster count when positive.
	K int `json:"k,omitempty"`
	// Seed overrides the configured seed when set.
	Seed *uint64 `json:"seed,omitempty"`
	// Labels names clusters by ID; unnamed clusters get a default label.
	Labels map[int]string `json:"labels,omitempty"`
	// ItemIDs, when set, gives the item each text answers (parallel to
	// Texts, "" for none). The taxonomy then records the labels seen per
	// item, and later answers landing on another label are flagged unseen.
	ItemIDs []string `json:"item_ids,omitempty"`
	// DryRun clusters without publishing the result.
	DryRun bool `json:"dry_run,omitempty"`
}

// ClusterResponse summarises a clustering run.
type ClusterResponse struct {
	GenerationID uuid.UUID `json:"generation_id"`
	Published    bool      `json:"published"`
	Persisted    bool      `json:"persisted"`

	// Assignment gives the cluster ID of each input text.
	Assignment []int          `json:"cluster_labels"`
	Exemplars  map[int]string `json:"exemplars"`

	RequestedK       int                              `json:"requested_k"`
	EffectiveK       int                              `json:"effective_k"`
	Converged        bool                             `json:"converged"`
	Silhouette       cluster.Metric                   `json:"silhouette"`
	CalinskiHarabasz cluster.Metric                   `json:"calinski_harabasz"`
	Clusters         []diagnosis.MisconceptionCluster `json:"clusters"`
	Warnings         []errs.Warning                   `json:"warnings,omitempty"`
}
