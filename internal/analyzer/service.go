// Package analyzer answers the per-answer questions asked of the engine:
// how close is this answer, which misconception does it show, how hard is
// the question. It also rebuilds the misconception taxonomy from raw texts.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/abhisek/misconcept/internal/cluster"
	"github.com/abhisek/misconcept/internal/diagnosis"
	"github.com/abhisek/misconcept/internal/difficulty"
	"github.com/abhisek/misconcept/internal/embedding"
	"github.com/abhisek/misconcept/internal/errs"
	"github.com/abhisek/misconcept/internal/irt"
	"github.com/abhisek/misconcept/internal/similarity"
)

// Minimum trimmed lengths for analysed texts.
const (
	minQuestionLen = 3
	minIdealLen    = 3
	minAnswerLen   = 1
)

// Weights of the answer score.
const (
	similarityWeight = 0.65
	riskWeight       = 0.35
)

// GenerationSaver persists published taxonomy generations.
type GenerationSaver interface {
	Save(ctx context.Context, g *diagnosis.Generation) error
}

// Options configures a Service. Only Embedder is required.
type Options struct {
	Embedder  embedding.Embedder
	// Gate attenuates embeddings before clustering and classification.
	// Similarities are always computed on the raw embeddings. Nil is the
	// identity.
	Gate      *embedding.Gate
	Guide     *diagnosis.Guide
	Estimator *difficulty.Estimator

	Cluster     cluster.Config
	MaxDistance float64

	// Generations, when set, receives every published taxonomy.
	Generations GenerationSaver

	// Initial snapshots. Nil means cold start / no calibration.
	Taxonomy    *diagnosis.Generation
	Calibration *irt.Calibration

	Logger zerolog.Logger
}

// Service is safe for concurrent use. Taxonomy and calibration snapshots
// are swapped atomically; in-flight requests keep the snapshot they loaded.
type Service struct {
	embedder    embedding.Embedder
	gate        *embedding.Gate
	gated       embedding.Embedder
	guide       *diagnosis.Guide
	estimator   *difficulty.Estimator
	clusterCfg  cluster.Config
	maxDistance float64
	generations GenerationSaver
	log         zerolog.Logger

	taxonomy    *diagnosis.Holder
	calibration atomic.Pointer[irt.Calibration]
}

// New creates an analyzer service.
func New(opts Options) (*Service, error) {
	if opts.Embedder == nil {
		return nil, errors.New("analyzer: embedder is required")
	}
	if opts.Estimator == nil {
		opts.Estimator = difficulty.NewEstimator(nil)
	}
	if opts.Guide == nil {
		opts.Guide = diagnosis.NewGuide(nil, diagnosis.DefaultGuideConfig())
	}
	if opts.Cluster.K == 0 {
		opts.Cluster = cluster.DefaultConfig()
	}

	s := &Service{
		embedder:    opts.Embedder,
		gate:        opts.Gate,
		gated:       embedding.WithGate(opts.Embedder, opts.Gate),
		guide:       opts.Guide,
		estimator:   opts.Estimator,
		clusterCfg:  opts.Cluster,
		maxDistance: opts.MaxDistance,
		generations: opts.Generations,
		log:         opts.Logger.With().Str("component", "analyzer").Logger(),
		taxonomy:    diagnosis.NewHolder(opts.Taxonomy),
	}
	s.calibration.Store(opts.Calibration)
	return s, nil
}

// Taxonomy returns the current misconception generation. Never nil.
func (s *Service) Taxonomy() *diagnosis.Generation { return s.taxonomy.Load() }

// PublishTaxonomy makes g the current generation.
func (s *Service) PublishTaxonomy(g *diagnosis.Generation) {
	prev := s.taxonomy.Publish(g)
	cur := s.taxonomy.Load()
	evt := s.log.Info().Str("generation_id", cur.ID.String()).Int("clusters", cur.Len())
	if prev != nil {
		evt = evt.Str("previous_id", prev.ID.String())
	}
	evt.Msg("taxonomy published")
}

// Calibration returns the current item calibration, or nil.
func (s *Service) Calibration() *irt.Calibration { return s.calibration.Load() }

// PublishCalibration makes c the current calibration.
func (s *Service) PublishCalibration(c *irt.Calibration) {
	s.calibration.Store(c)
	if c != nil {
		s.log.Info().Str("calibration_id", c.ID.String()).Int("items", len(c.Items)).Msg("calibration published")
	}
}

// Embedder returns the service's embedder.
func (s *Service) Embedder() embedding.Embedder { return s.embedder }

// Analyze scores one answer against its ideal answer, classifies its
// misconception, estimates the question's difficulty and suggests how to
// improve it.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	vecs, err := s.embedder.Embed(ctx, []string{req.UserAnswer, req.IdealAnswer, req.Question})
	if err != nil {
		return nil, fmt.Errorf("embed texts: %w", err)
	}
	if len(vecs) != 3 {
		return nil, fmt.Errorf("embedder %s returned %d vectors for 3 texts", s.embedder.Name(), len(vecs))
	}
	user, ideal, question := vecs[0], vecs[1], vecs[2]

	userIdeal, err := similarity.Score(user, ideal)
	if err != nil {
		return nil, err
	}
	questionIdeal, err := similarity.Score(question, ideal)
	if err != nil {
		return nil, err
	}

	pred, err := s.predict(s.gate.Apply(user), req.ItemID)
	if err != nil {
		return nil, err
	}

	guidance := s.guide.Suggest(ctx, diagnosis.GuidanceRequest{
		Question:    req.Question,
		IdealAnswer: req.IdealAnswer,
		UserAnswer:  req.UserAnswer,
		Label:       pred.Label,
		Kind:        pred.Kind,
		Similarity:  userIdeal,
	})
	if guidance.Fallback != "" {
		s.log.Warn().Str("reason", guidance.Fallback).Msg("guidance fell back to template")
	}

	return &AnalyzeResult{
		Similarity: Similarities{
			UserVsIdeal:     userIdeal,
			QuestionVsIdeal: questionIdeal,
		},
		Misconception: pred,
		Difficulty:    s.estimator.Estimate(s.Calibration(), req.Question, req.ItemID),
		AnswerScore:   AnswerScore(userIdeal, pred.Risk),
		Guidance:      guidance,
	}, nil
}

// AnswerScore blends similarity to the ideal answer with misconception risk.
func AnswerScore(sim, risk float64) float64 {
	return similarity.Round(similarityWeight*sim+riskWeight*(1-risk), 3)
}

// PredictMisconception labels a free-text answer with the nearest
// misconception of the current taxonomy. itemID may be empty; when the
// taxonomy recorded labels for it, a label outside that set is reported as
// unseen with risk at least 0.5.
func (s *Service) PredictMisconception(ctx context.Context, text, itemID string) (Prediction, error) {
	if len(strings.TrimSpace(text)) < minAnswerLen {
		return Prediction{}, errs.Invalid("text", -1, "must not be empty")
	}
	e, err := embedding.EmbedOne(ctx, s.gated, text)
	if err != nil {
		return Prediction{}, fmt.Errorf("embed text: %w", err)
	}
	return s.predict(e, itemID)
}

// predict classifies an already gated embedding.
func (s *Service) predict(e embedding.Embedding, itemID string) (Prediction, error) {
	c := diagnosis.NewClassifier(s.taxonomy.Load())
	c.MaxDistance = s.maxDistance

	res, err := c.ClassifyItem(e, itemID)
	if err != nil {
		return Prediction{}, err
	}

	risk := diagnosis.Risk(res)
	p := Prediction{
		Label:        res.Label,
		Kind:         res.Kind,
		Confidence:   similarity.Round(res.Confidence, 3),
		Risk:         similarity.Round(risk, 3),
		Severity:     diagnosis.SeverityOf(risk),
		GenerationID: res.GenerationID,
	}
	if res.Kind != diagnosis.LabelUnknown {
		id := res.ClusterID
		p.ClusterID = &id
	}
	if res.ColdStart {
		p.Warnings = append(p.Warnings, errs.Warning{
			Kind:    errs.KindColdStart,
			Subject: "taxonomy",
			Message: "no misconception clusters have been published",
		})
	}
	return p, nil
}

// EstimateDifficulty reports the difficulty of a question, from the current
// calibration when itemID is known and from its text otherwise.
func (s *Service) EstimateDifficulty(_ context.Context, question, itemID string) (difficulty.Estimate, error) {
	if itemID == "" && len(strings.TrimSpace(question)) < minQuestionLen {
		return difficulty.Estimate{}, errs.Invalid("question_text", -1, "must be at least %d characters", minQuestionLen)
	}
	return s.estimator.Estimate(s.Calibration(), question, itemID), nil
}

// Cluster embeds texts, groups them into misconception clusters and, unless
// DryRun is set, publishes the result as the new taxonomy.
func (s *Service) Cluster(ctx context.Context, req ClusterRequest) (*ClusterResponse, error) {
	if len(req.Texts) == 0 {
		return nil, errs.Invalid("texts", -1, "no texts to cluster")
	}
	for i, t := range req.Texts {
		if strings.TrimSpace(t) == "" {
			return nil, errs.Invalid("texts", i, "empty text")
		}
	}
	if req.ItemIDs != nil && len(req.ItemIDs) != len(req.Texts) {
		return nil, &errs.InputShapeError{What: "item_ids", Index: -1, Expected: len(req.Texts), Got: len(req.ItemIDs)}
	}

	cfg := s.clusterCfg
	if req.K > 0 {
		cfg.K = req.K
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}

	vecs, err := s.gated.Embed(ctx, req.Texts)
	if err != nil {
		return nil, fmt.Errorf("embed texts: %w", err)
	}
	res, err := cluster.Run(ctx, vecs, cfg)
	if err != nil {
		return nil, err
	}
	gen, err := diagnosis.FromClusterResult(res, req.Labels, s.gated.Name())
	if err != nil {
		return nil, fmt.Errorf("build taxonomy: %w", err)
	}
	if req.ItemIDs != nil {
		gen = gen.WithItemLabels(itemLabels(gen, req.ItemIDs, res.Assignment))
	}

	exemplars := make(map[int]string, len(res.Clusters))
	for _, c := range res.Clusters {
		if len(c.Members) > 0 {
			exemplars[c.ID] = req.Texts[c.Members[0]]
		}
	}

	resp := &ClusterResponse{
		GenerationID:     gen.ID,
		Assignment:       res.Assignment,
		Exemplars:        exemplars,
		RequestedK:       res.RequestedK,
		EffectiveK:       res.EffectiveK,
		Converged:        res.Converged,
		Silhouette:       res.Silhouette,
		CalinskiHarabasz: res.CalinskiHarabasz,
		Clusters:         gen.Clusters(),
		Warnings:         res.Warnings,
	}

	s.log.Info().
		Int("texts", len(req.Texts)).
		Int("requested_k", res.RequestedK).
		Int("effective_k", res.EffectiveK).
		Bool("converged", res.Converged).
		Bool("dry_run", req.DryRun).
		Msg("clustered texts")

	if req.DryRun {
		return resp, nil
	}

	if s.generations != nil {
		if err := s.generations.Save(ctx, gen); err != nil {
			s.log.Error().Err(err).Str("generation_id", gen.ID.String()).Msg("failed to persist taxonomy")
		} else {
			resp.Persisted = true
		}
	}
	s.PublishTaxonomy(gen)
	resp.Published = true
	return resp, nil
}

// itemLabels collects, per item, the labels of the clusters its answers
// were assigned to.
func itemLabels(gen *diagnosis.Generation, itemIDs []string, assignment []int) map[string][]string {
	ref := make(map[string][]string)
	for i, item := range itemIDs {
		if item == "" {
			continue
		}
		if c, ok := gen.Cluster(assignment[i]); ok {
			ref[item] = append(ref[item], c.Label)
		}
	}
	return ref
}

func (r AnalyzeRequest) validate() error {
	checks := []struct {
		field string
		value string
		min   int
	}{
		{"question_text", r.Question, minQuestionLen},
		{"ideal_answer_text", r.IdealAnswer, minIdealLen},
		{"user_answer_text", r.UserAnswer, minAnswerLen},
	}
	for _, c := range checks {
		if len([]rune(strings.TrimSpace(c.value))) < c.min {
			return errs.Invalid(c.field, -1, "must be at least %d characters", c.min)
		}
	}
	return nil
}
