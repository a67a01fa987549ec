package analyzer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/misconcept/internal/diagnosis"
	"github.com/abhisek/misconcept/internal/difficulty"
	"github.com/abhisek/misconcept/internal/embedding"
	"github.com/abhisek/misconcept/internal/errs"
	"github.com/abhisek/misconcept/internal/irt"
	"github.com/abhisek/misconcept/internal/llm"
)

var epsilonTexts = []string{
	"epsilon transitions consume no input symbol",
	"an epsilon move consumes no input symbol at all",
	"epsilon transitions move without consuming input",
}

var unionTexts = []string{
	"the union of two regular languages is regular",
	"regular languages are closed under union",
	"union of regular languages stays regular",
}

type recordingSaver struct {
	mu    sync.Mutex
	saved []*diagnosis.Generation
	err   error
}

func (r *recordingSaver) Save(_ context.Context, g *diagnosis.Generation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, g)
	return nil
}

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Embedder == nil {
		opts.Embedder = embedding.NewHashEmbedder(512)
	}
	opts.Logger = zerolog.Nop()
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func allTexts() []string {
	return append(append([]string{}, epsilonTexts...), unionTexts...)
}

func TestNew_RequiresEmbedder(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestAnalyze_ColdStart(t *testing.T) {
	s := newTestService(t, Options{})

	res, err := s.Analyze(context.Background(), AnalyzeRequest{
		Question:    "What does an epsilon transition consume?",
		IdealAnswer: "It consumes no input symbol.",
		UserAnswer:  "It consumes no input symbol.",
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, res.Similarity.UserVsIdeal)
	assert.Equal(t, diagnosis.UnknownLabel, res.Misconception.Label)
	assert.Equal(t, diagnosis.LabelUnknown, res.Misconception.Kind)
	assert.Nil(t, res.Misconception.ClusterID)
	assert.Equal(t, 0.4, res.Misconception.Risk)
	require.Len(t, res.Misconception.Warnings, 1)
	assert.Equal(t, errs.KindColdStart, res.Misconception.Warnings[0].Kind)

	assert.False(t, res.Difficulty.HasIRT)
	assert.Equal(t, 0.86, res.AnswerScore)

	require.NotNil(t, res.Guidance)
	assert.Equal(t, "template", res.Guidance.Source)
	assert.Len(t, res.Guidance.Tips, 2)
}

func TestAnalyze_Validation(t *testing.T) {
	s := newTestService(t, Options{})

	tests := []struct {
		name  string
		req   AnalyzeRequest
		field string
	}{
		{"short question", AnalyzeRequest{Question: "Q?", IdealAnswer: "ideal", UserAnswer: "x"}, "question_text"},
		{"short ideal", AnalyzeRequest{Question: "Why?", IdealAnswer: " a ", UserAnswer: "x"}, "ideal_answer_text"},
		{"empty answer", AnalyzeRequest{Question: "Why?", IdealAnswer: "ideal", UserAnswer: "   "}, "user_answer_text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Analyze(context.Background(), tt.req)
			var shape *errs.InputShapeError
			require.True(t, errors.As(err, &shape), "got %v", err)
			assert.Equal(t, tt.field, shape.What)
		})
	}
}

func TestAnalyze_LLMGuidance(t *testing.T) {
	stub := llm.NewStub(llm.Reply{Content: `{"suggestions":["Say what epsilon means.","Give an example."]}`})
	s := newTestService(t, Options{Guide: diagnosis.NewGuide(stub, diagnosis.DefaultGuideConfig())})

	res, err := s.Analyze(context.Background(), AnalyzeRequest{
		Question:    "What does an epsilon transition consume?",
		IdealAnswer: "It consumes no input symbol.",
		UserAnswer:  "One symbol.",
	})
	require.NoError(t, err)
	assert.Equal(t, "llm", res.Guidance.Source)
	assert.Equal(t, []string{"Say what epsilon means.", "Give an example."}, res.Guidance.Tips)
	assert.Len(t, stub.Prompts(), 1)
}

func TestAnalyze_UsesCalibration(t *testing.T) {
	cal, err := irt.NewCalibration([]irt.ItemParameters{
		{ItemID: "q1", Discrimination: 1.3, Difficulty: 2, Identifiable: true},
	})
	require.NoError(t, err)
	s := newTestService(t, Options{Calibration: cal})

	res, err := s.Analyze(context.Background(), AnalyzeRequest{
		Question:    "Is the union of two regular languages regular?",
		IdealAnswer: "Yes, regular languages are closed under union.",
		UserAnswer:  "yes",
		ItemID:      "q1",
	})
	require.NoError(t, err)
	assert.True(t, res.Difficulty.HasIRT)
	assert.Equal(t, 1.3, res.Difficulty.A)
	assert.Equal(t, difficulty.Hard, res.Difficulty.Bucket)
}

func TestEstimateDifficulty(t *testing.T) {
	cal, err := irt.NewCalibration([]irt.ItemParameters{
		{ItemID: "easy", Discrimination: 1, Difficulty: -3, Identifiable: true},
	})
	require.NoError(t, err)
	s := newTestService(t, Options{})

	est, err := s.EstimateDifficulty(context.Background(), "Define a regular language.", "easy")
	require.NoError(t, err)
	assert.False(t, est.HasIRT, "no calibration published yet")

	s.PublishCalibration(cal)
	est, err = s.EstimateDifficulty(context.Background(), "", "easy")
	require.NoError(t, err)
	assert.True(t, est.HasIRT)
	assert.Equal(t, difficulty.Easy, est.Bucket)

	_, err = s.EstimateDifficulty(context.Background(), "  ", "")
	require.Error(t, err)
}

func TestCluster_PublishesAndPredicts(t *testing.T) {
	saver := &recordingSaver{}
	s := newTestService(t, Options{Generations: saver})
	texts := allTexts()

	resp, err := s.Cluster(context.Background(), ClusterRequest{
		Texts:  texts,
		K:      2,
		Labels: map[int]string{0: "first-group"},
	})
	require.NoError(t, err)

	assert.True(t, resp.Published)
	assert.True(t, resp.Persisted)
	assert.Equal(t, 2, resp.EffectiveK)
	require.Len(t, resp.Assignment, len(texts))
	assert.Len(t, resp.Exemplars, 2)
	for id, ex := range resp.Exemplars {
		assert.Contains(t, texts, ex, "exemplar of cluster %d", id)
	}

	for i := 1; i < len(epsilonTexts); i++ {
		assert.Equal(t, resp.Assignment[0], resp.Assignment[i])
	}
	assert.NotEqual(t, resp.Assignment[0], resp.Assignment[len(epsilonTexts)])

	require.Len(t, saver.saved, 1)
	assert.Equal(t, resp.GenerationID, saver.saved[0].ID)
	assert.Equal(t, resp.GenerationID, s.Taxonomy().ID)

	pred, err := s.PredictMisconception(context.Background(), texts[0], "")
	require.NoError(t, err)
	assert.Equal(t, diagnosis.LabelKnown, pred.Kind)
	require.NotNil(t, pred.ClusterID)
	assert.Equal(t, resp.Assignment[0], *pred.ClusterID)
	assert.Equal(t, resp.GenerationID, pred.GenerationID)
	assert.Empty(t, pred.Warnings)
	assert.GreaterOrEqual(t, pred.Confidence, 0.5)

	for _, c := range resp.Clusters {
		if c.ID != 0 {
			assert.Equal(t, diagnosis.DefaultLabel(c.ID), c.Label)
		} else {
			assert.Equal(t, "first-group", c.Label)
		}
	}
}

func TestCluster_DryRun(t *testing.T) {
	saver := &recordingSaver{}
	s := newTestService(t, Options{Generations: saver})
	before := s.Taxonomy().ID

	resp, err := s.Cluster(context.Background(), ClusterRequest{Texts: allTexts(), K: 2, DryRun: true})
	require.NoError(t, err)
	assert.False(t, resp.Published)
	assert.False(t, resp.Persisted)
	assert.Equal(t, before, s.Taxonomy().ID)
	assert.Empty(t, saver.saved)
}

func TestCluster_PersistFailureStillPublishes(t *testing.T) {
	saver := &recordingSaver{err: errors.New("disk full")}
	s := newTestService(t, Options{Generations: saver})

	resp, err := s.Cluster(context.Background(), ClusterRequest{Texts: allTexts(), K: 2})
	require.NoError(t, err)
	assert.True(t, resp.Published)
	assert.False(t, resp.Persisted)
	assert.Equal(t, resp.GenerationID, s.Taxonomy().ID)
}

func TestCluster_Deterministic(t *testing.T) {
	s := newTestService(t, Options{})
	seed := uint64(7)

	a, err := s.Cluster(context.Background(), ClusterRequest{Texts: allTexts(), K: 3, Seed: &seed, DryRun: true})
	require.NoError(t, err)
	b, err := s.Cluster(context.Background(), ClusterRequest{Texts: allTexts(), K: 3, Seed: &seed, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, a.Assignment, b.Assignment)
}

func TestCluster_Validation(t *testing.T) {
	s := newTestService(t, Options{})

	_, err := s.Cluster(context.Background(), ClusterRequest{})
	require.Error(t, err)

	_, err = s.Cluster(context.Background(), ClusterRequest{Texts: []string{"fine", " "}})
	var shape *errs.InputShapeError
	require.True(t, errors.As(err, &shape))
	assert.Equal(t, 1, shape.Index)
}

func TestCluster_ItemLabels(t *testing.T) {
	s := newTestService(t, Options{})
	ctx := context.Background()
	items := []string{"q1", "q1", "q1", "q2", "q2", "q2"}

	resp, err := s.Cluster(ctx, ClusterRequest{Texts: allTexts(), K: 2, ItemIDs: items})
	require.NoError(t, err)
	unionLabel := diagnosis.DefaultLabel(resp.Assignment[len(epsilonTexts)])

	q2, ok := s.Taxonomy().KnownLabels("q2")
	require.True(t, ok)
	assert.Equal(t, []string{unionLabel}, q2)

	pred, err := s.PredictMisconception(ctx, unionTexts[1], "q2")
	require.NoError(t, err)
	assert.Equal(t, diagnosis.LabelKnown, pred.Kind)
	assert.Equal(t, unionLabel, pred.Label)

	pred, err = s.PredictMisconception(ctx, unionTexts[1], "q1")
	require.NoError(t, err)
	assert.Equal(t, diagnosis.LabelUnseen, pred.Kind)
	assert.Equal(t, unionLabel+" (unseen@q1)", pred.Label)
	assert.GreaterOrEqual(t, pred.Risk, 0.5)
	require.NotNil(t, pred.ClusterID)
	assert.Equal(t, resp.Assignment[len(epsilonTexts)], *pred.ClusterID)

	pred, err = s.PredictMisconception(ctx, unionTexts[1], "q9")
	require.NoError(t, err)
	assert.Equal(t, diagnosis.LabelKnown, pred.Kind, "items without a record are not checked")

	res, err := s.Analyze(ctx, AnalyzeRequest{
		Question:    "Are regular languages closed under union?",
		IdealAnswer: "Yes, the union of two regular languages is regular.",
		UserAnswer:  unionTexts[2],
		ItemID:      "q1",
	})
	require.NoError(t, err)
	assert.Equal(t, diagnosis.LabelUnseen, res.Misconception.Kind)
}

func TestCluster_ItemIDsLengthMismatch(t *testing.T) {
	s := newTestService(t, Options{})
	_, err := s.Cluster(context.Background(), ClusterRequest{Texts: allTexts(), ItemIDs: []string{"q1"}})
	var shape *errs.InputShapeError
	require.True(t, errors.As(err, &shape), "got %v", err)
	assert.Equal(t, "item_ids", shape.What)
	assert.Equal(t, len(allTexts()), shape.Expected)
}

// testGate reads the first feature and attenuates the first 64 features
// by different amounts.
func testGate(t *testing.T) *embedding.Gate {
	t.Helper()
	w2 := make([][]float64, 64)
	for i := range w2 {
		w2[i] = []float64{float64(i%5) - 2}
	}
	g, err := embedding.NewGate([][]float64{{4}}, []float64{0.5}, w2, make([]float64, len(w2)))
	require.NoError(t, err)
	return g
}

func TestGate_ClassificationOnly(t *testing.T) {
	gate := testGate(t)
	plain := newTestService(t, Options{})
	gated := newTestService(t, Options{Gate: gate})
	ctx := context.Background()

	req := AnalyzeRequest{
		Question:    "What does an epsilon transition consume?",
		IdealAnswer: "It consumes no input symbol.",
		UserAnswer:  "An epsilon move reads one symbol.",
	}
	a, err := plain.Analyze(ctx, req)
	require.NoError(t, err)
	b, err := gated.Analyze(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, a.Similarity, b.Similarity, "similarity uses raw embeddings")

	_, err = gated.Cluster(ctx, ClusterRequest{Texts: allTexts(), K: 2})
	require.NoError(t, err)
	tax := gated.Taxonomy()
	assert.Contains(t, tax.Source, "+gate-")

	raw, err := embedding.EmbedOne(ctx, embedding.NewHashEmbedder(512), unionTexts[0])
	require.NoError(t, err)
	want, err := diagnosis.NewClassifier(tax).Classify(gate.Apply(raw))
	require.NoError(t, err)

	pred, err := gated.PredictMisconception(ctx, unionTexts[0], "")
	require.NoError(t, err)
	assert.Equal(t, want.Label, pred.Label)
	assert.InDelta(t, want.Confidence, pred.Confidence, 1e-3)
}

func TestPredictMisconception_OutOfDistribution(t *testing.T) {
	s := newTestService(t, Options{MaxDistance: 0.01})
	_, err := s.Cluster(context.Background(), ClusterRequest{Texts: epsilonTexts, K: 1})
	require.NoError(t, err)

	pred, err := s.PredictMisconception(context.Background(), "pumping lemma for context free grammars", "")
	require.NoError(t, err)
	assert.Equal(t, diagnosis.UnknownLabel, pred.Label)
	assert.Nil(t, pred.ClusterID)
}

func TestPredictMisconception_ConcurrentPublish(t *testing.T) {
	s := newTestService(t, Options{})
	_, err := s.Cluster(context.Background(), ClusterRequest{Texts: allTexts(), K: 2})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = s.Cluster(context.Background(), ClusterRequest{Texts: allTexts(), K: 2})
				return
			}
			_, err := s.PredictMisconception(context.Background(), unionTexts[0], "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestAnswerScore(t *testing.T) {
	tests := []struct {
		sim, risk, want float64
	}{
		{1, 0, 1},
		{0, 1, 0},
		{1, 0.4, 0.86},
		{0.5, 0.2, 0.605},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, AnswerScore(tt.sim, tt.risk), 1e-9)
	}
}
