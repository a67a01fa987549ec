package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/misconcept/internal/diagnosis"
	"github.com/abhisek/misconcept/internal/embedding"
	"github.com/abhisek/misconcept/internal/errs"
	"github.com/abhisek/misconcept/internal/irt"
	"github.com/abhisek/misconcept/internal/llm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testGeneration(t *testing.T) *diagnosis.Generation {
	t.Helper()
	g, err := diagnosis.NewGeneration([]diagnosis.MisconceptionCluster{
		{ID: 0, Label: "epsilon-as-symbol", Centroid: embedding.Embedding{1, 0, 0}, Size: 4, Cohesion: 0.91},
		{ID: 1, Label: "union-vs-concat", Centroid: embedding.Embedding{0, 0.6, 0.8}, Size: 2, Cohesion: 0.75},
	}, "test")
	require.NoError(t, err)
	return g
}

func testCalibration(t *testing.T) *irt.Calibration {
	t.Helper()
	c, err := irt.NewCalibration([]irt.ItemParameters{
		{ItemID: "q1", Discrimination: 1.2, Difficulty: -0.4, SEDiscrimination: 0.1, SEDifficulty: 0.08, Converged: true, Identifiable: true, Observed: 120, PValue: 0.62},
		{ItemID: "q2", Discrimination: 1, Difficulty: -4, Observed: 120, PValue: 1},
	})
	require.NoError(t, err)
	c.Iterations = 17
	c.LogLikelihood = -512.25
	c.Warnings = []errs.Warning{{Kind: errs.KindUnidentifiableParameter, Subject: "item", ID: "q2", Message: "all correct"}}
	return c
}

func TestOpenClose(t *testing.T) {
	s := openTestStore(t)
	if s.DB() == nil {
		t.Fatal("expected non-nil db")
	}
}

func TestPragmasApplied(t *testing.T) {
	s := openTestStore(t)
	db := s.DB()

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"foreign_keys", "1"},
		{"synchronous", "1"}, // NORMAL = 1
	}

	for _, tt := range tests {
		var got string
		err := db.QueryRow("PRAGMA " + tt.pragma).Scan(&got)
		if err != nil {
			t.Errorf("PRAGMA %s: %v", tt.pragma, err)
			continue
		}
		if got != tt.want {
			t.Errorf("PRAGMA %s = %q, want %q", tt.pragma, got, tt.want)
		}
	}
}

func TestAutoMigrationCreatesTables(t *testing.T) {
	s := openTestStore(t)
	for _, table := range []string{"generations", "clusters", "item_labels", "calibrations", "item_params", "gates", "llm_request_events", "global_sequence"} {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := Open(path)
	require.NoError(t, err)
	g := testGeneration(t)
	require.NoError(t, s.GenerationRepo().Save(context.Background(), g))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GenerationRepo().Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, g.ID, got.ID)
}

func TestGenerationSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	repo := s.GenerationRepo()
	ctx := context.Background()

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest, "no generation yet")

	g := testGeneration(t)
	require.NoError(t, repo.Save(ctx, g))

	got, err := repo.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, got.ID)
	assert.True(t, g.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, 3, got.Dimension)
	assert.Equal(t, "test", got.Source)
	assert.Equal(t, g.Clusters(), got.Clusters())

	_, err = repo.Get(ctx, uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound))

	err = repo.Save(ctx, g)
	assert.Error(t, err, "generations are never overwritten")
}

func TestGenerationLatestListPrune(t *testing.T) {
	s := openTestStore(t)
	repo := s.GenerationRepo()
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	var ids []uuid.UUID
	for i := range 4 {
		g, err := diagnosis.RestoreGeneration(uuid.New(), base.Add(time.Duration(i)*time.Minute),
			testGeneration(t).Clusters(), fmt.Sprintf("run-%d", i))
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, g))
		ids = append(ids, g.ID)
	}

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[3], latest.ID)

	list, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[3], list[0].ID)
	assert.Equal(t, "run-2", list[1].Source)
	assert.Equal(t, 2, list[0].Clusters)

	require.NoError(t, repo.Prune(ctx, 1))
	list, err = repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	var clusters int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM clusters").Scan(&clusters))
	assert.Equal(t, 2, clusters, "pruned generations cascade to their clusters")
}

func TestGenerationItemLabels(t *testing.T) {
	s := openTestStore(t)
	repo := s.GenerationRepo()
	ctx := context.Background()

	g := testGeneration(t).WithItemLabels(map[string][]string{
		"q1": {"union-vs-concat", "epsilon-as-symbol"},
		"q2": {"epsilon-as-symbol"},
	})
	require.NoError(t, repo.Save(ctx, g))

	got, err := repo.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ItemLabels(), got.ItemLabels())
	labels, ok := got.KnownLabels("q1")
	require.True(t, ok)
	assert.Equal(t, []string{"epsilon-as-symbol", "union-vs-concat"}, labels)

	require.NoError(t, repo.Prune(ctx, 0))
	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM item_labels").Scan(&n))
	assert.Zero(t, n, "labels cascade with their generation")
}

func testGate(t *testing.T) *embedding.Gate {
	t.Helper()
	g, err := embedding.NewGate([][]float64{{0.5, -1, 0}, {0, 2, 1}}, []float64{0.1, -0.1}, [][]float64{{1, 0}, {0, 1}, {-1, 1}}, []float64{0, 0.2, -0.3})
	require.NoError(t, err)
	return g
}

func TestGateSaveAndLatest(t *testing.T) {
	s := openTestStore(t)
	repo := s.GateRepo()
	ctx := context.Background()

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	g := testGate(t)
	require.NoError(t, repo.Save(ctx, g))

	got, err := repo.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, g.ID, got.ID)
	assert.True(t, g.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, g.W1, got.W1)
	assert.Equal(t, g.B2, got.B2)
	h := embedding.Embedding{0.2, 0.4, 0.9}
	assert.Equal(t, g.Apply(h), got.Apply(h))

	var inputDim int
	require.NoError(t, s.DB().QueryRow("SELECT input_dim FROM gates").Scan(&inputDim))
	assert.Equal(t, 3, inputDim)

	_, err = repo.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, repo.Save(ctx, &embedding.Gate{ID: uuid.New()}), "invalid weights")
}

func TestEmptyGenerationRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	g := diagnosis.EmptyGeneration()
	require.NoError(t, s.GenerationRepo().Save(ctx, g))

	got, err := s.GenerationRepo().Get(ctx, g.ID)
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestCalibrationSaveAndLatest(t *testing.T) {
	s := openTestStore(t)
	repo := s.CalibrationRepo()
	ctx := context.Background()

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	c := testCalibration(t)
	require.NoError(t, repo.Save(ctx, c))

	got, err := repo.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.Items, got.Items)
	assert.Equal(t, 17, got.Iterations)
	assert.Equal(t, c.Warnings, got.Warnings)
	assert.Nil(t, got.Abilities)

	q1, ok := got.Item("q1")
	require.True(t, ok)
	assert.Equal(t, 1.2, q1.Discrimination)

	_, err = repo.Get(ctx, uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSequenceCounter(t *testing.T) {
	s := openTestStore(t)
	db := s.DB()
	ctx := context.Background()

	sc, err := newSequenceCounter(db)
	if err != nil {
		t.Fatalf("new sequence counter: %v", err)
	}

	var seqs []int64
	for i := 0; i < 5; i++ {
		seq, err := sc.Next(ctx)
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		seqs = append(seqs, seq)
	}

	// Should be monotonically increasing starting from 1.
	for i, seq := range seqs {
		expected := int64(i + 1)
		if seq != expected {
			t.Errorf("seq[%d] = %d, want %d", i, seq, expected)
		}
	}
}

func TestLLMEvents(t *testing.T) {
	s := openTestStore(t)
	repo := s.EventRepo()
	ctx := context.Background()

	events := []llm.RequestEvent{
		{Provider: "openai", Model: "gpt-4o-mini", Purpose: "guidance", InputTokens: 100, OutputTokens: 20, LatencyMs: 300, Success: true, RequestBody: "[user]\nhi"},
		{Provider: "openai", Model: "gpt-4o-mini", Purpose: "guidance", InputTokens: 50, OutputTokens: 10, LatencyMs: 100, Success: false, ErrorMessage: "boom"},
		{Provider: "gemini", Model: "gemini-2.0-flash", Purpose: "labeling", InputTokens: 10, OutputTokens: 5, LatencyMs: 200, Success: true},
	}
	for _, e := range events {
		require.NoError(t, repo.AppendLLMRequest(ctx, e))
	}

	all, err := repo.QueryLLMEvents(ctx, QueryOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "labeling", all[0].Purpose, "newest first")
	assert.Greater(t, all[0].Sequence, all[1].Sequence)

	limited, err := repo.QueryLLMEvents(ctx, QueryOpts{Limit: 1, Purpose: "guidance"})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "boom", limited[0].ErrorMessage)
	assert.False(t, limited[0].Success)

	one, err := repo.GetLLMEvent(ctx, all[2].ID)
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, "[user]\nhi", one.RequestBody)
	assert.WithinDuration(t, time.Now(), one.Timestamp, time.Minute)

	missing, err := repo.GetLLMEvent(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	byPurpose, err := repo.LLMUsageByPurpose(ctx)
	require.NoError(t, err)
	require.Len(t, byPurpose, 2)
	assert.Equal(t, LLMUsage{Purpose: "guidance", Calls: 2, InputTokens: 150, OutputTokens: 30, AvgLatencyMs: 200}, byPurpose[0])

	byModel, err := repo.LLMUsageByModel(ctx)
	require.NoError(t, err)
	require.Len(t, byModel, 2)
	assert.Equal(t, "gpt-4o-mini", byModel[0].Model)
}

func TestArtifactRoundTrip(t *testing.T) {
	g := testGeneration(t)
	var buf bytes.Buffer
	require.NoError(t, WriteTaxonomy(&buf, g))

	a, err := ReadArtifact(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindTaxonomy, a.Kind)
	require.NotNil(t, a.Taxonomy)
	assert.Equal(t, g.ID, a.Taxonomy.ID)
	assert.Equal(t, g.Clusters(), a.Taxonomy.Clusters())

	c := testCalibration(t)
	buf.Reset()
	require.NoError(t, WriteCalibration(&buf, c))
	assert.NotContains(t, buf.String(), "student_id")

	a, err = ReadArtifact(&buf)
	require.NoError(t, err)
	require.NotNil(t, a.Calibration)
	assert.Equal(t, c.Items, a.Calibration.Items)
	q2, ok := a.Calibration.Item("q2")
	require.True(t, ok)
	assert.False(t, q2.Identifiable)

	s := openTestStore(t)
	require.NoError(t, s.Import(context.Background(), a))
	stored, err := s.CalibrationRepo().Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Items, stored.Items)
}

func TestArtifactGateAndItemLabels(t *testing.T) {
	g := testGate(t)
	var buf bytes.Buffer
	require.NoError(t, WriteGate(&buf, g))

	a, err := ReadArtifact(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindGate, a.Kind)
	require.NotNil(t, a.Gate)
	assert.Equal(t, g.W2, a.Gate.W2)

	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Import(ctx, a))
	stored, err := s.GateRepo().Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.B1, stored.B1)

	tax := testGeneration(t).WithItemLabels(map[string][]string{"q7": {"union-vs-concat"}})
	buf.Reset()
	require.NoError(t, WriteTaxonomy(&buf, tax))
	assert.Contains(t, buf.String(), `"item_labels"`)
	a, err = ReadArtifact(&buf)
	require.NoError(t, err)
	assert.Equal(t, tax.ItemLabels(), a.Taxonomy.ItemLabels())
}

func TestReadArtifact_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"unknown kind", `{"kind":"model","version":1}`},
		{"wrong version", `{"kind":"taxonomy","version":2,"taxonomy":{"id":"6f1c1b52-4c44-4b8e-9a55-1f0d2a3c4b5d","created_at":"2025-01-01T00:00:00Z","dimension":0,"clusters":[]}}`},
		{"kind without payload", `{"kind":"calibration","version":1}`},
		{"bad uuid", `{"kind":"taxonomy","version":1,"taxonomy":{"id":"nope","created_at":"2025-01-01T00:00:00Z","dimension":0,"clusters":[]}}`},
		{"empty centroid", `{"kind":"taxonomy","version":1,"taxonomy":{"id":"6f1c1b52-4c44-4b8e-9a55-1f0d2a3c4b5d","created_at":"2025-01-01T00:00:00Z","dimension":2,"clusters":[{"cluster_id":0,"centroid":[]}]}}`},
		{"mixed dimensions", `{"kind":"taxonomy","version":1,"taxonomy":{"id":"6f1c1b52-4c44-4b8e-9a55-1f0d2a3c4b5d","created_at":"2025-01-01T00:00:00Z","dimension":2,"clusters":[{"cluster_id":0,"centroid":[1,0]},{"cluster_id":1,"centroid":[1,0,0]}]}}`},
		{"item without b", `{"kind":"calibration","version":1,"calibration":{"id":"6f1c1b52-4c44-4b8e-9a55-1f0d2a3c4b5d","created_at":"2025-01-01T00:00:00Z","items":[{"item_id":"q1","a":1}]}}`},
		{"gate without weights", `{"kind":"gate","version":1,"gate":{"id":"6f1c1b52-4c44-4b8e-9a55-1f0d2a3c4b5d","created_at":"2025-01-01T00:00:00Z"}}`},
		{"gate layers do not chain", `{"kind":"gate","version":1,"gate":{"id":"6f1c1b52-4c44-4b8e-9a55-1f0d2a3c4b5d","created_at":"2025-01-01T00:00:00Z","w1":[[1,0]],"b1":[0],"w2":[[1,1]],"b2":[0]}}`},
		{"empty item label", `{"kind":"taxonomy","version":1,"taxonomy":{"id":"6f1c1b52-4c44-4b8e-9a55-1f0d2a3c4b5d","created_at":"2025-01-01T00:00:00Z","dimension":0,"clusters":[],"item_labels":{"q1":[""]}}}`},
		{"duplicate item", `{"kind":"calibration","version":1,"calibration":{"id":"6f1c1b52-4c44-4b8e-9a55-1f0d2a3c4b5d","created_at":"2025-01-01T00:00:00Z","items":[{"item_id":"q1","a":1,"b":0},{"item_id":"q1","a":1,"b":1}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadArtifact(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestDefaultDBPath(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("MISCONCEPT_DB", filepath.Join(dir, "explicit", "x.db"))
	p, err := DefaultDBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "explicit", "x.db"), p)
	assert.DirExists(t, filepath.Join(dir, "explicit"))

	t.Setenv("MISCONCEPT_DB", "")
	t.Setenv("XDG_DATA_HOME", dir)
	p, err = DefaultDBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "misconcept", "misconcept.db"), p)
}
