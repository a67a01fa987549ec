package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/abhisek/misconcept/internal/analyzer"
	"github.com/abhisek/misconcept/internal/cache"
	"github.com/abhisek/misconcept/internal/config"
	"github.com/abhisek/misconcept/internal/diagnosis"
	"github.com/abhisek/misconcept/internal/difficulty"
	"github.com/abhisek/misconcept/internal/embedding"
	"github.com/abhisek/misconcept/internal/llm"
	"github.com/abhisek/misconcept/internal/logging"
	"github.com/abhisek/misconcept/internal/store"
)

// env is the wiring shared by commands: configuration, logger, store and
// the pieces built from them. Fields stay nil until requested.
type env struct {
	cfg   *config.Config
	log   zerolog.Logger
	store *store.Store
	cache cache.Client
}

// loadEnv reads configuration and builds the logger. Logs go to stderr so
// command output stays clean.
func loadEnv(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	log := logging.New(cfg.Log, os.Stderr)
	cmd.SetContext(logging.WithContext(contextOf(cmd), log))
	return &env{cfg: cfg, log: log}, nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openStore opens the artifact store.
func (e *env) openStore(cmd *cobra.Command) (*store.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	dbPath, err := resolveDBPath(cmd, e.cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve DB path: %w", err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	e.log.Debug().Str("path", dbPath).Msg("store opened")
	e.store = st
	return st, nil
}

// embedder builds the configured embedder, wrapped with the cache when one
// is configured.
func (e *env) embedder(ctx context.Context) (embedding.Embedder, error) {
	emb, err := embedding.New(e.cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	if e.cache == nil {
		c, err := cache.New(ctx, e.cfg.Cache)
		if err != nil {
			// The cache is an optimisation; run without it.
			e.log.Warn().Err(err).Str("driver", e.cfg.Cache.Driver).Msg("embedding cache unavailable")
			return emb, nil
		}
		e.cache = c
	}
	if e.cache != nil {
		emb = embedding.WithCache(emb, e.cache, e.cfg.Cache.TTL)
	}
	return emb, nil
}

// provider returns the guidance LLM provider, or nil when guidance is
// template-only or no provider is configured.
func (e *env) provider(ctx context.Context, recorder llm.EventRecorder) llm.Provider {
	if !e.cfg.Guidance.LLM {
		return nil
	}
	p, err := llm.NewProviderFromEnv(ctx, recorder, e.log)
	if err != nil {
		if !errors.Is(err, llm.ErrNotConfigured) {
			e.log.Warn().Err(err).Msg("LLM provider not available, using template guidance")
		}
		return nil
	}
	return p
}

// analyzer builds the analyzer service, seeded with the latest stored
// taxonomy and calibration.
func (e *env) analyzer(cmd *cobra.Command) (*analyzer.Service, error) {
	ctx := contextOf(cmd)
	st, err := e.openStore(cmd)
	if err != nil {
		return nil, err
	}

	emb, err := e.embedder(ctx)
	if err != nil {
		return nil, err
	}
	buckets, err := e.cfg.Bucketizer()
	if err != nil {
		return nil, err
	}

	taxonomy, err := st.GenerationRepo().Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("load taxonomy: %w", err)
	}
	if taxonomy != nil && taxonomy.Dimension != emb.Dimension() {
		e.log.Warn().
			Int("taxonomy_dimension", taxonomy.Dimension).
			Int("embedder_dimension", emb.Dimension()).
			Msg("stored taxonomy does not match the embedder; starting cold")
		taxonomy = nil
	}
	calibration, err := st.CalibrationRepo().Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("load calibration: %w", err)
	}
	gate := e.gate(ctx, st)

	opts := analyzer.Options{
		Embedder:    emb,
		Gate:        gate,
		Guide:       diagnosis.NewGuide(e.provider(ctx, st.EventRepo()), e.cfg.Guide()),
		Estimator:   difficulty.NewEstimator(buckets),
		Cluster:     e.cfg.Cluster,
		MaxDistance: e.cfg.Classifier.MaxDistance,
		Taxonomy:    taxonomy,
		Calibration: calibration,
		Logger:      e.log,
	}
	if e.cfg.Database.Persist {
		opts.Generations = st.GenerationRepo()
	}
	return analyzer.New(opts)
}

// gate loads the latest stored gate. A missing, disabled or unreadable
// gate leaves embeddings ungated.
func (e *env) gate(ctx context.Context, st *store.Store) *embedding.Gate {
	if e.cfg.Embedding.DisableGate {
		return nil
	}
	g, err := st.GateRepo().Latest(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("gate unavailable, using raw embeddings")
		return nil
	}
	if g != nil {
		e.log.Debug().Str("gate", g.ID.String()).Int("input_dim", g.InputDim()).Msg("gate loaded")
	}
	return g
}

// Close releases the store and cache.
func (e *env) Close() {
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			e.log.Warn().Err(err).Msg("close cache")
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.log.Warn().Err(err).Msg("close store")
		}
	}
}
