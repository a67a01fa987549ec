package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/misconcept/internal/embedding"
)

type gateWeights struct {
	W1 [][]float64 `json:"w1"`
	B1 []float64   `json:"b1"`
	W2 [][]float64 `json:"w2"`
	B2 []float64   `json:"b2"`
}

// gateRepo implements GateRepo. The weight matrices are one JSON column;
// gates are read whole and never queried by weight.
type gateRepo struct {
	db *sql.DB
}

func (r *gateRepo) Save(ctx context.Context, g *embedding.Gate) error {
	if err := g.Validate(); err != nil {
		return err
	}
	weights, err := json.Marshal(gateWeights{W1: g.W1, B1: g.B1, W2: g.W2, B2: g.B2})
	if err != nil {
		return fmt.Errorf("marshal gate weights: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO gates (id, created_at, input_dim, output_dim, weights) VALUES (?, ?, ?, ?, ?)`,
		g.ID.String(), g.CreatedAt.UTC(), g.InputDim(), len(g.W2), string(weights))
	if err != nil {
		return fmt.Errorf("save gate %s: %w", g.ID, err)
	}
	return nil
}

func (r *gateRepo) Get(ctx context.Context, id uuid.UUID) (*embedding.Gate, error) {
	var createdAt time.Time
	var weights string
	err := r.db.QueryRowContext(ctx,
		`SELECT created_at, weights FROM gates WHERE id = ?`, id.String(),
	).Scan(&createdAt, &weights)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query gate %s: %w", id, err)
	}

	var w gateWeights
	if err := json.Unmarshal([]byte(weights), &w); err != nil {
		return nil, fmt.Errorf("decode gate %s: %w", id, err)
	}
	g := &embedding.Gate{ID: id, CreatedAt: createdAt, W1: w.W1, B1: w.B1, W2: w.W2, B2: w.B2}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("gate %s: %w", id, err)
	}
	return g, nil
}

func (r *gateRepo) Latest(ctx context.Context) (*embedding.Gate, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM gates ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest gate: %w", err)
	}
	return r.Get(ctx, uuid.MustParse(id))
}
