package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/misconcept/internal/diagnosis"
	"github.com/abhisek/misconcept/internal/embedding"
)

// generationRepo implements GenerationRepo. Centroids are stored as JSON
// arrays so the database stays readable with the sqlite3 shell.
type generationRepo struct {
	db *sql.DB
}

func (r *generationRepo) Save(ctx context.Context, g *diagnosis.Generation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO generations (id, created_at, dimension, source) VALUES (?, ?, ?, ?)`,
		g.ID.String(), g.CreatedAt.UTC(), g.Dimension, g.Source)
	if err != nil {
		return fmt.Errorf("save generation %s: %w", g.ID, err)
	}

	for _, c := range g.Clusters() {
		centroid, err := json.Marshal(c.Centroid)
		if err != nil {
			return fmt.Errorf("marshal centroid %d: %w", c.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO clusters (generation_id, cluster_id, label, size, cohesion, centroid)
			VALUES (?, ?, ?, ?, ?, ?)`,
			g.ID.String(), c.ID, c.Label, c.Size, c.Cohesion, string(centroid))
		if err != nil {
			return fmt.Errorf("save cluster %d: %w", c.ID, err)
		}
	}

	for item, labels := range g.ItemLabels() {
		for _, label := range labels {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO item_labels (generation_id, item_id, label) VALUES (?, ?, ?)`,
				g.ID.String(), item, label)
			if err != nil {
				return fmt.Errorf("save label %q of item %q: %w", label, item, err)
			}
		}
	}

	return tx.Commit()
}

func (r *generationRepo) Get(ctx context.Context, id uuid.UUID) (*diagnosis.Generation, error) {
	var createdAt time.Time
	var source string
	err := r.db.QueryRowContext(ctx,
		`SELECT created_at, source FROM generations WHERE id = ?`, id.String(),
	).Scan(&createdAt, &source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query generation %s: %w", id, err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT cluster_id, label, size, cohesion, centroid
		FROM clusters WHERE generation_id = ? ORDER BY cluster_id`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []diagnosis.MisconceptionCluster
	for rows.Next() {
		var c diagnosis.MisconceptionCluster
		var centroid string
		if err := rows.Scan(&c.ID, &c.Label, &c.Size, &c.Cohesion, &centroid); err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		var vec embedding.Embedding
		if err := json.Unmarshal([]byte(centroid), &vec); err != nil {
			return nil, fmt.Errorf("decode centroid %d: %w", c.ID, err)
		}
		c.Centroid = vec
		clusters = append(clusters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	g, err := diagnosis.RestoreGeneration(id, createdAt, clusters, source)
	if err != nil {
		return nil, fmt.Errorf("restore generation %s: %w", id, err)
	}

	labels, err := r.itemLabels(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(labels) > 0 {
		g = g.WithItemLabels(labels)
	}
	return g, nil
}

func (r *generationRepo) itemLabels(ctx context.Context, id uuid.UUID) (map[string][]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT item_id, label FROM item_labels WHERE generation_id = ?`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query item labels: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var item, label string
		if err := rows.Scan(&item, &label); err != nil {
			return nil, fmt.Errorf("scan item label: %w", err)
		}
		out[item] = append(out[item], label)
	}
	return out, rows.Err()
}

func (r *generationRepo) Latest(ctx context.Context) (*diagnosis.Generation, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM generations ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest generation: %w", err)
	}
	return r.Get(ctx, uuid.MustParse(id))
}

func (r *generationRepo) List(ctx context.Context, limit int) ([]GenerationSummary, error) {
	query := `
		SELECT g.id, g.created_at, g.dimension, g.source, COUNT(c.cluster_id)
		FROM generations g LEFT JOIN clusters c ON c.generation_id = g.id
		GROUP BY g.id
		ORDER BY g.created_at DESC, g.rowid DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var out []GenerationSummary
	for rows.Next() {
		var s GenerationSummary
		var id string
		if err := rows.Scan(&id, &s.CreatedAt, &s.Dimension, &s.Source, &s.Clusters); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		if s.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse generation id %q: %w", id, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *generationRepo) Prune(ctx context.Context, keep int) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM generations WHERE id NOT IN (
			SELECT id FROM generations ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("prune generations: %w", err)
	}
	return nil
}
