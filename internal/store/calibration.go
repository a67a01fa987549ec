package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/misconcept/internal/errs"
	"github.com/abhisek/misconcept/internal/irt"
)

// calibrationRepo implements CalibrationRepo.
type calibrationRepo struct {
	db *sql.DB
}

func (r *calibrationRepo) Save(ctx context.Context, c *irt.Calibration) error {
	warnings, err := json.Marshal(c.Warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO calibrations (id, created_at, iterations, converged, max_change, log_likelihood, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.CreatedAt.UTC(), c.Iterations, c.Converged, c.MaxChange, c.LogLikelihood, string(warnings))
	if err != nil {
		return fmt.Errorf("save calibration %s: %w", c.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO item_params (calibration_id, position, item_id, a, b, se_a, se_b,
			converged, identifiable, floored, observed, p_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare item insert: %w", err)
	}
	defer stmt.Close()

	for i, it := range c.Items {
		_, err := stmt.ExecContext(ctx, c.ID.String(), i, it.ItemID,
			it.Discrimination, it.Difficulty, it.SEDiscrimination, it.SEDifficulty,
			it.Converged, it.Identifiable, it.Floored, it.Observed, it.PValue)
		if err != nil {
			return fmt.Errorf("save item %q: %w", it.ItemID, err)
		}
	}

	return tx.Commit()
}

func (r *calibrationRepo) Get(ctx context.Context, id uuid.UUID) (*irt.Calibration, error) {
	var (
		createdAt  time.Time
		iterations int
		converged  bool
		maxChange  float64
		logLik     float64
		warnings   string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT created_at, iterations, converged, max_change, log_likelihood, warnings
		FROM calibrations WHERE id = ?`, id.String(),
	).Scan(&createdAt, &iterations, &converged, &maxChange, &logLik, &warnings)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query calibration %s: %w", id, err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT item_id, a, b, se_a, se_b, converged, identifiable, floored, observed, p_value
		FROM item_params WHERE calibration_id = ? ORDER BY position`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query item params: %w", err)
	}
	defer rows.Close()

	var items []irt.ItemParameters
	for rows.Next() {
		var it irt.ItemParameters
		if err := rows.Scan(&it.ItemID, &it.Discrimination, &it.Difficulty,
			&it.SEDiscrimination, &it.SEDifficulty, &it.Converged, &it.Identifiable,
			&it.Floored, &it.Observed, &it.PValue); err != nil {
			return nil, fmt.Errorf("scan item params: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	c, err := irt.RestoreCalibration(id, createdAt, items)
	if err != nil {
		return nil, fmt.Errorf("restore calibration %s: %w", id, err)
	}
	c.Iterations = iterations
	c.Converged = converged
	c.MaxChange = maxChange
	c.LogLikelihood = logLik
	var ws []errs.Warning
	if err := json.Unmarshal([]byte(warnings), &ws); err != nil {
		return nil, fmt.Errorf("decode warnings: %w", err)
	}
	c.Warnings = ws
	return c, nil
}

func (r *calibrationRepo) Latest(ctx context.Context) (*irt.Calibration, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM calibrations ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest calibration: %w", err)
	}
	return r.Get(ctx, uuid.MustParse(id))
}
