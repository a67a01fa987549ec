package store

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS generations (
		id          TEXT PRIMARY KEY,
		created_at  TIMESTAMP NOT NULL,
		dimension   INTEGER NOT NULL,
		source      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS clusters (
		generation_id TEXT NOT NULL REFERENCES generations(id) ON DELETE CASCADE,
		cluster_id    INTEGER NOT NULL,
		label         TEXT NOT NULL,
		size          INTEGER NOT NULL,
		cohesion      REAL NOT NULL,
		centroid      TEXT NOT NULL,
		PRIMARY KEY (generation_id, cluster_id)
	)`,
	`CREATE TABLE IF NOT EXISTS item_labels (
		generation_id TEXT NOT NULL REFERENCES generations(id) ON DELETE CASCADE,
		item_id       TEXT NOT NULL,
		label         TEXT NOT NULL,
		PRIMARY KEY (generation_id, item_id, label)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_generations_created_at ON generations(created_at)`,

	`CREATE TABLE IF NOT EXISTS gates (
		id         TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		input_dim  INTEGER NOT NULL,
		output_dim INTEGER NOT NULL,
		weights    TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS calibrations (
		id             TEXT PRIMARY KEY,
		created_at     TIMESTAMP NOT NULL,
		iterations     INTEGER NOT NULL,
		converged      BOOLEAN NOT NULL,
		max_change     REAL NOT NULL,
		log_likelihood REAL NOT NULL,
		warnings       TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS item_params (
		calibration_id TEXT NOT NULL REFERENCES calibrations(id) ON DELETE CASCADE,
		position       INTEGER NOT NULL,
		item_id        TEXT NOT NULL,
		a              REAL NOT NULL,
		b              REAL NOT NULL,
		se_a           REAL NOT NULL,
		se_b           REAL NOT NULL,
		converged      BOOLEAN NOT NULL,
		identifiable   BOOLEAN NOT NULL,
		floored        BOOLEAN NOT NULL,
		observed       INTEGER NOT NULL,
		p_value        REAL NOT NULL,
		PRIMARY KEY (calibration_id, item_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_calibrations_created_at ON calibrations(created_at)`,

	`CREATE TABLE IF NOT EXISTS llm_request_events (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		sequence      INTEGER NOT NULL UNIQUE,
		timestamp     TIMESTAMP NOT NULL,
		provider      TEXT NOT NULL,
		model         TEXT NOT NULL,
		purpose       TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		latency_ms    INTEGER NOT NULL DEFAULT 0,
		success       BOOLEAN NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		request_body  TEXT NOT NULL DEFAULT '',
		response_body TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_llm_events_purpose ON llm_request_events(purpose)`,
	`CREATE INDEX IF NOT EXISTS idx_llm_events_model ON llm_request_events(model)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %.40q: %w", stmt, err)
		}
	}
	return nil
}
