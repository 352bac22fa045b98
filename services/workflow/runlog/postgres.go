// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/AleutianAI/AleutianFlow/services/workflow/engine"
	"github.com/AleutianAI/AleutianFlow/services/workflow/graph"
	"github.com/AleutianAI/AleutianFlow/services/workflow/nodes"
)

// PostgresConfig configures the connection pool of a PostgresStore.
type PostgresConfig struct {
	URL             string        `yaml:"url"`
	PingTimeout     time.Duration `yaml:"ping_timeout"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// DefaultPostgresConfig returns pool defaults for url.
func DefaultPostgresConfig(url string) PostgresConfig {
	return PostgresConfig{
		URL:             url,
		PingTimeout:     2 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

func (c PostgresConfig) Validate() error {
	if c.URL == "" {
		return errors.New("postgres url is required")
	}
	if c.PingTimeout <= 0 {
		return errors.New("postgres ping_timeout must be positive")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("postgres max_open_conns must be >= 1")
	}
	if c.MaxIdleConns < 0 {
		return errors.New("postgres max_idle_conns must be >= 0")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("postgres max_idle_conns must be <= max_open_conns")
	}
	if c.ConnMaxLifetime < 0 || c.ConnMaxIdleTime < 0 {
		return errors.New("postgres connection lifetimes must be >= 0")
	}
	return nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS workflow_runs (
	run_id         TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	scope          TEXT NOT NULL,
	selected_nodes JSONB NOT NULL DEFAULT '[]',
	waves          JSONB NOT NULL DEFAULT '[]',
	error          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS workflow_node_states (
	run_id       TEXT NOT NULL REFERENCES workflow_runs(run_id) ON DELETE CASCADE,
	node_id      TEXT NOT NULL,
	position     INT NOT NULL,
	type         TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	output       JSONB,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	duration_ns  BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, node_id)
);
CREATE INDEX IF NOT EXISTS workflow_runs_created_at ON workflow_runs (created_at DESC);
`

// PostgresStore keeps run records in Postgres through the pgx driver.
//
// Thread Safety: safe for concurrent use.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgresStore connects, pings and creates the schema if missing.
func OpenPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &PostgresStore{db: db}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func (s *PostgresStore) OnRunStart(ctx context.Context, run engine.Run) error {
	selected, err := json.Marshal(nonNil(run.SelectedNodes))
	if err != nil {
		return err
	}
	waves, err := json.Marshal(run.Waves)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_runs (run_id, status, scope, selected_nodes, waves, error, created_at, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.RunID, string(run.Status), string(run.Scope), selected, waves, run.Error, run.CreatedAt, run.StartedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("run %s already recorded", run.RunID)
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	pos := 0
	for _, wave := range run.Waves {
		for _, id := range wave {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO workflow_node_states (run_id, node_id, position, status)
				VALUES ($1, $2, $3, $4)`,
				run.RunID, id, pos, string(engine.NodePending))
			if err != nil {
				return fmt.Errorf("insert node %s: %w", id, err)
			}
			pos++
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) OnTransition(ctx context.Context, t engine.Transition) error {
	var ns engine.NodeState
	applyTransition(&ns, t)

	var output []byte
	if ns.Output != nil {
		b, err := json.Marshal(ns.Output)
		if err != nil {
			return err
		}
		output = b
	}

	// Started_at survives later transitions; position is only set on insert.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_node_states
			(run_id, node_id, position, type, status, output, error, started_at, completed_at, duration_ns)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(position) + 1, 0) FROM workflow_node_states WHERE run_id = $1),
			$3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, node_id) DO UPDATE SET
			type = EXCLUDED.type,
			status = EXCLUDED.status,
			output = COALESCE(EXCLUDED.output, workflow_node_states.output),
			error = EXCLUDED.error,
			started_at = COALESCE(EXCLUDED.started_at, workflow_node_states.started_at),
			completed_at = EXCLUDED.completed_at,
			duration_ns = EXCLUDED.duration_ns`,
		t.RunID, t.NodeID, string(ns.Type), string(ns.Status), output, ns.Error,
		ns.StartedAt, ns.CompletedAt, int64(ns.Duration))
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", t.NodeID, err)
	}
	return nil
}

func (s *PostgresStore) OnRunComplete(ctx context.Context, c engine.Completion) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_runs SET status = $2, error = $3, completed_at = $4 WHERE run_id = $1`,
		c.RunID, string(c.Status), c.Error, c.At)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (engine.Run, error) {
	var (
		run                engine.Run
		status, scope      string
		selected, waves    []byte
		started, completed sql.NullTime
	)
	err := row.Scan(&run.RunID, &status, &scope, &selected, &waves, &run.Error, &run.CreatedAt, &started, &completed)
	if err != nil {
		return engine.Run{}, err
	}
	run.Status = engine.RunStatus(status)
	run.Scope = engine.Scope(scope)
	if err := json.Unmarshal(selected, &run.SelectedNodes); err != nil {
		return engine.Run{}, fmt.Errorf("decode selected nodes: %w", err)
	}
	if err := json.Unmarshal(waves, &run.Waves); err != nil {
		return engine.Run{}, fmt.Errorf("decode waves: %w", err)
	}
	run.StartedAt = nullTime(started)
	run.CompletedAt = nullTime(completed)
	return run, nil
}

const runColumns = `run_id, status, scope, selected_nodes, waves, error, created_at, started_at, completed_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (engine.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE run_id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Run{}, ErrRunNotFound
	}
	return run, err
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]engine.Run, error) {
	if limit <= 0 {
		limit = DefaultMemoryRuns
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM workflow_runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []engine.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) ListNodes(ctx context.Context, runID string) ([]engine.NodeState, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, type, status, output, error, started_at, completed_at, duration_ns
		FROM workflow_node_states WHERE run_id = $1 ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var states []engine.NodeState
	for rows.Next() {
		var (
			ns                 engine.NodeState
			kind, status       string
			output             []byte
			started, completed sql.NullTime
			durationNS         int64
		)
		if err := rows.Scan(&ns.NodeID, &kind, &status, &output, &ns.Error, &started, &completed, &durationNS); err != nil {
			return nil, err
		}
		ns.Type = graph.Kind(kind)
		ns.Status = engine.NodeStatus(status)
		if len(output) > 0 {
			var out nodes.Output
			if err := json.Unmarshal(output, &out); err != nil {
				return nil, fmt.Errorf("decode output of %s: %w", ns.NodeID, err)
			}
			ns.Output = &out
		}
		ns.StartedAt = nullTime(started)
		ns.CompletedAt = nullTime(completed)
		ns.Duration = time.Duration(durationNS)
		states = append(states, ns)
	}
	return states, rows.Err()
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Store = (*PostgresStore)(nil)
