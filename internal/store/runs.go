// Package store persists completed pipeline runs to Postgres. The archive is
// optional: when no DSN is configured the pipeline runs without it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/zenhq/zen/internal/state"
)

// Querier is the subset of pgxpool.Pool the archive uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type RunArchive struct {
	db Querier
}

func NewRunArchive(db Querier) *RunArchive {
	return &RunArchive{db: db}
}

// Migrate creates the archive table. Safe to call on every startup.
func (a *RunArchive) Migrate(ctx context.Context) error {
	_, err := a.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS zen_runs (
			id          BIGSERIAL PRIMARY KEY,
			session_id  TEXT NOT NULL,
			mode        TEXT NOT NULL,
			user_brief  TEXT NOT NULL,
			rounds      INT NOT NULL,
			consensus   DOUBLE PRECISION,
			artifact    JSONB,
			errors      JSONB NOT NULL DEFAULT '[]',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("creating zen_runs table: %w", err)
	}
	return nil
}

// Save archives one finished run, partial runs included.
func (a *RunArchive) Save(ctx context.Context, st *state.SharedState) error {
	var artifact []byte
	if st.FinalArtifact != nil {
		var err error
		artifact, err = json.Marshal(st.FinalArtifact)
		if err != nil {
			return fmt.Errorf("encoding artifact: %w", err)
		}
	}
	errs, err := json.Marshal(st.Errors)
	if err != nil {
		return fmt.Errorf("encoding errors: %w", err)
	}

	_, err = a.db.Exec(ctx, `
		INSERT INTO zen_runs (session_id, mode, user_brief, rounds, consensus, artifact, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		st.SessionID, string(st.Mode), st.UserBrief, st.DeliberationRound,
		st.ConsensusScore, artifact, errs)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", st.SessionID, err)
	}
	return nil
}

// RunSummary is one archived run without the artifact body.
type RunSummary struct {
	SessionID  string    `json:"session_id"`
	Mode       string    `json:"mode"`
	UserBrief  string    `json:"user_brief"`
	Rounds     int       `json:"rounds"`
	Consensus  *float64  `json:"consensus,omitempty"`
	ErrorCount int       `json:"error_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recent lists the most recently archived runs, newest first.
func (a *RunArchive) Recent(ctx context.Context, limit int32) ([]RunSummary, error) {
	rows, err := a.db.Query(ctx, `
		SELECT session_id, mode, user_brief, rounds, consensus,
		       jsonb_array_length(errors), created_at
		FROM zen_runs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []RunSummary{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	runs := make([]RunSummary, 0, limit)
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.SessionID, &r.Mode, &r.UserBrief, &r.Rounds,
			&r.Consensus, &r.ErrorCount, &r.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
