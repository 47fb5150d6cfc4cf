package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mendhq/mend/internal/model"
)

// PostgresStore is the durable JobStore, selected when DATABASE_URL is set.
// The job record is stored as jsonb alongside the columns the sweeper and
// dashboards query on.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the jobs table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id           TEXT PRIMARY KEY,
			status       TEXT NOT NULL,
			completed_at TIMESTAMPTZ,
			payload      JSONB NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("creating jobs table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, job *model.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("serializing job: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, status, completed_at, payload, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    completed_at = EXCLUDED.completed_at,
		    payload = EXCLUDED.payload,
		    updated_at = now()`,
		job.ID, string(job.Status), job.CompletedAt, payload)
	if err != nil {
		return fmt.Errorf("upserting job: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Job, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM jobs WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching job: %w", err)
	}

	var job model.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("deserializing job: %w", err)
	}
	return &job, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*model.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT payload FROM jobs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		var job model.Job
		if err := json.Unmarshal(payload, &job); err != nil {
			return nil, fmt.Errorf("deserializing job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) Evict(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ($1, $2) AND completed_at < $3`,
		string(model.JobStatusCompleted), string(model.JobStatusFailed), olderThan)
	if err != nil {
		return 0, fmt.Errorf("evicting jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
