// Package store holds the job registry. The default backing is an in-memory
// map; a Postgres implementation can be substituted without touching the
// state machine because all access goes through JobStore.
package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mendhq/mend/internal/model"
)

var ErrNotFound = errors.New("job not found")

// JobStore is the registry of processing jobs. Jobs are keyed by their
// deterministic composite ID, so redelivered webhooks collapse onto the same
// record. Mutation happens only through Put, called by the owning worker.
type JobStore interface {
	// Put inserts or replaces the job under its ID.
	Put(ctx context.Context, job *model.Job) error
	// Get returns the job or ErrNotFound.
	Get(ctx context.Context, id string) (*model.Job, error)
	// List returns all registered jobs in no particular order.
	List(ctx context.Context) ([]*model.Job, error)
	// Evict drops terminal jobs completed before the cutoff, returning the
	// number removed.
	Evict(ctx context.Context, olderThan time.Time) (int, error)
}

// Sweeper periodically evicts terminal jobs past their retention TTL so the
// registry does not grow without bound over long server lifetimes.
type Sweeper struct {
	store    JobStore
	ttl      time.Duration
	interval time.Duration
}

func NewSweeper(store JobStore, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, ttl: ttl, interval: interval}
}

// Run blocks until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.ttl)
			removed, err := s.store.Evict(ctx, cutoff)
			if err != nil {
				slog.ErrorContext(ctx, "job eviction failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.InfoContext(ctx, "evicted expired jobs", "count", removed, "cutoff", cutoff)
			}
		}
	}
}

func cloneJob(j *model.Job) *model.Job {
	if j == nil {
		return nil
	}
	copied := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		copied.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		copied.CompletedAt = &t
	}
	if j.PullRequest != nil {
		pr := *j.PullRequest
		copied.PullRequest = &pr
	}
	if j.Result != nil {
		res := *j.Result
		res.Files = append([]string(nil), j.Result.Files...)
		copied.Result = &res
	}
	copied.Mention.Args = append([]string(nil), j.Mention.Args...)
	return &copied
}
