package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Pruner removes records older than a cutoff. The Postgres recorder
// implements it; the in-memory recorder evicts by capacity instead and
// needs no janitor.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Janitor periodically prunes expired invocation records. It runs as a
// background goroutine and stops on context cancellation; a failed
// sweep is logged and retried on the next interval, never fatal.
type Janitor struct {
	pruner   Pruner
	maxAge   time.Duration
	interval time.Duration
}

// NewJanitor creates a janitor sweeping on the given interval.
func NewJanitor(p Pruner, maxAge, interval time.Duration) *Janitor {
	if interval < time.Minute {
		interval = time.Minute
	}
	return &Janitor{pruner: p, maxAge: maxAge, interval: interval}
}

// Start blocks until ctx is canceled. Call it in its own goroutine.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Dur("max_age", j.maxAge).
		Msg("audit retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("audit retention janitor stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.maxAge)
	n, err := j.pruner.Prune(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("audit retention sweep failed")
		return
	}
	if n > 0 {
		log.Info().Int64("pruned", n).Time("cutoff", cutoff).Msg("audit records pruned")
	}
}
