// Package sweeper reclaims expired records in the background. Expiration is
// otherwise lazy: reads treat expired rows as absent, but only a sweep frees
// the space.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// PhaseSweeper deletes expired phase data and reports per-phase counts.
type PhaseSweeper interface {
	SweepExpired() (map[string]int, error)
}

// ProvenanceSweeper deletes expired recommendation records.
type ProvenanceSweeper interface {
	SweepExpired() (int, error)
}

// Worker runs periodic sweeps until its context is cancelled.
type Worker struct {
	phases     PhaseSweeper
	provenance ProvenanceSweeper
	interval   time.Duration
	logger     *slog.Logger
}

// New creates a Worker. If interval is <= 0, it defaults to one hour.
func New(phases PhaseSweeper, provenance ProvenanceSweeper, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Worker{
		phases:     phases,
		provenance: provenance,
		interval:   interval,
		logger:     slog.Default(),
	}
}

// Run sweeps immediately, then on every interval tick, until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if deleted, err := w.RunOnce(); err != nil {
			w.logger.Error("sweep failed", "error", err)
		} else if deleted > 0 {
			w.logger.Info("sweep reclaimed expired records", "deleted", deleted)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.interval):
		}
	}
}

// RunOnce performs a single sweep and returns the total number of records
// removed.
func (w *Worker) RunOnce() (int, error) {
	counts, err := w.phases.SweepExpired()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}

	provDeleted, err := w.provenance.SweepExpired()
	if err != nil {
		return total, err
	}
	return total + provDeleted, nil
}
