package review

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Dryxio/auto-re-agent/internal/config"
	"github.com/Dryxio/auto-re-agent/internal/models"
	"github.com/Dryxio/auto-re-agent/internal/store"
)

// Progress receives each function's result as its loop settles. Calls are
// serialized; implementations can print without their own locking.
type Progress func(Result)

// BatchOptions tune one batch run.
type BatchOptions struct {
	Force bool // supersede entries already done
	Limit int  // max functions attempted, 0 uses review.max_functions
}

// BatchSummary aggregates a batch run.
type BatchSummary struct {
	Results     []Result
	Done        int
	Failed      int
	Escalated   int
	Skipped     int // wrapper auto-skips, counted inside Done
	AlreadyDone int // filtered out before any loop ran
}

func (s *BatchSummary) add(res Result) {
	s.Results = append(s.Results, res)
	switch res.Status {
	case models.StatusDone:
		s.Done++
		if res.Skipped {
			s.Skipped++
		}
	case models.StatusFailed:
		s.Failed++
	case models.StatusEscalated:
		s.Escalated++
	}
}

// Attempted returns how many loops actually ran.
func (s *BatchSummary) Attempted() int {
	return len(s.Results)
}

// Runner fans review loops out over a target list with bounded concurrency.
// One goroutine per function keeps that function's rounds strictly ordered;
// the store serializes appends across functions.
type Runner struct {
	loop  *Loop
	cfg   *config.Config
	store store.Store
}

// NewRunner wires a batch runner around an existing loop.
func NewRunner(loop *Loop, cfg *config.Config, st store.Store) *Runner {
	return &Runner{loop: loop, cfg: cfg, store: st}
}

// RunBatch reviews targets until each settles or ctx is cancelled. Functions
// already done are skipped unless opts.Force supersedes them.
func (r *Runner) RunBatch(ctx context.Context, targets []models.HookEntry, opts BatchOptions, progress Progress) (*BatchSummary, error) {
	summary := &BatchSummary{}

	// 1. Drop targets already verified. Failed and escalated functions are
	// retried: their terminal entries get superseded by the loop.
	selected, already, err := r.selectTargets(ctx, targets, opts.Force)
	if err != nil {
		return nil, err
	}
	summary.AlreadyDone = already

	// 2. Deterministic order, capped by the batch limit.
	sort.Slice(selected, func(i, j int) bool {
		return models.NormalizeAddress(selected[i].Address) < models.NormalizeAddress(selected[j].Address)
	})
	limit := opts.Limit
	if limit <= 0 {
		limit = r.cfg.Review.MaxFunctions
	}
	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}

	// 3. Run the loops, one bounded worker per function.
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Review.Workers)
	for _, target := range selected {
		g.Go(func() error {
			res, err := r.loop.Run(gctx, target.Key())
			if err != nil {
				return err
			}
			mu.Lock()
			summary.add(*res)
			if progress != nil {
				progress(*res)
			}
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()

	sort.Slice(summary.Results, func(i, j int) bool {
		return summary.Results[i].Key.Address < summary.Results[j].Key.Address
	})
	return summary, err
}

// selectTargets filters out functions whose latest entry is already done.
func (r *Runner) selectTargets(ctx context.Context, targets []models.HookEntry, force bool) ([]models.HookEntry, int, error) {
	if force {
		return targets, 0, nil
	}

	entries, err := r.store.Load(ctx)
	if err != nil {
		return nil, 0, err
	}
	done := make(map[string]bool, len(entries))
	for key, e := range entries {
		if e.Status == models.StatusDone {
			done[key.Address] = true
		}
	}

	var selected []models.HookEntry
	already := 0
	for _, t := range targets {
		if done[models.NormalizeAddress(t.Address)] {
			already++
			continue
		}
		selected = append(selected, t)
	}
	return selected, already, nil
}
