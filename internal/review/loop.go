// Package review drives the draft, check, fix loop that turns decompiled
// references into verified source candidates. Each function moves through an
// explicit state machine with a bounded round budget; every round is recorded
// in the session store before the loop moves on, so an interrupted run
// resumes instead of restarting.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dryxio/auto-re-agent/internal/agent"
	"github.com/Dryxio/auto-re-agent/internal/backend"
	"github.com/Dryxio/auto-re-agent/internal/config"
	"github.com/Dryxio/auto-re-agent/internal/index"
	"github.com/Dryxio/auto-re-agent/internal/llm"
	"github.com/Dryxio/auto-re-agent/internal/models"
	"github.com/Dryxio/auto-re-agent/internal/parity"
	"github.com/Dryxio/auto-re-agent/internal/store"
)

// State is a position in the per-function review loop.
type State string

const (
	StateDraft     State = "draft"
	StateChecking  State = "checking"
	StateFixing    State = "fixing"
	StatePassed    State = "passed"
	StateFailed    State = "failed"
	StateEscalated State = "escalated"
)

// Result summarizes one function's review run.
type Result struct {
	Key      models.FunctionKey
	EntryID  string
	Status   models.FunctionStatus
	Rounds   int
	Verdict  *models.ParityVerdict // final recorded verdict, nil when escalated before a check
	Err      string                // capability failure, set when escalated
	Skipped  bool                  // wrapper auto-skip, no propose call spent
	Resumed  bool                  // picked up rounds from an interrupted run
	CodePath string                // accepted candidate file, set when done
}

// Loop reviews one function at a time. Rounds for a single function never
// overlap; concurrency happens across functions, in the runner.
type Loop struct {
	cfg      *config.Config
	store    store.Store
	backend  backend.Backend
	drafter  *agent.Drafter
	engine   *parity.Engine
	idx      *index.Result // may be nil when no source tree is indexed
	analyzer *index.Analyzer
	sink     *Sink
}

// NewLoop wires a review loop. idx may be nil.
func NewLoop(cfg *config.Config, st store.Store, be backend.Backend, dr *agent.Drafter, eng *parity.Engine, idx *index.Result) *Loop {
	return &Loop{
		cfg:      cfg,
		store:    st,
		backend:  be,
		drafter:  dr,
		engine:   eng,
		idx:      idx,
		analyzer: index.NewAnalyzer(cfg.Source),
		sink:     NewSink(cfg.Output.Dir),
	}
}

// Run reviews one function to a terminal status.
func (l *Loop) Run(ctx context.Context, key models.FunctionKey) (*Result, error) {
	key.Address = models.NormalizeAddress(key.Address)
	res := &Result{Key: key}

	// 1. Auto-skip thin wrappers before spending any propose rounds: the
	// indexed body already is the candidate.
	if l.cfg.Parity.AutoSkipWrappers && l.cfg.Parity.SignalEnabled(models.SignalInlineWrapper) {
		if rec, ok := l.indexed(key); ok && rec.HasBody && rec.Features.IsForwarder {
			return l.skipWrapper(ctx, key, rec, res)
		}
	}

	// 2. Resolve the session entry: resume a live one, supersede a terminal
	// or budget-exhausted one with a fresh entry.
	entry, resumed, err := l.resolveEntry(ctx, key)
	if err != nil {
		return nil, err
	}
	res.EntryID = entry.ID
	res.Resumed = resumed

	// 3. Fetch the decompiled reference. Without one nothing can be drafted
	// or verified, so a describe failure escalates instead of retrying.
	ref, err := l.backend.Describe(ctx, key.Address)
	if err != nil {
		return l.escalate(ctx, entry, res, models.PhaseDraft, fmt.Errorf("describe %s: %w", key.Address, err))
	}

	// 4. Drive the state machine until a terminal state.
	state, candidate, hints := l.resumePoint(entry)
	phase := models.PhaseDraft
	for {
		switch state {
		case StateDraft:
			phase = models.PhaseDraft
			candidate, err = l.propose(ctx, entry, func() (string, error) {
				return l.drafter.Draft(ctx, key, ref)
			})
			if err != nil {
				return l.escalate(ctx, entry, res, phase, err)
			}
			state = StateChecking

		case StateFixing:
			phase = models.PhaseFix
			prev := candidate
			candidate, err = l.propose(ctx, entry, func() (string, error) {
				return l.drafter.Fix(ctx, key, ref, prev, hints)
			})
			if err != nil {
				return l.escalate(ctx, entry, res, phase, err)
			}
			state = StateChecking

		case StateChecking:
			rec := l.analyzer.Record(key, candidate)
			verdict := l.engine.Check(ref, rec)
			round := models.ReviewRound{
				Phase:     phase,
				Candidate: candidate,
				Verdict:   *verdict,
			}
			next := l.nextStatus(verdict, len(entry.Rounds)+1)
			if err := l.append(ctx, entry, &round, next); err != nil {
				return nil, err
			}
			res.Verdict = verdict

			switch {
			case verdict.Status == models.ParityGreen:
				state = StatePassed
			case len(entry.Rounds) < l.cfg.Review.MaxRounds:
				hints = parity.FixInstructions(verdict)
				state = StateFixing
			default:
				state = StateFailed
			}

		case StatePassed:
			res.Status = models.StatusDone
			res.Rounds = len(entry.Rounds)
			path, err := l.sink.WriteCandidate(key, candidate)
			if err != nil {
				return res, fmt.Errorf("write accepted candidate: %w", err)
			}
			res.CodePath = path
			return res, nil

		case StateFailed:
			res.Status = models.StatusFailed
			res.Rounds = len(entry.Rounds)
			return res, nil
		}
	}
}

// resolveEntry finds the entry this run continues, or creates a fresh one.
// Terminal entries are never reopened; neither are live entries whose
// recorded rounds already meet the (possibly since lowered) budget. Only a
// clean not-found starts fresh; any other lookup failure is surfaced.
func (l *Loop) resolveEntry(ctx context.Context, key models.FunctionKey) (*models.SessionEntry, bool, error) {
	existing, err := l.store.LatestEntryByAddress(ctx, key.Address)
	switch {
	case err == nil:
		if !existing.Status.Terminal() && len(existing.Rounds) < l.cfg.Review.MaxRounds {
			return existing, len(existing.Rounds) > 0, nil
		}
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, fmt.Errorf("resolve entry for %s: %w", key.Address, err)
	}

	entry := &models.SessionEntry{
		Address:  key.Address,
		Class:    key.Class,
		Function: key.Function,
	}
	if err := l.store.CreateEntry(ctx, entry); err != nil {
		return nil, false, fmt.Errorf("create session entry: %w", err)
	}
	return entry, false, nil
}

// resumePoint decides where an entry's loop continues. A recorded verdict
// with its candidate means the last check failed and a fix is due; anything
// else drafts from scratch.
func (l *Loop) resumePoint(entry *models.SessionEntry) (State, string, string) {
	if len(entry.Rounds) == 0 {
		return StateDraft, "", ""
	}
	last := entry.Rounds[len(entry.Rounds)-1]
	if v := entry.LastVerdict(); v != nil && last.Candidate != "" {
		return StateFixing, last.Candidate, parity.FixInstructions(v)
	}
	return StateDraft, "", ""
}

// propose runs one provider call, retrying transient failures while the
// round budget leaves room. Timeouts and permanent errors return
// immediately; the caller escalates.
func (l *Loop) propose(ctx context.Context, entry *models.SessionEntry, call func() (string, error)) (string, error) {
	remaining := l.cfg.Review.MaxRounds - len(entry.Rounds)
	for attempt := 0; ; attempt++ {
		text, err := call()
		if err == nil {
			return text, nil
		}
		if !llm.IsTransient(err) || attempt+1 >= remaining {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(retryDelay(attempt)):
		}
	}
}

func retryDelay(attempt int) time.Duration {
	d := time.Second << attempt
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// nextStatus maps a verdict onto the entry status recorded with its round.
func (l *Loop) nextStatus(v *models.ParityVerdict, roundNumber int) models.FunctionStatus {
	switch {
	case v.Status == models.ParityGreen:
		return models.StatusDone
	case roundNumber < l.cfg.Review.MaxRounds:
		return models.StatusInProgress
	default:
		return models.StatusFailed
	}
}

// escalate records a capability failure as the entry's final round. The
// round carries the error, not a verdict: nothing was verified.
func (l *Loop) escalate(ctx context.Context, entry *models.SessionEntry, res *Result, phase models.RoundPhase, cause error) (*Result, error) {
	round := models.ReviewRound{Phase: phase, Err: cause.Error()}
	if err := l.append(ctx, entry, &round, models.StatusEscalated); err != nil {
		return nil, err
	}
	res.Status = models.StatusEscalated
	res.Err = cause.Error()
	res.Rounds = len(entry.Rounds)
	return res, nil
}

// skipWrapper settles a thin forwarder without any propose call: the indexed
// body is recorded as the accepted candidate. A function already settled by
// an earlier run is left alone.
func (l *Loop) skipWrapper(ctx context.Context, key models.FunctionKey, rec *models.FunctionRecord, res *Result) (*Result, error) {
	res.Skipped = true

	existing, err := l.store.LatestEntryByAddress(ctx, key.Address)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("resolve entry for %s: %w", key.Address, err)
	}
	if err == nil && existing.Status == models.StatusDone {
		res.EntryID = existing.ID
		res.Status = models.StatusDone
		res.Rounds = len(existing.Rounds)
		res.Verdict = existing.LastVerdict()
		return res, nil
	}

	entry := &models.SessionEntry{
		Address:  key.Address,
		Class:    key.Class,
		Function: key.Function,
	}
	if err := l.store.CreateEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("create session entry: %w", err)
	}
	res.EntryID = entry.ID

	verdict := l.engine.Check(nil, rec)
	round := models.ReviewRound{
		Phase:     models.PhaseDraft,
		Candidate: rec.Body,
		Verdict:   *verdict,
	}
	if err := l.append(ctx, entry, &round, models.StatusDone); err != nil {
		return nil, err
	}
	res.Status = models.StatusDone
	res.Rounds = len(entry.Rounds)
	res.Verdict = verdict
	return res, nil
}

// append persists one round plus the entry's new status, then mirrors both
// into the in-memory entry and the round log.
func (l *Loop) append(ctx context.Context, entry *models.SessionEntry, round *models.ReviewRound, status models.FunctionStatus) error {
	round.Number = len(entry.Rounds) + 1
	if err := l.store.AppendRound(ctx, entry.ID, round, status); err != nil {
		return fmt.Errorf("append round %d: %w", round.Number, err)
	}
	entry.Rounds = append(entry.Rounds, *round)
	entry.Status = status
	_ = l.sink.LogRound(entry, *round, status)
	return nil
}

func (l *Loop) indexed(key models.FunctionKey) (*models.FunctionRecord, bool) {
	if l.idx == nil {
		return nil, false
	}
	if rec, ok := l.idx.ByAddress(key.Address); ok {
		return rec, ok
	}
	return l.idx.Find(key.Class, key.Function)
}
