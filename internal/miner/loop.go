package miner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bardlex/gomint/internal/ledger"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
	"github.com/bardlex/gomint/pkg/retry"
)

const defaultReportTimeout = 2 * time.Second

// SnapshotSource yields round snapshots.
type SnapshotSource interface {
	Fetch(ctx context.Context) (ledger.RoundSnapshot, error)
}

// Searcher finds an admissible candidate for a snapshot.
type Searcher interface {
	Search(ctx context.Context, snap ledger.RoundSnapshot, miner common.Address) (Candidate, error)
}

// MintSubmitter submits a candidate once.
type MintSubmitter interface {
	Submit(ctx context.Context, snap ledger.RoundSnapshot, cand Candidate) (*SubmissionResult, error)
}

// LoopConfig holds the loop's backoff bounds.
type LoopConfig struct {
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	ReportTimeout time.Duration
}

// LoopStats counts cycle outcomes since start.
type LoopStats struct {
	Cycles         uint64
	Minted         uint64
	FetchFailures  uint64
	SearchFailures uint64
	SubmitFailures uint64
	StaleRounds    uint64
	TotalTrials    uint64
}

// Loop runs fetch, search and submit forever. It holds at most one
// candidate at a time and never reuses one across cycles.
type Loop struct {
	source    SnapshotSource
	searcher  Searcher
	submitter MintSubmitter
	watcher   *RoundWatcher
	reporter  Reporter
	miner     common.Address
	cfg       LoopConfig
	backoff   *retry.Backoff
	logger    *log.Logger

	state atomic.Int32

	mu    sync.Mutex
	stats LoopStats
}

// NewLoop wires a loop. watcher and reporter may be nil.
func NewLoop(source SnapshotSource, searcher Searcher, submitter MintSubmitter, watcher *RoundWatcher,
	reporter Reporter, miner common.Address, cfg LoopConfig, logger *log.Logger) *Loop {
	if reporter == nil {
		reporter = NopReporter{}
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = defaultReportTimeout
	}

	return &Loop{
		source:    source,
		searcher:  searcher,
		submitter: submitter,
		watcher:   watcher,
		reporter:  reporter,
		miner:     miner,
		cfg:       cfg,
		backoff:   retry.NewBackoff(cfg.BackoffBase, cfg.BackoffMax),
		logger:    logger.WithComponent("mining_loop").WithMiner(miner.Hex()),
	}
}

// State returns the current loop state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Stats returns a copy of the counters.
func (l *Loop) Stats() LoopStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Run cycles until ctx is done and then returns ctx.Err(). Failures never
// end it: fetch outages back off, stale rounds restart at once, and other
// failures wait one backoff step before the next fetch.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("mining loop started")
	defer l.setState(StateIdle)

	for {
		if err := ctx.Err(); err != nil {
			l.logger.Info("mining loop stopped", "reason", err)
			return err
		}

		stage, _, err := l.cycle(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			continue
		}

		logger := l.logger.WithError(err).WithFields("stage", string(stage))
		switch {
		case errors.HasType(err, errors.ErrorTypeStale):
			logger.Info("round moved, restarting with a fresh snapshot")
			continue
		case stage == StageFetch:
			logger.Warn("round snapshot unavailable", "consecutive_failures", l.backoff.Attempts()+1)
		default:
			logger.Warn("cycle failed, candidate discarded")
		}

		// a cancelled wait is picked up at the top of the loop
		_ = l.backoff.Wait(ctx)
	}
}

// RunOnce runs a single fetch, search and submit cycle.
func (l *Loop) RunOnce(ctx context.Context) (*SubmissionResult, error) {
	_, res, err := l.cycle(ctx)
	return res, err
}

func (l *Loop) cycle(ctx context.Context) (Stage, *SubmissionResult, error) {
	l.count(func(s *LoopStats) { s.Cycles++ })
	l.setState(StateSearching)

	snap, err := l.source.Fetch(ctx)
	if err != nil {
		return l.failed(ctx, StageFetch, nil, err)
	}
	l.backoff.Reset()
	l.report(ctx, func(rctx context.Context) { l.reporter.SnapshotFetched(rctx, snap) })

	logger := l.logger.WithRound(snap.Round)
	logger.Debug("searching",
		"prev_hash", snap.PrevHash.Hex(),
		"threshold", snap.Threshold.String(),
	)

	cand, err := l.search(ctx, snap)
	if err != nil {
		return l.failed(ctx, StageSearch, nil, err)
	}
	l.count(func(s *LoopStats) { s.TotalTrials += cand.Trials })
	logger.LogSecretFound(cand.Secret, cand.Digest.Hex(), snap.Threshold.String(), snap.PrevHash.Hex(), cand.Trials)
	l.report(ctx, func(rctx context.Context) { l.reporter.CandidateFound(rctx, snap, cand) })

	l.setState(StateSubmitting)
	res, err := l.submitter.Submit(ctx, snap, cand)
	if res != nil {
		l.report(ctx, func(rctx context.Context) { l.reporter.Submitted(rctx, res) })
	}
	if err != nil {
		return l.failed(ctx, StageSubmit, res, err)
	}

	l.count(func(s *LoopStats) { s.Minted++ })
	return StageSubmit, res, nil
}

// search runs the engine with the round watcher alongside; the watcher
// exits before search returns.
func (l *Loop) search(ctx context.Context, snap ledger.RoundSnapshot) (Candidate, error) {
	searchCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	if l.watcher.enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.watcher.Watch(searchCtx, snap.Round, cancel)
		}()
	}

	cand, err := l.searcher.Search(searchCtx, snap, l.miner)
	cancel(nil)
	wg.Wait()
	return cand, err
}

func (l *Loop) failed(ctx context.Context, stage Stage, res *SubmissionResult, err error) (Stage, *SubmissionResult, error) {
	if ctx.Err() != nil {
		return stage, res, err
	}

	l.count(func(s *LoopStats) {
		switch {
		case errors.HasType(err, errors.ErrorTypeStale):
			s.StaleRounds++
		case stage == StageFetch:
			s.FetchFailures++
		case stage == StageSearch:
			s.SearchFailures++
		default:
			s.SubmitFailures++
		}
	})
	l.report(ctx, func(rctx context.Context) { l.reporter.CycleFailed(rctx, stage, err) })
	return stage, res, err
}

// report runs fn under its own deadline, detached from loop cancellation
// so a final event still goes out during shutdown.
func (l *Loop) report(ctx context.Context, fn func(context.Context)) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.ReportTimeout)
	defer cancel()
	fn(rctx)
}

func (l *Loop) count(fn func(*LoopStats)) {
	l.mu.Lock()
	fn(&l.stats)
	l.mu.Unlock()
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}
