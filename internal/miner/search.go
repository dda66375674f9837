package miner

import (
	"context"
	stderrors "errors"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/bardlex/gomint/internal/digest"
	"github.com/bardlex/gomint/internal/ledger"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
)

const (
	// FirstSecret is the first trial value of every search.
	FirstSecret uint64 = 1

	defaultBatchSize        uint64 = 4096
	defaultLivenessInterval uint64 = 100_000
)

var errFound = stderrors.New("candidate found")

// EngineConfig controls the search.
type EngineConfig struct {
	// Workers is the number of hashing goroutines; <= 0 uses NumCPU.
	Workers int
	// BatchSize is how many consecutive secrets a worker claims at once.
	BatchSize uint64
	// LivenessInterval is the trial count between "hashing" log lines.
	LivenessInterval uint64
}

// Progress is reported every LivenessInterval trials.
type Progress struct {
	Round    uint64
	Trials   uint64
	Elapsed  time.Duration
	Hashrate float64
}

// Engine searches a snapshot for an admissible secret.
//
// Workers claim contiguous batches from one shared cursor starting at
// FirstSecret, so with a single worker secrets are tried in order with no
// gaps. Workers share nothing else but the found signal; the first find
// stops all of them.
type Engine struct {
	cfg        EngineConfig
	newHasher  digest.HasherFactory
	logger     *log.Logger
	onProgress func(Progress)
	now        func() time.Time
}

// NewEngine returns an Engine. newHasher nil uses keccak.
func NewEngine(cfg EngineConfig, newHasher digest.HasherFactory, logger *log.Logger) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.LivenessInterval == 0 {
		cfg.LivenessInterval = defaultLivenessInterval
	}
	if newHasher == nil {
		newHasher = digest.NewKeccakHasher
	}

	e := &Engine{
		cfg:       cfg,
		newHasher: newHasher,
		logger:    logger.WithComponent("search"),
		now:       time.Now,
	}
	e.onProgress = e.logProgress
	return e
}

// Workers returns the effective worker count.
func (e *Engine) Workers() int {
	return e.cfg.Workers
}

// Search returns the first admissible candidate for snap: a secret whose
// digest is strictly below the snapshot threshold. It runs until one is
// found or ctx is done, in which case the context cause is returned (a
// stale error when the round watcher fired).
func (e *Engine) Search(ctx context.Context, snap ledger.RoundSnapshot, miner common.Address) (Candidate, error) {
	if snap.Threshold == nil {
		return Candidate{}, errors.New(errors.ErrorTypeValidation, "search", "snapshot has no threshold")
	}
	threshold := digest.FromBig(snap.Threshold)

	searchCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		cursor atomic.Uint64
		trials atomic.Uint64
		found  = make(chan Candidate, 1)
		start  = e.now()
	)
	cursor.Store(FirstSecret)

	record := func(n uint64) uint64 {
		total := trials.Add(n)
		if every := e.cfg.LivenessInterval; (total-n)/every != total/every {
			elapsed := e.now().Sub(start)
			p := Progress{Round: snap.Round, Trials: total, Elapsed: elapsed}
			if elapsed > 0 {
				p.Hashrate = float64(total) / elapsed.Seconds()
			}
			e.onProgress(p)
		}
		return total
	}

	var g errgroup.Group
	for range e.cfg.Workers {
		g.Go(func() error {
			h := e.newHasher(miner, snap.Round, snap.PrevHash)
			for searchCtx.Err() == nil {
				lo, hi, ok := claim(&cursor, e.cfg.BatchSize)
				if !ok {
					return errors.New(errors.ErrorTypeInternal, "search", "secret space exhausted").
						WithContext("round", snap.Round)
				}
				for s := lo; s < hi; s++ {
					d := h.Sum(s)
					if !d.Below(threshold) {
						continue
					}
					total := record(s - lo + 1)
					select {
					case found <- Candidate{
						Secret:  s,
						Digest:  d,
						Round:   snap.Round,
						Trials:  total,
						Elapsed: e.now().Sub(start),
					}:
						cancel(errFound)
					default:
					}
					return nil
				}
				record(hi - lo)
			}
			return nil
		})
	}
	werr := g.Wait()

	select {
	case c := <-found:
		e.logger.LogThroughput("search", c.Trials, c.Elapsed.Nanoseconds())
		return c, nil
	default:
	}
	if werr != nil {
		return Candidate{}, werr
	}
	return Candidate{}, context.Cause(searchCtx)
}

// claim reserves [lo, hi) from the cursor.
func claim(cursor *atomic.Uint64, batch uint64) (lo, hi uint64, ok bool) {
	hi = cursor.Add(batch)
	lo = hi - batch
	if hi < lo || lo > math.MaxUint64-batch {
		return 0, 0, false
	}
	return lo, hi, true
}

func (e *Engine) logProgress(p Progress) {
	e.logger.Info("hashing",
		"round", p.Round,
		"trials", p.Trials,
		"elapsed_ms", p.Elapsed.Milliseconds(),
		"hashrate", p.Hashrate,
	)
}
