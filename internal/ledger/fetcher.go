package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bardlex/gomint/pkg/errors"
)

// Fetcher reads round snapshots. The reads are not atomic on chain, so the
// round is read first and again after the other values; a mismatch means
// the snapshot mixes two rounds and is reported as stale.
type Fetcher struct {
	reader  Reader
	limiter *rate.Limiter
	timeout time.Duration
	now     func() time.Time
}

// NewFetcher returns a Fetcher. perSecond <= 0 disables rate limiting and
// timeout <= 0 leaves the bound to the caller's context.
func NewFetcher(reader Reader, timeout time.Duration, perSecond float64) *Fetcher {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}

	return &Fetcher{
		reader:  reader,
		limiter: rate.NewLimiter(limit, 1),
		timeout: timeout,
		now:     time.Now,
	}
}

// Fetch reads one snapshot. Every failure is returned as an unavailable
// error (or stale, when the round moved mid-fetch); there are no retries
// here beyond the transport's own.
func (f *Fetcher) Fetch(ctx context.Context) (RoundSnapshot, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return RoundSnapshot{}, errors.Unavailable("fetch_rate_limit", err)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	round, err := f.reader.Round(ctx)
	if err != nil {
		return RoundSnapshot{}, errors.Unavailable("fetch_round", err)
	}

	var (
		prevHash     common.Hash
		threshold    *big.Int
		lastMintedAt uint64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if prevHash, err = f.reader.PrevHash(gctx); err != nil {
			return errors.Unavailable("fetch_prev_hash", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if threshold, err = f.reader.Threshold(gctx); err != nil {
			return errors.Unavailable("fetch_threshold", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if lastMintedAt, err = f.reader.LastMintedAt(gctx); err != nil {
			return errors.Unavailable("fetch_last_minted_at", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return RoundSnapshot{}, err
	}

	if threshold == nil {
		return RoundSnapshot{}, errors.Unavailable("fetch_threshold",
			errors.New(errors.ErrorTypeLedger, "fetch_threshold", "nil threshold"))
	}

	again, err := f.reader.Round(ctx)
	if err != nil {
		return RoundSnapshot{}, errors.Unavailable("fetch_round", err)
	}
	if again != round {
		return RoundSnapshot{}, errors.Stale("fetch_snapshot", round, again)
	}

	return RoundSnapshot{
		Round:        round,
		PrevHash:     prevHash,
		Threshold:    new(big.Int).Set(threshold),
		LastMintedAt: lastMintedAt,
		FetchedAt:    f.now(),
	}, nil
}
