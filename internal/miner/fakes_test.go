package miner

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bardlex/gomint/internal/digest"
	"github.com/bardlex/gomint/internal/ledger"
)

var (
	testMiner    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testPrevHash = common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	maxDigest    = func() digest.Digest {
		var d digest.Digest
		for i := range d {
			d[i] = 0xff
		}
		return d
	}()
)

// fixtureHasher maps chosen secrets to digests; every other secret hashes
// to the maximum value and is never admissible.
type fixtureHasher struct {
	mu     sync.Mutex
	values map[uint64]digest.Digest
	calls  []uint64
}

func newFixture(values map[uint64]uint64) *fixtureHasher {
	f := &fixtureHasher{values: make(map[uint64]digest.Digest, len(values))}
	for secret, d := range values {
		f.values[secret] = digest.FromUint64(d)
	}
	return f
}

func (f *fixtureHasher) factory(common.Address, uint64, common.Hash) digest.Hasher {
	return f
}

func (f *fixtureHasher) Sum(secret uint64) digest.Digest {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, secret)
	if d, ok := f.values[secret]; ok {
		return d
	}
	return maxDigest
}

func (f *fixtureHasher) Calls() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.calls...)
}

type mintCall struct {
	to     common.Address
	secret *big.Int
}

// fakeLedger is an in-memory ledger.Ledger.
type fakeLedger struct {
	mu sync.Mutex

	round      uint64
	prevHash   common.Hash
	threshold  *big.Int
	lastMinted uint64
	balance    *big.Int

	roundErr   error
	balanceErr error
	mintErrs   []error // consumed per Mint call
	waitErr    error
	waitBlocks bool
	reverted   bool
	minedAt    time.Time

	// failReads makes the first reads of Round fail; advanceAfter moves
	// the round to advanceTo once that many reads have been served.
	failReads    int
	advanceAfter int
	advanceTo    uint64

	mints      []mintCall
	roundReads int
}

var errFlakyRead = errors.New("connection reset")

func newFakeLedger(round uint64, threshold int64) *fakeLedger {
	return &fakeLedger{
		round:      round,
		prevHash:   testPrevHash,
		threshold:  big.NewInt(threshold),
		lastMinted: 1_700_000_000,
		balance:    big.NewInt(3),
		minedAt:    time.Unix(1_700_000_090, 0),
	}
}

func (l *fakeLedger) Round(context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roundReads++
	if l.roundErr != nil {
		return 0, l.roundErr
	}
	if l.roundReads <= l.failReads {
		return 0, errFlakyRead
	}
	if l.advanceAfter > 0 && l.roundReads > l.advanceAfter {
		l.round = l.advanceTo
	}
	return l.round, nil
}

func (l *fakeLedger) RoundReads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.roundReads
}

func (l *fakeLedger) PrevHash(context.Context) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prevHash, nil
}

func (l *fakeLedger) Threshold(context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.threshold), nil
}

func (l *fakeLedger) LastMintedAt(context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastMinted, nil
}

func (l *fakeLedger) BalanceOf(context.Context, common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balanceErr != nil {
		return nil, l.balanceErr
	}
	return new(big.Int).Set(l.balance), nil
}

func (l *fakeLedger) Mint(_ context.Context, to common.Address, secret *big.Int) (*ledger.PendingMint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mints = append(l.mints, mintCall{to: to, secret: new(big.Int).Set(secret)})
	if len(l.mintErrs) > 0 {
		err := l.mintErrs[0]
		l.mintErrs = l.mintErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &ledger.PendingMint{
		Hash:        common.BigToHash(big.NewInt(int64(len(l.mints)))),
		Nonce:       uint64(len(l.mints) - 1),
		SubmittedAt: l.minedAt.Add(-time.Second),
	}, nil
}

func (l *fakeLedger) WaitMined(ctx context.Context, pending *ledger.PendingMint) (*ledger.Receipt, error) {
	l.mu.Lock()
	blocks, waitErr, reverted, minedAt := l.waitBlocks, l.waitErr, l.reverted, l.minedAt
	l.mu.Unlock()

	if blocks {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if waitErr != nil {
		return nil, waitErr
	}

	l.mu.Lock()
	l.balance = new(big.Int).Add(l.balance, big.NewInt(1))
	l.mu.Unlock()
	return &ledger.Receipt{
		TxHash:      pending.Hash,
		BlockNumber: 100,
		GasUsed:     51_000,
		Success:     !reverted,
		ConfirmedAt: minedAt,
	}, nil
}

func (l *fakeLedger) Mints() []mintCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]mintCall(nil), l.mints...)
}

type fakeClaimer struct {
	granted bool
	err     error
	rounds  []uint64
}

func (c *fakeClaimer) ClaimRound(_ context.Context, round uint64, _ common.Address) (bool, error) {
	c.rounds = append(c.rounds, round)
	return c.granted, c.err
}

// recordingReporter keeps every event.
type recordingReporter struct {
	mu        sync.Mutex
	snapshots []ledger.RoundSnapshot
	found     []Candidate
	results   []*SubmissionResult
	failures  []Stage
	onResult  func(*SubmissionResult)
}

func (r *recordingReporter) SnapshotFetched(_ context.Context, snap ledger.RoundSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, snap)
}

func (r *recordingReporter) CandidateFound(_ context.Context, _ ledger.RoundSnapshot, cand Candidate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.found = append(r.found, cand)
}

func (r *recordingReporter) Submitted(_ context.Context, res *SubmissionResult) {
	r.mu.Lock()
	r.results = append(r.results, res)
	hook := r.onResult
	r.mu.Unlock()
	if hook != nil {
		hook(res)
	}
}

func (r *recordingReporter) CycleFailed(_ context.Context, stage Stage, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, stage)
}

func snapshotFor(round uint64, threshold int64) ledger.RoundSnapshot {
	return ledger.RoundSnapshot{
		Round:        round,
		PrevHash:     testPrevHash,
		Threshold:    big.NewInt(threshold),
		LastMintedAt: 1_700_000_000,
		FetchedAt:    time.Unix(1_700_000_050, 0),
	}
}
