package miner

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bardlex/gomint/internal/digest"
	"github.com/bardlex/gomint/internal/ledger"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
)

// Claimer coordinates processes minting for the same account so only one
// submits per round. ClaimRound reports false when another process holds
// the round.
type Claimer interface {
	ClaimRound(ctx context.Context, round uint64, miner common.Address) (bool, error)
}

// SubmitterConfig bounds the two blocking halves of a submission.
type SubmitterConfig struct {
	SubmitTimeout  time.Duration
	ConfirmTimeout time.Duration
}

// Submitter sends a candidate to the ledger and waits for it to settle.
// It submits each candidate at most once and never retries.
type Submitter struct {
	ledger  ledger.Ledger
	miner   common.Address
	claimer Claimer
	cfg     SubmitterConfig
	logger  *log.Logger
	now     func() time.Time
}

// NewSubmitter returns a Submitter minting to miner. claimer may be nil.
func NewSubmitter(l ledger.Ledger, miner common.Address, claimer Claimer, cfg SubmitterConfig, logger *log.Logger) *Submitter {
	return &Submitter{
		ledger:  l,
		miner:   miner,
		claimer: claimer,
		cfg:     cfg,
		logger:  logger.WithComponent("submitter").WithMiner(miner.Hex()),
		now:     time.Now,
	}
}

// Submit mints cand for snap. The returned result is never nil; on error it
// carries the rejection reason and the error is a submission or stale
// error. Either way the candidate must not be reused.
func (s *Submitter) Submit(ctx context.Context, snap ledger.RoundSnapshot, cand Candidate) (*SubmissionResult, error) {
	res := &SubmissionResult{
		Round:  snap.Round,
		Secret: cand.Secret,
		Digest: cand.Digest,
	}
	fail := func(err error) (*SubmissionResult, error) {
		res.RejectionReason = err.Error()
		return res, err
	}

	if cand.Round != snap.Round {
		return fail(errors.Submission("submit", "candidate belongs to another round", nil).
			WithContext("candidate_round", cand.Round).
			WithContext("snapshot_round", snap.Round))
	}
	if snap.Threshold == nil || !cand.Digest.Below(digest.FromBig(snap.Threshold)) {
		return fail(errors.Submission("submit", "candidate is not admissible", nil).
			WithContext("digest", cand.Digest.Hex()))
	}

	logger := s.logger.WithRound(snap.Round)

	// The contract rejects a secret for a past round; skip the gas.
	current, err := s.ledger.Round(ctx)
	switch {
	case err != nil:
		logger.Warn("round check before mint failed, submitting anyway", "error", err)
	case current != snap.Round:
		return fail(errors.Stale("submit", snap.Round, current))
	}

	if s.claimer != nil {
		ok, err := s.claimer.ClaimRound(ctx, snap.Round, s.miner)
		if err != nil {
			logger.Warn("round claim unavailable, submitting anyway", "error", err)
		} else if !ok {
			return fail(errors.Submission("claim_round", "round already claimed by another process", nil).
				WithContext("round", snap.Round))
		}
	}

	res.LastMintedAt = snap.LastMintedAt
	if last, err := s.ledger.LastMintedAt(ctx); err != nil {
		logger.Debug("last mint time unavailable, using snapshot value", "error", err)
	} else {
		res.LastMintedAt = last
	}

	pending, err := s.mint(ctx, cand.Secret)
	if err != nil {
		return fail(errors.Submission("mint", "mint transaction failed", err).
			WithContext("secret", cand.Secret))
	}
	res.TxHash = pending.Hash
	res.SubmittedAt = pending.SubmittedAt
	logger.Info("mint submitted", "tx_hash", pending.Hash.Hex(), "secret", cand.Secret)

	receipt, err := s.waitMined(ctx, pending)
	if err != nil {
		return fail(errors.Submission("wait_mined", "mint not confirmed", err).
			WithContext("tx_hash", pending.Hash.Hex()))
	}
	res.BlockNumber = receipt.BlockNumber
	res.GasUsed = receipt.GasUsed
	res.ConfirmedAt = receipt.ConfirmedAt
	if res.ConfirmedAt.IsZero() {
		res.ConfirmedAt = s.now()
	}
	logger.LogDuration("mint_confirmation", res.ConfirmedAt.Sub(res.SubmittedAt).Nanoseconds())
	if !receipt.Success {
		return fail(errors.Submission("wait_mined", "mint transaction reverted", nil).
			WithContext("tx_hash", pending.Hash.Hex()).
			WithContext("block_number", receipt.BlockNumber))
	}

	res.Accepted = true
	res.DeltaT = res.ConfirmedAt.Unix() - int64(res.LastMintedAt)

	if balance, err := s.ledger.BalanceOf(ctx, s.miner); err != nil {
		logger.Warn("balance read after mint failed", "error", err)
	} else {
		res.NewBalance = balance
	}

	balance := "unknown"
	if res.NewBalance != nil {
		balance = res.NewBalance.String()
	}
	logger.LogMint(res.TxHash.Hex(), res.Secret, res.ConfirmedAt.Unix(),
		int64(res.LastMintedAt), res.DeltaT, balance)

	return res, nil
}

func (s *Submitter) mint(ctx context.Context, secret uint64) (*ledger.PendingMint, error) {
	if s.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SubmitTimeout)
		defer cancel()
	}
	return s.ledger.Mint(ctx, s.miner, new(big.Int).SetUint64(secret))
}

func (s *Submitter) waitMined(ctx context.Context, pending *ledger.PendingMint) (*ledger.Receipt, error) {
	if s.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
		defer cancel()
	}
	return s.ledger.WaitMined(ctx, pending)
}
