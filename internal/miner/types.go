// Package miner implements the mint cycle: search a round snapshot for an
// admissible secret, submit it, and start over with fresh parameters.
package miner

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bardlex/gomint/internal/digest"
)

// Candidate is an admissible secret for one round. Only the first one found
// per snapshot is kept.
type Candidate struct {
	Secret uint64
	Digest digest.Digest
	Round  uint64

	// Trials counts the hashes of batches completed before the find plus
	// the winning batch up to the secret. Batches still in flight on other
	// workers are not included.
	Trials  uint64
	Elapsed time.Duration
}

// Hashrate returns trials per second for the search that produced c.
func (c Candidate) Hashrate() float64 {
	if c.Elapsed <= 0 {
		return 0
	}
	return float64(c.Trials) / c.Elapsed.Seconds()
}

// SubmissionResult is the outcome of one Submit call.
type SubmissionResult struct {
	Accepted bool
	Round    uint64
	Secret   uint64
	Digest   digest.Digest

	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	SubmittedAt time.Time
	ConfirmedAt time.Time

	// LastMintedAt is the contract's previous mint time read before minting;
	// DeltaT is ConfirmedAt minus that, in seconds.
	LastMintedAt uint64
	DeltaT       int64
	// NewBalance is nil when the post-mint balance read failed.
	NewBalance *big.Int

	RejectionReason string
}

// Stage names the part of a cycle an error came from.
type Stage string

const (
	StageFetch  Stage = "fetch"
	StageSearch Stage = "search"
	StageSubmit Stage = "submit"
)

// State is the loop state.
type State int32

const (
	StateIdle State = iota
	StateSearching
	StateSubmitting
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateSubmitting:
		return "submitting"
	default:
		return "unknown"
	}
}
