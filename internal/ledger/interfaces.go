// Package ledger talks to the mint contract: it reads the round parameters,
// submits mints and waits for their receipts.
package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Reader defines the read-only contract calls needed to build a round snapshot.
//
// All methods take a context; implementations must return promptly once it
// is done.
type Reader interface {
	// Round returns the current round identifier.
	Round(ctx context.Context) (uint64, error)

	// PrevHash returns the previous round's reference hash.
	PrevHash(ctx context.Context) (common.Hash, error)

	// Threshold returns the current admission threshold.
	Threshold(ctx context.Context) (*big.Int, error)

	// LastMintedAt returns the unix time of the last accepted mint.
	LastMintedAt(ctx context.Context) (uint64, error)
}

// Ledger is the full contract surface used by the miner.
type Ledger interface {
	Reader

	// BalanceOf returns the token balance of owner.
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)

	// Mint sends mint(to, secret). It returns once the transaction is
	// accepted by the node, not once it is mined.
	Mint(ctx context.Context, to common.Address, secret *big.Int) (*PendingMint, error)

	// WaitMined blocks until the pending mint has a receipt or ctx is done.
	WaitMined(ctx context.Context, pending *PendingMint) (*Receipt, error)
}

// Compile-time interface compliance checks
var (
	_ Ledger = (*Client)(nil)
	_ Reader = (*Client)(nil)
)
