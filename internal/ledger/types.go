package ledger

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// RoundSnapshot holds the round-defining values read at the start of a
// search. It is never mutated after Fetch returns it.
type RoundSnapshot struct {
	Round        uint64
	PrevHash     common.Hash
	Threshold    *big.Int
	LastMintedAt uint64
	FetchedAt    time.Time
}

// PendingMint is a mint transaction accepted by the node but not yet mined.
type PendingMint struct {
	Hash        common.Hash
	Nonce       uint64
	SubmittedAt time.Time

	tx *types.Transaction
}

// Receipt is the settled outcome of a mint transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Success     bool
	ConfirmedAt time.Time
}

func receiptFrom(r *types.Receipt, at time.Time) *Receipt {
	out := &Receipt{
		TxHash:      r.TxHash,
		GasUsed:     r.GasUsed,
		Success:     r.Status == types.ReceiptStatusSuccessful,
		ConfirmedAt: at,
	}
	if r.BlockNumber != nil && r.BlockNumber.IsUint64() {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}
