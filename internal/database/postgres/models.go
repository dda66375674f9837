package postgres

import (
	"time"
)

// Mint is one submission outcome. Unsigned 64-bit and 256-bit values are
// carried as decimal strings and stored as NUMERIC.
type Mint struct {
	ID              int64      `db:"id"`
	Miner           string     `db:"miner"`
	Round           string     `db:"round"`
	Secret          string     `db:"secret"`
	Digest          string     `db:"digest"`
	Threshold       *string    `db:"threshold"`
	PrevHash        *string    `db:"prev_hash"`
	TxHash          *string    `db:"tx_hash"`
	BlockNumber     *int64     `db:"block_number"`
	GasUsed         *int64     `db:"gas_used"`
	Accepted        bool       `db:"accepted"`
	RejectionReason *string    `db:"rejection_reason"`
	Trials          *string    `db:"trials"`
	SearchMillis    *int64     `db:"search_ms"`
	LastMintedAt    *int64     `db:"last_minted_at"`
	DeltaT          *int64     `db:"delta_t"`
	NewBalance      *string    `db:"new_balance"`
	SubmittedAt     *time.Time `db:"submitted_at"`
	ConfirmedAt     *time.Time `db:"confirmed_at"`
	CreatedAt       time.Time  `db:"created_at"`
}

// MintStats aggregates a miner's history
type MintStats struct {
	Miner        string     `db:"miner"`
	Accepted     int64      `db:"accepted"`
	Rejected     int64      `db:"rejected"`
	LastMintedAt *time.Time `db:"last_minted_at"`
}
