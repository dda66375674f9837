package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// MintRepository handles mint history operations
type MintRepository struct {
	db *sql.DB
}

// NewMintRepository creates a new mint repository
func NewMintRepository(db *sql.DB) *MintRepository {
	return &MintRepository{db: db}
}

// CreateMint appends a submission outcome
func (r *MintRepository) CreateMint(ctx context.Context, mint *Mint) error {
	query := `
		INSERT INTO mints (miner, round, secret, digest, threshold, prev_hash, tx_hash, block_number,
		                   gas_used, accepted, rejection_reason, trials, search_ms, last_minted_at,
		                   delta_t, new_balance, submitted_at, confirmed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id`

	now := time.Now()
	err := r.db.QueryRowContext(ctx, query,
		strings.ToLower(mint.Miner), mint.Round, mint.Secret, mint.Digest, mint.Threshold,
		mint.PrevHash, mint.TxHash, mint.BlockNumber, mint.GasUsed, mint.Accepted,
		mint.RejectionReason, mint.Trials, mint.SearchMillis, mint.LastMintedAt,
		mint.DeltaT, mint.NewBalance, mint.SubmittedAt, mint.ConfirmedAt, now,
	).Scan(&mint.ID)

	if err != nil {
		return fmt.Errorf("failed to create mint: %w", err)
	}

	mint.CreatedAt = now
	return nil
}

// GetMintStats counts a miner's accepted and rejected submissions
func (r *MintRepository) GetMintStats(ctx context.Context, miner string) (*MintStats, error) {
	query := `
		SELECT COUNT(*) FILTER (WHERE accepted),
		       COUNT(*) FILTER (WHERE NOT accepted),
		       MAX(confirmed_at) FILTER (WHERE accepted)
		FROM mints
		WHERE miner = $1`

	stats := &MintStats{Miner: strings.ToLower(miner)}
	err := r.db.QueryRowContext(ctx, query, stats.Miner).Scan(
		&stats.Accepted, &stats.Rejected, &stats.LastMintedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get mint stats: %w", err)
	}

	return stats, nil
}
