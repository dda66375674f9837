package database

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bardlex/gomint/internal/digest"
	"github.com/bardlex/gomint/internal/ledger"
	"github.com/bardlex/gomint/internal/miner"
	mintErrors "github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
)

var testMiner = common.HexToAddress("0x1111111111111111111111111111111111111111")

func testSnapshot() ledger.RoundSnapshot {
	return ledger.RoundSnapshot{
		Round:        5,
		PrevHash:     common.HexToHash("0xaa"),
		Threshold:    big.NewInt(1000),
		LastMintedAt: 1_700_000_000,
		FetchedAt:    time.Unix(1_700_000_050, 0),
	}
}

func TestManager_NoStores(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(ctx, &Config{}, testMiner, log.Discard())
	require.NoError(t, err)
	assert.NotEmpty(t, m.owner)

	ok, err := m.ClaimRound(ctx, 5, testMiner)
	require.NoError(t, err)
	assert.True(t, ok, "claims always succeed without redis")

	snap := testSnapshot()
	cand := miner.Candidate{Secret: 42, Digest: digest.FromUint64(999), Round: 5, Trials: 42}
	m.SnapshotFetched(ctx, snap)
	m.CandidateFound(ctx, snap, cand)
	m.Submitted(ctx, &miner.SubmissionResult{Accepted: true, Round: 5, Secret: 42})
	m.CycleFailed(ctx, miner.StageFetch, errors.New("boom"))

	summary, err := m.Summary(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Accepted)

	assert.NoError(t, m.Health(ctx))
	assert.NoError(t, m.Close())
}

func TestMintRecord_Accepted(t *testing.T) {
	submitted := time.Unix(1_700_000_080, 0)
	confirmed := time.Unix(1_700_000_090, 0)
	res := &miner.SubmissionResult{
		Accepted:     true,
		Round:        5,
		Secret:       42,
		Digest:       digest.FromUint64(999),
		TxHash:       common.HexToHash("0xbeef"),
		BlockNumber:  100,
		GasUsed:      51_000,
		SubmittedAt:  submitted,
		ConfirmedAt:  confirmed,
		LastMintedAt: 1_700_000_000,
		DeltaT:       90,
		NewBalance:   big.NewInt(4),
	}
	last := &found{
		snap: testSnapshot(),
		cand: miner.Candidate{Secret: 42, Round: 5, Trials: 42, Elapsed: 1500 * time.Millisecond},
	}

	mint := mintRecord(testMiner, res, last)

	assert.Equal(t, testMiner.Hex(), mint.Miner)
	assert.Equal(t, "5", mint.Round)
	assert.Equal(t, "42", mint.Secret)
	assert.Equal(t, digest.FromUint64(999).Hex(), mint.Digest)
	assert.True(t, mint.Accepted)
	assert.Equal(t, res.TxHash.Hex(), *mint.TxHash)
	assert.Equal(t, int64(100), *mint.BlockNumber)
	assert.Equal(t, int64(51_000), *mint.GasUsed)
	assert.Equal(t, int64(90), *mint.DeltaT)
	assert.Equal(t, "4", *mint.NewBalance)
	assert.Equal(t, "1000", *mint.Threshold)
	assert.Equal(t, "42", *mint.Trials)
	assert.Equal(t, int64(1500), *mint.SearchMillis)
	assert.Equal(t, confirmed, *mint.ConfirmedAt)
	assert.Nil(t, mint.RejectionReason)
}

func TestMintRecord_Rejected(t *testing.T) {
	res := &miner.SubmissionResult{
		Round:           5,
		Secret:          1 << 63,
		Digest:          digest.FromUint64(1),
		RejectionReason: "round advanced",
	}

	mint := mintRecord(testMiner, res, nil)

	assert.False(t, mint.Accepted)
	assert.Equal(t, "9223372036854775808", mint.Secret)
	assert.Equal(t, "round advanced", *mint.RejectionReason)
	assert.Nil(t, mint.TxHash)
	assert.Nil(t, mint.BlockNumber)
	assert.Nil(t, mint.DeltaT)
	assert.Nil(t, mint.NewBalance)
	assert.Nil(t, mint.Threshold)
	assert.Nil(t, mint.ConfirmedAt)
}

func TestSnapshotRecord(t *testing.T) {
	rec := snapshotRecord(testSnapshot())
	assert.Equal(t, uint64(5), rec.Round)
	assert.Equal(t, "1000", rec.Threshold)
	assert.Equal(t, common.HexToHash("0xaa").Hex(), rec.PrevHash)

	snap := testSnapshot()
	snap.Threshold = nil
	assert.Empty(t, snapshotRecord(snap).Threshold)
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "unavailable", errorType(mintErrors.Unavailable("fetch_round", errors.New("x"))))
	assert.Equal(t, "stale", errorType(mintErrors.Stale("watch_round", 5, 6)))
	assert.Equal(t, "unknown", errorType(errors.New("plain")))
}
