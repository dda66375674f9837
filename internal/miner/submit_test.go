package miner

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bardlex/gomint/internal/digest"
	mintErrors "github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
)

func candidateFor(round, secret, d uint64) Candidate {
	return Candidate{Secret: secret, Digest: digest.FromUint64(d), Round: round}
}

func newTestSubmitter(l *fakeLedger, claimer Claimer) *Submitter {
	return NewSubmitter(l, testMiner, claimer, SubmitterConfig{
		SubmitTimeout:  time.Second,
		ConfirmTimeout: time.Second,
	}, log.Discard())
}

func TestSubmitter_Accepted(t *testing.T) {
	l := newFakeLedger(5, 1000)

	res, err := newTestSubmitter(l, nil).Submit(context.Background(), snapshotFor(5, 1000), candidateFor(5, 42, 999))
	require.NoError(t, err)

	mints := l.Mints()
	require.Len(t, mints, 1)
	assert.Equal(t, testMiner, mints[0].to)
	assert.Equal(t, int64(42), mints[0].secret.Int64())

	assert.True(t, res.Accepted)
	assert.Equal(t, uint64(5), res.Round)
	assert.Equal(t, uint64(42), res.Secret)
	assert.Equal(t, uint64(100), res.BlockNumber)
	assert.Equal(t, uint64(1_700_000_000), res.LastMintedAt)
	assert.Equal(t, int64(90), res.DeltaT)
	assert.Equal(t, int64(4), res.NewBalance.Int64())
	assert.Empty(t, res.RejectionReason)
}

func TestSubmitter_StaleRound(t *testing.T) {
	l := newFakeLedger(6, 1000)

	res, err := newTestSubmitter(l, nil).Submit(context.Background(), snapshotFor(5, 1000), candidateFor(5, 42, 999))
	require.Error(t, err)
	assert.True(t, mintErrors.IsType(err, mintErrors.ErrorTypeStale))
	assert.False(t, res.Accepted)
	assert.NotEmpty(t, res.RejectionReason)
	assert.Empty(t, l.Mints(), "no mint for a past round")
}

func TestSubmitter_RoundCheckFailureStillMints(t *testing.T) {
	l := newFakeLedger(5, 1000)
	l.roundErr = errors.New("connection refused")

	res, err := newTestSubmitter(l, nil).Submit(context.Background(), snapshotFor(5, 1000), candidateFor(5, 42, 999))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Len(t, l.Mints(), 1)
}

func TestSubmitter_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*fakeLedger)
		cand      Candidate
		wantType  mintErrors.ErrorType
		wantMints int
	}{
		{
			name:      "mint refused",
			setup:     func(l *fakeLedger) { l.mintErrs = []error{errors.New("execution reverted: bad secret")} },
			cand:      candidateFor(5, 42, 999),
			wantType:  mintErrors.ErrorTypeSubmission,
			wantMints: 1,
		},
		{
			name:      "receipt reverted",
			setup:     func(l *fakeLedger) { l.reverted = true },
			cand:      candidateFor(5, 42, 999),
			wantType:  mintErrors.ErrorTypeSubmission,
			wantMints: 1,
		},
		{
			name:      "confirmation lost",
			setup:     func(l *fakeLedger) { l.waitErr = errors.New("not found") },
			cand:      candidateFor(5, 42, 999),
			wantType:  mintErrors.ErrorTypeSubmission,
			wantMints: 1,
		},
		{
			name:      "not admissible",
			setup:     func(*fakeLedger) {},
			cand:      candidateFor(5, 42, 1000),
			wantType:  mintErrors.ErrorTypeSubmission,
			wantMints: 0,
		},
		{
			name:      "other round",
			setup:     func(*fakeLedger) {},
			cand:      candidateFor(4, 42, 999),
			wantType:  mintErrors.ErrorTypeSubmission,
			wantMints: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newFakeLedger(5, 1000)
			tt.setup(l)

			res, err := newTestSubmitter(l, nil).Submit(context.Background(), snapshotFor(5, 1000), tt.cand)
			require.Error(t, err)
			assert.True(t, mintErrors.IsType(err, tt.wantType), "got %v", err)
			require.NotNil(t, res)
			assert.False(t, res.Accepted)
			assert.Equal(t, err.Error(), res.RejectionReason)
			assert.Len(t, l.Mints(), tt.wantMints, "a candidate is submitted at most once")
		})
	}
}

func TestSubmitter_ConfirmTimeout(t *testing.T) {
	l := newFakeLedger(5, 1000)
	l.waitBlocks = true
	s := NewSubmitter(l, testMiner, nil, SubmitterConfig{ConfirmTimeout: 20 * time.Millisecond}, log.Discard())

	start := time.Now()
	_, err := s.Submit(context.Background(), snapshotFor(5, 1000), candidateFor(5, 42, 999))
	require.Error(t, err)
	assert.True(t, mintErrors.IsType(err, mintErrors.ErrorTypeSubmission))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSubmitter_Claim(t *testing.T) {
	t.Run("denied", func(t *testing.T) {
		l := newFakeLedger(5, 1000)
		c := &fakeClaimer{granted: false}

		_, err := newTestSubmitter(l, c).Submit(context.Background(), snapshotFor(5, 1000), candidateFor(5, 42, 999))
		assert.True(t, mintErrors.IsType(err, mintErrors.ErrorTypeSubmission))
		assert.Equal(t, []uint64{5}, c.rounds)
		assert.Empty(t, l.Mints())
	})

	t.Run("claim store down", func(t *testing.T) {
		l := newFakeLedger(5, 1000)
		c := &fakeClaimer{err: errors.New("redis: connection refused")}

		res, err := newTestSubmitter(l, c).Submit(context.Background(), snapshotFor(5, 1000), candidateFor(5, 42, 999))
		require.NoError(t, err)
		assert.True(t, res.Accepted)
		assert.Len(t, l.Mints(), 1)
	})
}

func TestSubmitter_BalanceReadFailure(t *testing.T) {
	l := newFakeLedger(5, 1000)
	l.balanceErr = errors.New("timeout")

	res, err := newTestSubmitter(l, nil).Submit(context.Background(), snapshotFor(5, 1000), candidateFor(5, 42, 999))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Nil(t, res.NewBalance)
}

func TestSubmitter_SecretEncoding(t *testing.T) {
	l := newFakeLedger(5, 1000)
	secret := uint64(1) << 63

	_, err := newTestSubmitter(l, nil).Submit(context.Background(), snapshotFor(5, 1000), candidateFor(5, secret, 1))
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).SetUint64(secret), l.Mints()[0].secret)
}
