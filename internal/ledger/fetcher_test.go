package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mintErrors "github.com/bardlex/gomint/pkg/errors"
)

type scriptedReader struct {
	mu         sync.Mutex
	rounds     []uint64 // consumed in order, last value repeats
	prevHash   common.Hash
	threshold  *big.Int
	lastMinted uint64

	roundErr     error
	thresholdErr error
	roundCalls   atomic.Int32
	block        chan struct{}
}

func (r *scriptedReader) Round(ctx context.Context) (uint64, error) {
	r.roundCalls.Add(1)
	if r.roundErr != nil {
		return 0, r.roundErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.rounds[0]
	if len(r.rounds) > 1 {
		r.rounds = r.rounds[1:]
	}
	return v, nil
}

func (r *scriptedReader) PrevHash(ctx context.Context) (common.Hash, error) {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
	}
	return r.prevHash, nil
}

func (r *scriptedReader) Threshold(context.Context) (*big.Int, error) {
	if r.thresholdErr != nil {
		return nil, r.thresholdErr
	}
	return r.threshold, nil
}

func (r *scriptedReader) LastMintedAt(context.Context) (uint64, error) {
	return r.lastMinted, nil
}

func newScriptedReader(rounds ...uint64) *scriptedReader {
	return &scriptedReader{
		rounds:     rounds,
		prevHash:   common.HexToHash("0xaa"),
		threshold:  big.NewInt(1000),
		lastMinted: 1_700_000_000,
	}
}

func TestFetcher_Fetch(t *testing.T) {
	reader := newScriptedReader(5)
	f := NewFetcher(reader, time.Second, 0)
	fixed := time.Unix(1_700_000_100, 0)
	f.now = func() time.Time { return fixed }

	snap, err := f.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(5), snap.Round)
	assert.Equal(t, reader.prevHash, snap.PrevHash)
	assert.Equal(t, int64(1000), snap.Threshold.Int64())
	assert.Equal(t, uint64(1_700_000_000), snap.LastMintedAt)
	assert.Equal(t, fixed, snap.FetchedAt)
	assert.Equal(t, int32(2), reader.roundCalls.Load(), "round is read before and after")

	// the snapshot does not alias the reader's value
	reader.threshold.SetInt64(1)
	assert.Equal(t, int64(1000), snap.Threshold.Int64())
}

func TestFetcher_RoundAdvancedMidFetch(t *testing.T) {
	f := NewFetcher(newScriptedReader(5, 6), time.Second, 0)

	_, err := f.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, mintErrors.IsType(err, mintErrors.ErrorTypeStale))
	assert.Equal(t, uint64(6), mintErrors.GetContext(err)["current_round"])
}

func TestFetcher_FailuresAreUnavailable(t *testing.T) {
	t.Run("round", func(t *testing.T) {
		reader := newScriptedReader(5)
		reader.roundErr = errors.New("connection refused")

		_, err := NewFetcher(reader, time.Second, 0).Fetch(context.Background())
		require.Error(t, err)
		assert.True(t, mintErrors.IsType(err, mintErrors.ErrorTypeUnavailable))
		assert.True(t, mintErrors.IsRetryable(err))
	})

	t.Run("threshold", func(t *testing.T) {
		reader := newScriptedReader(5)
		reader.thresholdErr = errors.New("execution reverted")

		_, err := NewFetcher(reader, time.Second, 0).Fetch(context.Background())
		require.Error(t, err)
		assert.True(t, mintErrors.IsType(err, mintErrors.ErrorTypeUnavailable))
		assert.Equal(t, int32(1), reader.roundCalls.Load(), "no re-read after a failed read")
	})

	t.Run("nil threshold", func(t *testing.T) {
		reader := newScriptedReader(5)
		reader.threshold = nil

		_, err := NewFetcher(reader, time.Second, 0).Fetch(context.Background())
		assert.True(t, mintErrors.IsType(err, mintErrors.ErrorTypeUnavailable))
	})
}

func TestFetcher_Timeout(t *testing.T) {
	reader := newScriptedReader(5)
	reader.block = make(chan struct{})
	defer close(reader.block)

	start := time.Now()
	_, err := NewFetcher(reader, 20*time.Millisecond, 0).Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, mintErrors.IsType(err, mintErrors.ErrorTypeUnavailable))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetcher_RateLimited(t *testing.T) {
	f := NewFetcher(newScriptedReader(5), time.Second, 20)

	start := time.Now()
	for range 3 {
		_, err := f.Fetch(context.Background())
		require.NoError(t, err)
	}
	// burst of 1 at 20/s: the 2nd and 3rd fetch wait ~50ms each
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
