package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mintErrors "github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
)

var testContract = common.HexToAddress("0x8c941d5f5845649b91526666d96945896a7a99b5")

// fakeNode answers contract calls from canned values. Methods bind never
// reaches in these tests are left to the embedded nil interface.
type fakeNode struct {
	contractBackend

	abi       abi.ABI
	mu        sync.Mutex
	values    map[string]any
	callErr   error
	calls     map[string]int
	sent      []*types.Transaction
	receiptOK bool
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(mintABI))
	require.NoError(t, err)

	return &fakeNode{
		abi: parsed,
		values: map[string]any{
			"round":            big.NewInt(5),
			"prevBlockHash":    [32]byte{0xaa},
			"currentThreshold": big.NewInt(1000),
			"lastMintedAt":     big.NewInt(1_700_000_000),
			"balanceOf":        big.NewInt(3),
		},
		calls:     make(map[string]int),
		receiptOK: true,
	}
}

func (f *fakeNode) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for name, method := range f.abi.Methods {
		if !bytes.Equal(msg.Data[:4], method.ID) {
			continue
		}
		f.calls[name]++
		if f.callErr != nil {
			return nil, f.callErr
		}
		return method.Outputs.Pack(f.values[name])
	}
	return nil, errors.New("unknown selector")
}

func (f *fakeNode) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeNode) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeNode) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(99), BaseFee: big.NewInt(1_000_000)}, nil
}

func (f *fakeNode) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000), nil
}

func (f *fakeNode) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeNode) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 60_000, nil
}

func (f *fakeNode) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeNode) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	status := types.ReceiptStatusSuccessful
	if !f.receiptOK {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{
		TxHash:      hash,
		Status:      status,
		BlockNumber: big.NewInt(100),
		GasUsed:     51_234,
	}, nil
}

func testIdentity(t *testing.T) *Identity {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	id, err := NewIdentity(hex.EncodeToString(crypto.FromECDSA(key)), "")
	require.NoError(t, err)
	return id
}

func newTestClient(t *testing.T, node *fakeNode, id *Identity) *Client {
	t.Helper()
	c, err := newClient(node, ClientConfig{Contract: testContract, CallTimeout: time.Second},
		big.NewInt(8453), id, log.Discard())
	require.NoError(t, err)
	return c
}

func TestClient_Reads(t *testing.T) {
	node := newFakeNode(t)
	id := testIdentity(t)
	c := newTestClient(t, node, id)
	ctx := context.Background()

	round, err := c.Round(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), round)

	prev, err := c.PrevHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(0xaa), prev[0])

	threshold, err := c.Threshold(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), threshold.Int64())

	last, err := c.LastMintedAt(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_700_000_000), last)

	balance, err := c.BalanceOf(ctx, id.Address)
	require.NoError(t, err)
	assert.Equal(t, int64(3), balance.Int64())
}

func TestClient_RoundTooWide(t *testing.T) {
	node := newFakeNode(t)
	node.values["round"] = new(big.Int).Lsh(big.NewInt(1), 80)
	c := newTestClient(t, node, testIdentity(t))

	_, err := c.Round(context.Background())
	require.Error(t, err)
	assert.True(t, mintErrors.IsType(err, mintErrors.ErrorTypeValidation))
}

func TestClient_ReadRetriesTransientErrors(t *testing.T) {
	node := newFakeNode(t)
	node.callErr = errors.New("dial tcp 127.0.0.1:8545: connection refused")
	c := newTestClient(t, node, testIdentity(t))

	_, err := c.Threshold(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, node.calls["currentThreshold"], "ledger retry policy makes 3 attempts")
	assert.True(t, mintErrors.IsRetryable(err))
}

func TestClient_ReadDoesNotRetryReverts(t *testing.T) {
	node := newFakeNode(t)
	node.callErr = errors.New("execution reverted")
	c := newTestClient(t, node, testIdentity(t))

	_, err := c.PrevHash(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, node.calls["prevBlockHash"])
	assert.True(t, mintErrors.IsType(err, mintErrors.ErrorTypeLedger))
}

func TestClient_MintAndWait(t *testing.T) {
	node := newFakeNode(t)
	id := testIdentity(t)
	c := newTestClient(t, node, id)
	ctx := context.Background()

	pending, err := c.Mint(ctx, id.Address, big.NewInt(42))
	require.NoError(t, err)
	require.Len(t, node.sent, 1)

	tx := node.sent[0]
	assert.Equal(t, pending.Hash, tx.Hash())
	assert.Equal(t, uint64(7), pending.Nonce)
	assert.Equal(t, testContract, *tx.To())

	method, err := node.abi.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "mint", method.Name)

	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, id.Address, args[0])
	assert.Equal(t, int64(42), args[1].(*big.Int).Int64())

	receipt, err := c.WaitMined(ctx, pending)
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.Equal(t, uint64(100), receipt.BlockNumber)
	assert.Equal(t, uint64(51_234), receipt.GasUsed)
}

func TestClient_WaitMinedReverted(t *testing.T) {
	node := newFakeNode(t)
	node.receiptOK = false
	id := testIdentity(t)
	c := newTestClient(t, node, id)

	pending, err := c.Mint(context.Background(), id.Address, big.NewInt(1))
	require.NoError(t, err)

	receipt, err := c.WaitMined(context.Background(), pending)
	require.NoError(t, err)
	assert.False(t, receipt.Success)
}

func TestClient_MintWithoutKey(t *testing.T) {
	node := newFakeNode(t)
	c := newTestClient(t, node, WatchOnly(common.HexToAddress("0x01")))

	_, err := c.Mint(context.Background(), common.HexToAddress("0x01"), big.NewInt(1))
	require.Error(t, err)
	assert.True(t, mintErrors.IsType(err, mintErrors.ErrorTypeValidation))
	assert.Empty(t, node.sent)
}

func TestClient_WaitMinedForeignPending(t *testing.T) {
	c := newTestClient(t, newFakeNode(t), testIdentity(t))

	_, err := c.WaitMined(context.Background(), &PendingMint{Hash: common.HexToHash("0x01")})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	timeout := classify(context.DeadlineExceeded, "call_round")
	assert.Equal(t, mintErrors.ErrorTypeTimeout, timeout.Type)
	assert.True(t, timeout.Retryable)

	other := classify(errors.New("insufficient funds for gas * price + value"), "mint")
	assert.Equal(t, mintErrors.ErrorTypeLedger, other.Type)
	assert.False(t, other.Retryable)
}
