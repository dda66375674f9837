package ledger

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/bardlex/gomint/pkg/circuit"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
	"github.com/bardlex/gomint/pkg/retry"
)

// mintABI is the subset of the mint contract used by the client.
const mintABI = `[
	{"type":"function","name":"round","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"prevBlockHash","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"currentThreshold","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"lastMintedAt","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"secret","type":"uint256"}],"outputs":[]}
]`

// ClientConfig holds the ledger connection settings.
type ClientConfig struct {
	RPCURL   string
	Contract common.Address
	// ChainID of zero asks the node.
	ChainID     int64
	CallTimeout time.Duration
}

// contractBackend is what bind needs from the node, plus receipts.
type contractBackend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Client implements Ledger on top of go-ethereum's bound contract. Reads go
// through a circuit breaker and a short retry; mints go through the breaker
// only so that a transaction is never sent twice.
type Client struct {
	eth        *ethclient.Client
	backend    contractBackend
	contract   *bind.BoundContract
	transactor *bind.TransactOpts
	identity   *Identity

	callTimeout    time.Duration
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
	logger         *log.Logger
}

// NewClient dials the node and binds the mint contract. identity may be
// watch-only, in which case Mint fails.
func NewClient(ctx context.Context, cfg ClientConfig, identity *Identity, logger *log.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "dial_ledger",
			"failed to connect to ledger node").
			WithContext("rpc_url", cfg.RPCURL)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "chain_id",
				"failed to read chain id")
		}
	}

	c, err := newClient(eth, cfg, chainID, identity, logger)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.eth = eth

	c.logger.Info("connected to ledger",
		"chain_id", chainID.String(),
		"contract", cfg.Contract.Hex(),
		"can_sign", identity.CanSign(),
	)
	return c, nil
}

func newClient(backend contractBackend, cfg ClientConfig, chainID *big.Int, identity *Identity, logger *log.Logger) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(mintABI))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "parse_abi", "invalid mint ABI")
	}

	logger = logger.WithComponent("ledger")
	breakerCfg := circuit.LedgerConfig("ledger")
	breakerCfg.OnStateChange = func(name string, from, to circuit.State) {
		logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	}

	c := &Client{
		backend:        backend,
		contract:       bind.NewBoundContract(cfg.Contract, parsed, backend, backend, backend),
		identity:       identity,
		callTimeout:    cfg.CallTimeout,
		circuitBreaker: circuit.New(breakerCfg),
		retryConfig:    retry.LedgerConfig(),
		logger:         logger,
	}

	if identity.CanSign() {
		c.transactor, err = bind.NewKeyedTransactorWithChainID(identity.key, chainID)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "create_transactor",
				"failed to create transactor")
		}
	}

	return c, nil
}

// Close releases the node connection.
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}

// Round implements Reader.
func (c *Client) Round(ctx context.Context) (uint64, error) {
	return c.callUint64(ctx, "round")
}

// PrevHash implements Reader.
func (c *Client) PrevHash(ctx context.Context) (common.Hash, error) {
	out, err := c.call(ctx, "prevBlockHash")
	if err != nil {
		return common.Hash{}, err
	}
	raw, ok := out[0].([32]byte)
	if !ok {
		return common.Hash{}, unexpectedOutput("prevBlockHash", out[0])
	}
	return common.Hash(raw), nil
}

// Threshold implements Reader.
func (c *Client) Threshold(ctx context.Context) (*big.Int, error) {
	return c.callBig(ctx, "currentThreshold")
}

// LastMintedAt implements Reader.
func (c *Client) LastMintedAt(ctx context.Context) (uint64, error) {
	return c.callUint64(ctx, "lastMintedAt")
}

// BalanceOf implements Ledger.
func (c *Client) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return c.callBig(ctx, "balanceOf", owner)
}

// Mint implements Ledger. Gas is estimated by the node, so a secret the
// contract would reject fails here with the revert reason.
func (c *Client) Mint(ctx context.Context, to common.Address, secret *big.Int) (*PendingMint, error) {
	if c.transactor == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "mint",
			"identity cannot sign transactions")
	}

	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (*PendingMint, error) {
		callCtx, cancel := c.withTimeout(ctx)
		defer cancel()

		opts := *c.transactor
		opts.Context = callCtx

		tx, err := c.contract.Transact(&opts, "mint", to, secret)
		if err != nil {
			return nil, classify(err, "mint").
				WithContext("secret", secret.String())
		}

		c.logger.Debug("mint transaction sent", "tx_hash", tx.Hash().Hex(), "nonce", tx.Nonce())
		return &PendingMint{
			Hash:        tx.Hash(),
			Nonce:       tx.Nonce(),
			SubmittedAt: time.Now(),
			tx:          tx,
		}, nil
	})
}

// WaitMined implements Ledger. It polls for the receipt until ctx is done;
// callers bound it with a confirmation timeout.
func (c *Client) WaitMined(ctx context.Context, pending *PendingMint) (*Receipt, error) {
	if pending == nil || pending.tx == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "wait_mined",
			"pending mint was not created by this client")
	}

	receipt, err := bind.WaitMined(ctx, c.backend, pending.tx)
	if err != nil {
		return nil, classify(err, "wait_mined").
			WithContext("tx_hash", pending.Hash.Hex())
	}
	return receiptFrom(receipt, time.Now()), nil
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() ([]any, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() ([]any, error) {
			callCtx, cancel := c.withTimeout(ctx)
			defer cancel()

			var out []any
			if err := c.contract.Call(&bind.CallOpts{Context: callCtx}, &out, method, args...); err != nil {
				return nil, classify(err, "call_"+method)
			}
			if len(out) == 0 {
				return nil, errors.New(errors.ErrorTypeLedger, "call_"+method, "empty output")
			}
			return out, nil
		})
	})
}

func (c *Client) callBig(ctx context.Context, method string, args ...any) (*big.Int, error) {
	out, err := c.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, unexpectedOutput(method, out[0])
	}
	return v, nil
}

func (c *Client) callUint64(ctx context.Context, method string) (uint64, error) {
	v, err := c.callBig(ctx, method)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, errors.New(errors.ErrorTypeValidation, "call_"+method,
			"value does not fit in 64 bits").
			WithContext("value", v.String())
	}
	return v.Uint64(), nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

// classify wraps a node error, marking expired deadlines as timeouts.
func classify(err error, operation string) *errors.ServiceError {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, operation, "ledger call timed out")
	}
	return errors.Wrap(err, errors.ErrorTypeLedger, operation, "ledger call failed")
}

func unexpectedOutput(method string, v any) error {
	return errors.New(errors.ErrorTypeLedger, "call_"+method, "unexpected output type").
		WithContext("type", fmt.Sprintf("%T", v))
}
