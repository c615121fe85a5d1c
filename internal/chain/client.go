package chain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"math/rand/v2"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// DefaultCallTimeout bounds a single RPC round-trip. Receipt waits take their
// own, longer timeout.
const DefaultCallTimeout = 8 * time.Second

// ErrReverted marks a transaction that was mined with a failed status.
var ErrReverted = fmt.Errorf("transaction reverted")

// Client wraps an ethclient connection with per-call timeouts and the chain
// ID fetched once at dial time.
type Client struct {
	eth         *ethclient.Client
	chainID     *big.Int
	callTimeout time.Duration
}

// Dial connects to rpcURL with exponential backoff and resolves the chain ID.
// It keeps retrying until the context is cancelled.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		eth, err := ethclient.DialContext(ctx, rpcURL)
		if err == nil {
			cctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
			chainID, idErr := eth.ChainID(cctx)
			cancel()
			if idErr == nil {
				return &Client{eth: eth, chainID: chainID, callTimeout: DefaultCallTimeout}, nil
			}
			eth.Close()
			err = fmt.Errorf("chain id: %w", idErr)
		}
		log.Printf("[warn] dial %s failed: %v", rpcURL, err)

		if sleepErr := sleepWithContext(ctx, jitterDuration(backoff)); sleepErr != nil {
			return nil, sleepErr
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.eth.Close()
}

// ChainID returns the ID resolved at dial time.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

// NativeBalance reads the gas-token balance of addr at the latest block.
func (c *Client) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	bal, err := c.eth.BalanceAt(cctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", addr.Hex(), err)
	}
	return bal, nil
}

// CallContract performs an eth_call of data against to at the latest block.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	out, err := c.eth.CallContract(cctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", to.Hex(), err)
	}
	return out, nil
}

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	n, err := c.eth.BlockNumber(cctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return n, nil
}

// FilterLogs queries event logs for q.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	logs, err := c.eth.FilterLogs(cctx, q)
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w", err)
	}
	return logs, nil
}

// PendingNonceAt returns the next nonce for addr including pending txs.
func (c *Client) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	n, err := c.eth.PendingNonceAt(cctx, addr)
	if err != nil {
		return 0, fmt.Errorf("pending nonce of %s: %w", addr.Hex(), err)
	}
	return n, nil
}

// EstimateGas asks the node for a gas limit for the given message.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	gas, err := c.eth.EstimateGas(cctx, msg)
	if err != nil {
		return 0, fmt.Errorf("estimate gas: %w", err)
	}
	return gas, nil
}

// SendTx broadcasts a signed transaction.
func (c *Client) SendTx(ctx context.Context, tx *types.Transaction) error {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	if err := c.eth.SendTransaction(cctx, tx); err != nil {
		return fmt.Errorf("send tx %s: %w", tx.Hash().Hex(), err)
	}
	return nil
}

// WaitMined blocks until tx is included, then checks its status. A zero
// timeout waits on ctx alone.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction, timeout time.Duration) (*types.Receipt, error) {
	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	receipt, err := bind.WaitMined(wctx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("wait mined %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("tx %s: %w", tx.Hash().Hex(), ErrReverted)
	}
	return receipt, nil
}

// SendAndConfirm broadcasts tx and waits for one confirmation.
func (c *Client) SendAndConfirm(ctx context.Context, tx *types.Transaction, timeout time.Duration) (*types.Receipt, error) {
	if err := c.SendTx(ctx, tx); err != nil {
		return nil, err
	}
	return c.WaitMined(ctx, tx, timeout)
}

// jitterDuration spreads d by ±20% so concurrent retry loops do not align.
func jitterDuration(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := int64(d) / 5
	if spread == 0 {
		return d
	}
	return d + time.Duration(rand.Int64N(2*spread)-spread)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
