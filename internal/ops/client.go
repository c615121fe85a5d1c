package ops

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"fleetsnipe/internal/chain"
	"fleetsnipe/internal/erc20"
	"fleetsnipe/internal/univ3"
)

const (
	opsTransferGas = 90_000
	opsApproveGas  = 70_000
)

// ClientChain implements Chain against a live node. Fees are quoted per
// transaction; lifecycle operations are not latency-sensitive.
type ClientChain struct {
	Client         *chain.Client
	Factory        common.Address
	Capital        common.Address
	Trade          common.Address
	Router         common.Address
	FeeTier        uint32
	SwapGasLimit   uint64
	ConfirmTimeout time.Duration
}

func (c *ClientChain) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.Client.NativeBalance(ctx, addr)
}

func (c *ClientChain) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return erc20.BalanceOf(ctx, c.Client, token, owner)
}

func (c *ClientChain) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return erc20.Allowance(ctx, c.Client, token, owner, spender)
}

func (c *ClientChain) PoolAddress(ctx context.Context) (common.Address, error) {
	return univ3.PoolAddress(ctx, c.Client, c.Factory, c.Capital, c.Trade, c.FeeTier)
}

func (c *ClientChain) Slot0(ctx context.Context, pool common.Address) (univ3.Slot0, error) {
	return univ3.ReadSlot0(ctx, c.Client, pool)
}

func (c *ClientChain) Token0(ctx context.Context, pool common.Address) (common.Address, error) {
	return univ3.Token0(ctx, c.Client, pool)
}

func (c *ClientChain) TransferToken(ctx context.Context, key *ecdsa.PrivateKey, owner, token, to common.Address, amount *big.Int) (common.Hash, error) {
	return c.send(ctx, key, owner, token, erc20.TransferData(to, amount), nil, opsTransferGas)
}

func (c *ClientChain) Approve(ctx context.Context, key *ecdsa.PrivateKey, owner, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	return c.send(ctx, key, owner, token, erc20.ApproveData(spender, amount), nil, opsApproveGas)
}

func (c *ClientChain) SwapExactInput(ctx context.Context, key *ecdsa.PrivateKey, owner common.Address, params univ3.SwapParams, value *big.Int) (common.Hash, error) {
	data, err := univ3.ExactInputSingleData(params)
	if err != nil {
		return common.Hash{}, err
	}
	return c.send(ctx, key, owner, c.Router, data, value, c.SwapGasLimit)
}

func (c *ClientChain) send(ctx context.Context, key *ecdsa.PrivateKey, owner, to common.Address, data []byte, value *big.Int, gas uint64) (common.Hash, error) {
	fees, err := c.Client.SuggestFees(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := c.Client.PendingNonceAt(ctx, owner)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := c.Client.SignTx(key, &types.DynamicFeeTx{
		Nonce:     nonce,
		GasTipCap: fees.TipCap,
		GasFeeCap: fees.FeeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	if err != nil {
		return common.Hash{}, err
	}
	if _, err := c.Client.SendAndConfirm(ctx, tx, c.ConfirmTimeout); err != nil {
		return tx.Hash(), err
	}
	return tx.Hash(), nil
}
