package fund

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"fleetsnipe/internal/chain"
	"fleetsnipe/internal/erc20"
)

// Gas limits for the two fixed call shapes the distributor sends. Generous
// enough for proxy-backed tokens like USDC.
const (
	nativeTransferGas = 21_000
	tokenTransferGas  = 90_000
	tokenApproveGas   = 70_000
)

// ClientBank implements Bank over a dialed RPC client. Fees are quoted once
// per run by the caller; every transfer in the run reuses them.
type ClientBank struct {
	Client         *chain.Client
	Capital        common.Address
	Router         common.Address
	Fees           chain.FeeQuote
	ConfirmTimeout time.Duration
}

func (b *ClientBank) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return b.Client.NativeBalance(ctx, addr)
}

func (b *ClientBank) CapitalBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return erc20.BalanceOf(ctx, b.Client, b.Capital, owner)
}

func (b *ClientBank) RouterAllowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return erc20.Allowance(ctx, b.Client, b.Capital, owner, b.Router)
}

func (b *ClientBank) SendNative(ctx context.Context, key *ecdsa.PrivateKey, nonce uint64, to common.Address, amount *big.Int) (common.Hash, error) {
	tx, err := b.Client.SignTx(key, &types.DynamicFeeTx{
		Nonce:     nonce,
		GasTipCap: b.Fees.TipCap,
		GasFeeCap: b.Fees.FeeCap,
		Gas:       nativeTransferGas,
		To:        &to,
		Value:     amount,
	})
	if err != nil {
		return common.Hash{}, err
	}
	if _, err := b.Client.SendAndConfirm(ctx, tx, b.ConfirmTimeout); err != nil {
		return tx.Hash(), err
	}
	return tx.Hash(), nil
}

func (b *ClientBank) SendCapital(ctx context.Context, key *ecdsa.PrivateKey, nonce uint64, to common.Address, amount *big.Int) (common.Hash, error) {
	tx, err := b.Client.SignTx(key, &types.DynamicFeeTx{
		Nonce:     nonce,
		GasTipCap: b.Fees.TipCap,
		GasFeeCap: b.Fees.FeeCap,
		Gas:       tokenTransferGas,
		To:        &b.Capital,
		Data:      erc20.TransferData(to, amount),
	})
	if err != nil {
		return common.Hash{}, err
	}
	if _, err := b.Client.SendAndConfirm(ctx, tx, b.ConfirmTimeout); err != nil {
		return tx.Hash(), err
	}
	return tx.Hash(), nil
}

func (b *ClientBank) ApproveRouter(ctx context.Context, key *ecdsa.PrivateKey, owner common.Address, amount *big.Int) (common.Hash, error) {
	nonce, err := b.Client.PendingNonceAt(ctx, owner)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := b.Client.SignTx(key, &types.DynamicFeeTx{
		Nonce:     nonce,
		GasTipCap: b.Fees.TipCap,
		GasFeeCap: b.Fees.FeeCap,
		Gas:       tokenApproveGas,
		To:        &b.Capital,
		Data:      erc20.ApproveData(b.Router, amount),
	})
	if err != nil {
		return common.Hash{}, err
	}
	if _, err := b.Client.SendAndConfirm(ctx, tx, b.ConfirmTimeout); err != nil {
		return tx.Hash(), err
	}
	return tx.Hash(), nil
}
