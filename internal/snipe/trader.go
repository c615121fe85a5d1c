package snipe

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"fleetsnipe/internal/chain"
	"fleetsnipe/internal/erc20"
	"fleetsnipe/internal/fleet"
	"fleetsnipe/internal/univ3"
)

// ClientTrader implements Trader against a live node and a fixed
// capital/trade pair on one router.
type ClientTrader struct {
	Client         *chain.Client
	Capital        common.Address
	Trade          common.Address
	Router         common.Address
	FeeTier        uint32
	SwapGasLimit   uint64
	ConfirmTimeout time.Duration
}

func (t *ClientTrader) CapitalBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return erc20.BalanceOf(ctx, t.Client, t.Capital, owner)
}

func (t *ClientTrader) TradeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return erc20.BalanceOf(ctx, t.Client, t.Trade, owner)
}

func (t *ClientTrader) Fees(ctx context.Context) (chain.FeeQuote, error) {
	return t.Client.SuggestFees(ctx)
}

// Swap sends the account's exact-input swap and waits for one confirmation.
// Send and confirm are separate so the caller can tell an unsubmitted
// transaction (zero hash) from an unconfirmed one.
func (t *ClientTrader) Swap(ctx context.Context, acct fleet.Account, amountIn, minOut *big.Int, fees chain.FeeQuote) (common.Hash, error) {
	data, err := univ3.ExactInputSingleData(univ3.SwapParams{
		TokenIn:          t.Capital,
		TokenOut:         t.Trade,
		Fee:              t.FeeTier,
		Recipient:        acct.Address,
		AmountIn:         amountIn,
		AmountOutMinimum: minOut,
	})
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := t.Client.PendingNonceAt(ctx, acct.Address)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := t.Client.SignTx(acct.Key, &types.DynamicFeeTx{
		Nonce:     nonce,
		GasTipCap: fees.TipCap,
		GasFeeCap: fees.FeeCap,
		Gas:       t.SwapGasLimit,
		To:        &t.Router,
		Data:      data,
	})
	if err != nil {
		return common.Hash{}, err
	}
	if err := t.Client.SendTx(ctx, tx); err != nil {
		return common.Hash{}, err
	}
	if _, err := t.Client.WaitMined(ctx, tx, t.ConfirmTimeout); err != nil {
		return tx.Hash(), err
	}
	return tx.Hash(), nil
}
