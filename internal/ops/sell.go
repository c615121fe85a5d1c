package ops

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"fleetsnipe/internal/erc20"
	"fleetsnipe/internal/fleet"
	"fleetsnipe/internal/univ3"
)

// SellResult reports the single-account liquidation that was executed.
type SellResult struct {
	AccountIndex uint32
	Account      common.Address
	TradeIn      *big.Int
	Spot         decimal.Decimal
	TxHash       common.Hash
}

// Sell converts capitalAmount (capital-token minor units) into a trade-token
// amount at the pool's spot price, then sells that amount from one account:
// the fleet is walked in shuffled order and the first account whose trade
// balance covers the amount does the swap, approving the router first if its
// allowance falls short. minOut bounds the capital received; nil accepts any
// output.
func Sell(ctx context.Context, ch Chain, env Env, accounts []fleet.Account, capitalAmount, minOut *big.Int) (SellResult, error) {
	var res SellResult
	if capitalAmount == nil || capitalAmount.Sign() <= 0 {
		return res, fmt.Errorf("sell amount must be positive")
	}

	pool, err := ch.PoolAddress(ctx)
	if err != nil {
		return res, fmt.Errorf("pool lookup: %w", err)
	}
	if pool == (common.Address{}) {
		return res, fmt.Errorf("pool not deployed")
	}
	s0, err := ch.Slot0(ctx, pool)
	if err != nil {
		return res, fmt.Errorf("slot0: %w", err)
	}
	token0, err := ch.Token0(ctx, pool)
	if err != nil {
		return res, fmt.Errorf("token0: %w", err)
	}
	capitalIsToken0 := token0 == env.Capital

	tradeIn, err := univ3.TradeAmountForCapital(capitalAmount, s0.SqrtPriceX96, capitalIsToken0)
	if err != nil {
		return res, err
	}
	if tradeIn.Sign() == 0 {
		return res, fmt.Errorf("amount %s is below one trade minor unit at the current price", capitalAmount)
	}
	res.TradeIn = tradeIn

	if res.Spot, err = univ3.SpotPrice(s0.SqrtPriceX96, capitalIsToken0, env.CapitalDecimals, env.TradeDecimals); err == nil {
		log.Printf("[sell] spot price %s capital per trade token, selling %s trade minor units", res.Spot, tradeIn)
	}

	seller, err := pickSeller(ctx, ch, env, accounts, tradeIn)
	if err != nil {
		return res, err
	}
	res.AccountIndex = seller.Index
	res.Account = seller.Address

	allowance, err := ch.Allowance(ctx, env.Trade, seller.Address, env.Router)
	if err != nil {
		return res, fmt.Errorf("account %d allowance: %w", seller.Index, err)
	}
	if allowance.Cmp(tradeIn) < 0 {
		hash, err := ch.Approve(ctx, seller.Key, seller.Address, env.Trade, env.Router, erc20.MaxApproval)
		if err != nil {
			return res, fmt.Errorf("account %d trade approval: %w", seller.Index, err)
		}
		log.Printf("[sell] account %d approved router for trade token (tx %s)", seller.Index, hash.Hex())
	}

	hash, err := ch.SwapExactInput(ctx, seller.Key, seller.Address, univ3.SwapParams{
		TokenIn:          env.Trade,
		TokenOut:         env.Capital,
		Fee:              env.FeeTier,
		Recipient:        seller.Address,
		AmountIn:         tradeIn,
		AmountOutMinimum: minOut,
	}, nil)
	if err != nil {
		return res, fmt.Errorf("account %d sell swap: %w", seller.Index, err)
	}
	res.TxHash = hash
	log.Printf("[sell] account %d sold %s trade minor units (tx %s)", seller.Index, tradeIn, hash.Hex())
	return res, nil
}

// pickSeller walks the fleet in shuffled order and returns the first account
// whose trade balance covers amount.
func pickSeller(ctx context.Context, ch Chain, env Env, accounts []fleet.Account, amount *big.Int) (fleet.Account, error) {
	best := new(big.Int)
	for _, i := range perm(len(accounts)) {
		acct := accounts[i]
		bal, err := ch.TokenBalance(ctx, env.Trade, acct.Address)
		if err != nil {
			log.Printf("[warn] account %d trade balance read failed: %v", acct.Index, err)
			continue
		}
		if bal.Cmp(amount) >= 0 {
			return acct, nil
		}
		if bal.Cmp(best) > 0 {
			best.Set(bal)
		}
	}
	return fleet.Account{}, fmt.Errorf("no account holds %s trade minor units (largest holding %s)", amount, best)
}
