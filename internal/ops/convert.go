package ops

import (
	"context"
	"log"
	"math/big"

	"fleetsnipe/internal/ethunit"
	"fleetsnipe/internal/fleet"
	"fleetsnipe/internal/univ3"
)

// ConvertSummary counts idle-gas conversions.
type ConvertSummary struct {
	Conversions int
	Skips       int
	Failures    int
	// TotalIn is the native amount swapped, in wei.
	TotalIn *big.Int
}

// Convert swaps each account's native balance above the gas reserve into
// the capital token through the router, wrapped-native in. feeHeadroom is
// extra wei kept back on top of the reserve to pay for the conversion
// transaction itself (the caller typically passes swap gas limit times fee
// cap), so the account still holds its full reserve after the swap mines.
// Per-account errors are logged and the loop continues.
func Convert(ctx context.Context, ch Chain, env Env, accounts []fleet.Account, feeHeadroom, minOut *big.Int) ConvertSummary {
	sum := ConvertSummary{TotalIn: new(big.Int)}

	keep := new(big.Int).Set(env.GasReserve)
	if feeHeadroom != nil {
		keep.Add(keep, feeHeadroom)
	}

	for _, acct := range accounts {
		bal, err := ch.NativeBalance(ctx, acct.Address)
		if err != nil {
			log.Printf("[warn] account %d native balance read failed: %v", acct.Index, err)
			sum.Failures++
			continue
		}
		excess := new(big.Int).Sub(bal, keep)
		if excess.Sign() <= 0 {
			sum.Skips++
			continue
		}

		hash, err := ch.SwapExactInput(ctx, acct.Key, acct.Address, univ3.SwapParams{
			TokenIn:          env.WrappedNative,
			TokenOut:         env.Capital,
			Fee:              env.FeeTier,
			Recipient:        acct.Address,
			AmountIn:         excess,
			AmountOutMinimum: minOut,
		}, excess)
		if err != nil {
			log.Printf("[warn] account %d gas conversion failed: %v", acct.Index, err)
			sum.Failures++
			continue
		}
		log.Printf("[convert] account %d converted %s idle gas (tx %s)", acct.Index, ethunit.FormatWei(excess), hash.Hex())
		sum.Conversions++
		sum.TotalIn.Add(sum.TotalIn, excess)
	}
	return sum
}
