package univ3

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var q192 = new(big.Int).Lsh(big.NewInt(1), 192)

// TradeAmountForCapital converts a capital-token amount (minor units) into
// the trade-token amount (minor units) it is worth at the pool's current
// price. sqrtPriceX96 prices token1 in token0 as (p/2^96)^2, so the direction
// of the conversion depends on which side of the pool the capital token sits.
func TradeAmountForCapital(capital *big.Int, sqrtPriceX96 *big.Int, capitalIsToken0 bool) (*big.Int, error) {
	if capital == nil || capital.Sign() < 0 {
		return nil, fmt.Errorf("capital amount must be non-negative")
	}
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return nil, fmt.Errorf("pool has no price yet")
	}
	priceX192 := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	out := new(big.Int)
	if capitalIsToken0 {
		out.Mul(capital, priceX192)
		out.Div(out, q192)
	} else {
		out.Mul(capital, q192)
		out.Div(out, priceX192)
	}
	return out, nil
}

// SpotPrice renders the human-readable price of one whole trade token
// denominated in the capital token, adjusting for both tokens' minor-unit
// exponents. For logging; on-chain math stays in minor units.
func SpotPrice(sqrtPriceX96 *big.Int, capitalIsToken0 bool, capitalDecimals, tradeDecimals int) (decimal.Decimal, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("pool has no price yet")
	}
	priceX192 := decimal.NewFromBigInt(new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96), 0)
	denom := decimal.NewFromBigInt(q192, 0)

	// Minor-unit price of the trade token in the capital token.
	var minorPrice decimal.Decimal
	if capitalIsToken0 {
		minorPrice = denom.DivRound(priceX192, 36)
	} else {
		minorPrice = priceX192.DivRound(denom, 36)
	}
	return minorPrice.Shift(int32(tradeDecimals - capitalDecimals)), nil
}
