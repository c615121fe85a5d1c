// Package univ3 talks to the three v3-style contracts the sniper needs: the
// pool factory, the pool itself, and the swap router. Calls go through packed
// ABI data so no bound contract objects are held anywhere.
package univ3

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Caller is the read surface this package needs from the chain client.
type Caller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

const factoryABIJSON = `[
  {"inputs":[
    {"internalType":"address","name":"tokenA","type":"address"},
    {"internalType":"address","name":"tokenB","type":"address"},
    {"internalType":"uint24","name":"fee","type":"uint24"}],
   "name":"getPool",
   "outputs":[{"internalType":"address","name":"pool","type":"address"}],
   "stateMutability":"view","type":"function"}
]`

const poolABIJSON = `[
  {"inputs":[],"name":"liquidity",
   "outputs":[{"internalType":"uint128","name":"","type":"uint128"}],
   "stateMutability":"view","type":"function"},
  {"inputs":[],"name":"slot0",
   "outputs":[
    {"internalType":"uint160","name":"sqrtPriceX96","type":"uint160"},
    {"internalType":"int24","name":"tick","type":"int24"},
    {"internalType":"uint16","name":"observationIndex","type":"uint16"},
    {"internalType":"uint16","name":"observationCardinality","type":"uint16"},
    {"internalType":"uint16","name":"observationCardinalityNext","type":"uint16"},
    {"internalType":"uint8","name":"feeProtocol","type":"uint8"},
    {"internalType":"bool","name":"unlocked","type":"bool"}],
   "stateMutability":"view","type":"function"},
  {"inputs":[],"name":"token0",
   "outputs":[{"internalType":"address","name":"","type":"address"}],
   "stateMutability":"view","type":"function"},
  {"inputs":[],"name":"token1",
   "outputs":[{"internalType":"address","name":"","type":"address"}],
   "stateMutability":"view","type":"function"}
]`

const routerABIJSON = `[
  {"inputs":[
    {"components":[
      {"internalType":"address","name":"tokenIn","type":"address"},
      {"internalType":"address","name":"tokenOut","type":"address"},
      {"internalType":"uint24","name":"fee","type":"uint24"},
      {"internalType":"address","name":"recipient","type":"address"},
      {"internalType":"uint256","name":"amountIn","type":"uint256"},
      {"internalType":"uint256","name":"amountOutMinimum","type":"uint256"},
      {"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],
     "internalType":"struct IV3SwapRouter.ExactInputSingleParams",
     "name":"params","type":"tuple"}],
   "name":"exactInputSingle",
   "outputs":[{"internalType":"uint256","name":"amountOut","type":"uint256"}],
   "stateMutability":"payable","type":"function"}
]`

var (
	factoryABI = mustABI(factoryABIJSON)
	poolABI    = mustABI(poolABIJSON)
	routerABI  = mustABI(routerABIJSON)
)

func mustABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

func callABI(ctx context.Context, caller Caller, to common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := caller.CallContract(ctx, to, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	vals, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

// PoolAddress asks the factory for the pool of (tokenA, tokenB, fee).
// The zero address means the pool has not been deployed.
func PoolAddress(ctx context.Context, caller Caller, factory, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	vals, err := callABI(ctx, caller, factory, factoryABI, "getPool", tokenA, tokenB, big.NewInt(int64(fee)))
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("getPool: unexpected result type %T", vals[0])
	}
	return addr, nil
}

// Liquidity reads the pool's current in-range liquidity.
func Liquidity(ctx context.Context, caller Caller, pool common.Address) (*big.Int, error) {
	vals, err := callABI(ctx, caller, pool, poolABI, "liquidity")
	if err != nil {
		return nil, err
	}
	liq, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("liquidity: unexpected result type %T", vals[0])
	}
	return liq, nil
}

// Slot0 is the price-bearing head of the pool's packed state.
type Slot0 struct {
	SqrtPriceX96 *big.Int
	Tick         int32
}

// ReadSlot0 fetches the pool's current price state.
func ReadSlot0(ctx context.Context, caller Caller, pool common.Address) (Slot0, error) {
	vals, err := callABI(ctx, caller, pool, poolABI, "slot0")
	if err != nil {
		return Slot0{}, err
	}
	if len(vals) < 2 {
		return Slot0{}, fmt.Errorf("slot0: got %d values", len(vals))
	}
	sqrtPrice, ok := vals[0].(*big.Int)
	if !ok {
		return Slot0{}, fmt.Errorf("slot0: unexpected price type %T", vals[0])
	}
	tick, ok := vals[1].(*big.Int)
	if !ok {
		return Slot0{}, fmt.Errorf("slot0: unexpected tick type %T", vals[1])
	}
	return Slot0{SqrtPriceX96: sqrtPrice, Tick: int32(tick.Int64())}, nil
}

// Token0 reads the pool's numerically lower token address.
func Token0(ctx context.Context, caller Caller, pool common.Address) (common.Address, error) {
	return poolToken(ctx, caller, pool, "token0")
}

// Token1 reads the pool's numerically higher token address.
func Token1(ctx context.Context, caller Caller, pool common.Address) (common.Address, error) {
	return poolToken(ctx, caller, pool, "token1")
}

func poolToken(ctx context.Context, caller Caller, pool common.Address, method string) (common.Address, error) {
	vals, err := callABI(ctx, caller, pool, poolABI, method)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected result type %T", method, vals[0])
	}
	return addr, nil
}

// SwapParams describes one exact-input single-hop swap.
type SwapParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               uint32
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// ExactInputSingleData packs router calldata for p. AmountOutMinimum and
// SqrtPriceLimitX96 may be nil for zero.
func ExactInputSingleData(p SwapParams) ([]byte, error) {
	minOut := p.AmountOutMinimum
	if minOut == nil {
		minOut = new(big.Int)
	}
	priceLimit := p.SqrtPriceLimitX96
	if priceLimit == nil {
		priceLimit = new(big.Int)
	}
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("swap amount must be positive")
	}
	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           p.TokenIn,
		TokenOut:          p.TokenOut,
		Fee:               big.NewInt(int64(p.Fee)),
		Recipient:         p.Recipient,
		AmountIn:          p.AmountIn,
		AmountOutMinimum:  minOut,
		SqrtPriceLimitX96: priceLimit,
	}
	data, err := routerABI.Pack("exactInputSingle", params)
	if err != nil {
		return nil, fmt.Errorf("pack exactInputSingle: %w", err)
	}
	return data, nil
}
