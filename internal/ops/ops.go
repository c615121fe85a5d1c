// Package ops holds the non-launch lifecycle operations: balance inspection,
// partial liquidation, consolidation back to the funder, and idle gas
// conversion. None of these are time-critical; they trade speed for
// per-account fault isolation.
package ops

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"math/rand/v2"

	"github.com/ethereum/go-ethereum/common"

	"fleetsnipe/internal/univ3"
)

// Chain is the node surface the lifecycle operations run against. Write
// methods sign with the key passed per call and wait for one confirmation;
// owner is the sending address the nonce is read for.
type Chain interface {
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	PoolAddress(ctx context.Context) (common.Address, error)
	Slot0(ctx context.Context, pool common.Address) (univ3.Slot0, error)
	Token0(ctx context.Context, pool common.Address) (common.Address, error)
	TransferToken(ctx context.Context, key *ecdsa.PrivateKey, owner, token, to common.Address, amount *big.Int) (common.Hash, error)
	Approve(ctx context.Context, key *ecdsa.PrivateKey, owner, token, spender common.Address, amount *big.Int) (common.Hash, error)
	SwapExactInput(ctx context.Context, key *ecdsa.PrivateKey, owner common.Address, params univ3.SwapParams, value *big.Int) (common.Hash, error)
}

// Env is the static address environment every operation shares.
type Env struct {
	Capital         common.Address
	Trade           common.Address
	WrappedNative   common.Address
	Router          common.Address
	FeeTier         uint32
	CapitalDecimals int
	TradeDecimals   int
	// GasReserve is the per-account native balance convert leaves behind,
	// in wei.
	GasReserve *big.Int
}

// perm is swapped out in tests to make account ordering deterministic.
var perm = rand.Perm
