package erc20

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Caller is the read surface this package needs from the chain client.
type Caller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

var (
	balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	allowanceSelector = crypto.Keccak256([]byte("allowance(address,address)"))[:4]
	transferSelector  = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	approveSelector   = crypto.Keccak256([]byte("approve(address,uint256)"))[:4]
	decimalsSelector  = crypto.Keccak256([]byte("decimals()"))[:4]
)

// MaxApproval is the conventional unlimited allowance, max(uint256).
var MaxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func callUint256(ctx context.Context, caller Caller, to common.Address, data []byte) (*big.Int, error) {
	out, err := caller.CallContract(ctx, to, data)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty result")
	}
	return new(big.Int).SetBytes(out), nil
}

// BalanceOf reads owner's token balance in minor units.
func BalanceOf(ctx context.Context, caller Caller, token, owner common.Address) (*big.Int, error) {
	data := make([]byte, 0, 4+32)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)

	bal, err := callUint256(ctx, caller, token, data)
	if err != nil {
		return nil, fmt.Errorf("balanceOf(%s) on %s: %w", owner.Hex(), token.Hex(), err)
	}
	return bal, nil
}

// Allowance reads how much spender may move of owner's tokens.
func Allowance(ctx context.Context, caller Caller, token, owner, spender common.Address) (*big.Int, error) {
	data := make([]byte, 0, 4+32+32)
	data = append(data, allowanceSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)

	a, err := callUint256(ctx, caller, token, data)
	if err != nil {
		return nil, fmt.Errorf("allowance(%s,%s) on %s: %w", owner.Hex(), spender.Hex(), token.Hex(), err)
	}
	return a, nil
}

// Decimals reads the token's minor-unit exponent.
func Decimals(ctx context.Context, caller Caller, token common.Address) (int, error) {
	d, err := callUint256(ctx, caller, token, append([]byte{}, decimalsSelector...))
	if err != nil {
		return 0, fmt.Errorf("decimals() on %s: %w", token.Hex(), err)
	}
	if !d.IsUint64() || d.Uint64() > 76 {
		return 0, fmt.Errorf("decimals() on %s returned %s", token.Hex(), d)
	}
	return int(d.Uint64()), nil
}

// TransferData builds calldata for transfer(to, amount).
func TransferData(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

// ApproveData builds calldata for approve(spender, amount).
func ApproveData(spender common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, approveSelector...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}
