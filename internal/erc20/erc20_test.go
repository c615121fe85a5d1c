package erc20

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type fakeCaller struct {
	lastTo   common.Address
	lastData []byte
	out      []byte
	err      error
}

func (f *fakeCaller) CallContract(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	f.lastTo = to
	f.lastData = data
	return f.out, f.err
}

func TestTransferData(t *testing.T) {
	t.Parallel()

	to := common.HexToAddress("0x00000000000000000000000000000000DeaDBeef")
	data := TransferData(to, big.NewInt(1_500_000))
	if len(data) != 68 {
		t.Fatalf("calldata length %d, want 68", len(data))
	}
	// transfer(address,uint256) selector as deployed everywhere on mainnet.
	if got := hex.EncodeToString(data[:4]); got != "a9059cbb" {
		t.Fatalf("selector %s, want a9059cbb", got)
	}
	if got := common.BytesToAddress(data[4:36]); got != to {
		t.Fatalf("recipient %s, want %s", got, to)
	}
	if got := new(big.Int).SetBytes(data[36:68]); got.Int64() != 1_500_000 {
		t.Fatalf("amount %s, want 1500000", got)
	}
}

func TestApproveData(t *testing.T) {
	t.Parallel()

	spender := common.HexToAddress("0x00000000000000000000000000000000cafebabe")
	data := ApproveData(spender, MaxApproval)
	if got := hex.EncodeToString(data[:4]); got != "095ea7b3" {
		t.Fatalf("selector %s, want 095ea7b3", got)
	}
	if got := new(big.Int).SetBytes(data[36:68]); got.Cmp(MaxApproval) != 0 {
		t.Fatalf("amount %s, want max uint256", got)
	}
	if MaxApproval.BitLen() != 256 {
		t.Fatalf("MaxApproval bit length %d, want 256", MaxApproval.BitLen())
	}
}

func TestBalanceOf(t *testing.T) {
	t.Parallel()

	token := common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	owner := common.HexToAddress("0x0000000000000000000000000000000000000007")
	f := &fakeCaller{out: common.LeftPadBytes(big.NewInt(42_000_000).Bytes(), 32)}

	bal, err := BalanceOf(context.Background(), f, token, owner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Int64() != 42_000_000 {
		t.Fatalf("balance %s, want 42000000", bal)
	}
	if f.lastTo != token {
		t.Fatalf("called %s, want token %s", f.lastTo, token)
	}
	if got := hex.EncodeToString(f.lastData[:4]); got != "70a08231" {
		t.Fatalf("selector %s, want 70a08231", got)
	}

	f.out = nil
	if _, err := BalanceOf(context.Background(), f, token, owner); err == nil {
		t.Fatalf("expected error for empty result")
	}

	f.err = fmt.Errorf("boom")
	if _, err := BalanceOf(context.Background(), f, token, owner); err == nil {
		t.Fatalf("expected wrapped rpc error")
	}
}

func TestDecimals(t *testing.T) {
	t.Parallel()

	token := common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	f := &fakeCaller{out: common.LeftPadBytes(big.NewInt(6).Bytes(), 32)}
	d, err := Decimals(context.Background(), f, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 6 {
		t.Fatalf("decimals %d, want 6", d)
	}

	f.out = common.LeftPadBytes(big.NewInt(200).Bytes(), 32)
	if _, err := Decimals(context.Background(), f, token); err == nil {
		t.Fatalf("expected error for absurd decimals")
	}
}
