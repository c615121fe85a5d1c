package univ3

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
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

var (
	testFactory = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	testPool    = common.HexToAddress("0x45dDa9cb7c25131DF268515131f647d726f50608")
	capToken    = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	tradeToken  = common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270")
)

func TestPoolAddress(t *testing.T) {
	t.Parallel()

	f := &fakeCaller{out: common.LeftPadBytes(testPool.Bytes(), 32)}
	got, err := PoolAddress(context.Background(), f, testFactory, capToken, tradeToken, 10_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != testPool {
		t.Fatalf("pool %s, want %s", got, testPool)
	}
	if f.lastTo != testFactory {
		t.Fatalf("called %s, want factory", f.lastTo)
	}
	// getPool(address,address,uint24) selector as deployed on the canonical factory.
	if sel := hex.EncodeToString(f.lastData[:4]); sel != "1698ee82" {
		t.Fatalf("selector %s, want 1698ee82", sel)
	}
	if got := new(big.Int).SetBytes(f.lastData[4+64 : 4+96]); got.Int64() != 10_000 {
		t.Fatalf("fee word %s, want 10000", got)
	}

	f.out = make([]byte, 32)
	zero, err := PoolAddress(context.Background(), f, testFactory, capToken, tradeToken, 10_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if zero != (common.Address{}) {
		t.Fatalf("want zero address for undeployed pool, got %s", zero)
	}
}

func TestReadSlot0(t *testing.T) {
	t.Parallel()

	sqrtPrice, _ := new(big.Int).SetString("79228162514264337593543950336", 10) // 2^96, price 1:1
	outs := poolABI.Methods["slot0"].Outputs
	payload, err := outs.Pack(sqrtPrice, big.NewInt(-5), uint16(0), uint16(1), uint16(1), uint8(0), true)
	if err != nil {
		t.Fatalf("pack slot0 payload: %v", err)
	}

	f := &fakeCaller{out: payload}
	s, err := ReadSlot0(context.Background(), f, testPool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.SqrtPriceX96.Cmp(sqrtPrice) != 0 {
		t.Fatalf("sqrt price %s, want %s", s.SqrtPriceX96, sqrtPrice)
	}
	if s.Tick != -5 {
		t.Fatalf("tick %d, want -5", s.Tick)
	}
}

func TestLiquidity(t *testing.T) {
	t.Parallel()

	f := &fakeCaller{out: common.LeftPadBytes(big.NewInt(123_456).Bytes(), 32)}
	liq, err := Liquidity(context.Background(), f, testPool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if liq.Int64() != 123_456 {
		t.Fatalf("liquidity %s, want 123456", liq)
	}
	if sel := hex.EncodeToString(f.lastData[:4]); sel != "1a686502" {
		t.Fatalf("selector %s, want 1a686502", sel)
	}
}

func TestExactInputSingleData(t *testing.T) {
	t.Parallel()

	recipient := common.HexToAddress("0x00000000000000000000000000000000DeaDBeef")
	data, err := ExactInputSingleData(SwapParams{
		TokenIn:   capToken,
		TokenOut:  tradeToken,
		Fee:       10_000,
		Recipient: recipient,
		AmountIn:  big.NewInt(29_395_277),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) != 4+7*32 {
		t.Fatalf("calldata length %d, want %d", len(data), 4+7*32)
	}
	// Router02 exactInputSingle selector.
	if sel := hex.EncodeToString(data[:4]); sel != "04e45aaf" {
		t.Fatalf("selector %s, want 04e45aaf", sel)
	}
	word := func(i int) []byte { return data[4+i*32 : 4+(i+1)*32] }
	if got := common.BytesToAddress(word(0)); got != capToken {
		t.Fatalf("tokenIn %s, want %s", got, capToken)
	}
	if got := common.BytesToAddress(word(3)); got != recipient {
		t.Fatalf("recipient %s, want %s", got, recipient)
	}
	if got := new(big.Int).SetBytes(word(4)); got.Int64() != 29_395_277 {
		t.Fatalf("amountIn %s, want 29395277", got)
	}
	if got := new(big.Int).SetBytes(word(5)); got.Sign() != 0 {
		t.Fatalf("default min out %s, want 0", got)
	}

	data, err = ExactInputSingleData(SwapParams{
		TokenIn:          capToken,
		TokenOut:         tradeToken,
		Fee:              10_000,
		Recipient:        recipient,
		AmountIn:         big.NewInt(1_000_000),
		AmountOutMinimum: big.NewInt(999),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := new(big.Int).SetBytes(data[4+5*32 : 4+6*32]); got.Int64() != 999 {
		t.Fatalf("min out %s, want 999", got)
	}

	if _, err := ExactInputSingleData(SwapParams{AmountIn: nil}); err == nil {
		t.Fatalf("expected error for missing amount")
	}
	if _, err := ExactInputSingleData(SwapParams{AmountIn: big.NewInt(0)}); err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestTradeAmountForCapital(t *testing.T) {
	t.Parallel()

	q96 := new(big.Int).Lsh(big.NewInt(1), 96)

	t.Run("one to one", func(t *testing.T) {
		t.Parallel()
		for _, capitalIsToken0 := range []bool{true, false} {
			got, err := TradeAmountForCapital(big.NewInt(5_000_000), q96, capitalIsToken0)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Int64() != 5_000_000 {
				t.Fatalf("capitalIsToken0=%v: got %s, want 5000000", capitalIsToken0, got)
			}
		}
	})

	t.Run("price four", func(t *testing.T) {
		t.Parallel()
		sqrt := new(big.Int).Lsh(q96, 1) // sqrt price 2 => token1/token0 price 4
		got, err := TradeAmountForCapital(big.NewInt(1_000_000), sqrt, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Int64() != 4_000_000 {
			t.Fatalf("capital as token0: got %s, want 4000000", got)
		}
		got, err = TradeAmountForCapital(big.NewInt(1_000_000), sqrt, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Int64() != 250_000 {
			t.Fatalf("capital as token1: got %s, want 250000", got)
		}
	})

	t.Run("rejects empty pool", func(t *testing.T) {
		t.Parallel()
		if _, err := TradeAmountForCapital(big.NewInt(1), new(big.Int), true); err == nil {
			t.Fatalf("expected error for zero sqrt price")
		}
	})
}

func TestSpotPrice(t *testing.T) {
	t.Parallel()

	q96 := new(big.Int).Lsh(big.NewInt(1), 96)

	got, err := SpotPrice(q96, false, 6, 18)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := decimal.New(1, 12); !got.Equal(want) {
		t.Fatalf("spot price %s, want %s", got, want)
	}

	got, err = SpotPrice(q96, true, 6, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("spot price %s, want 1", got)
	}
}

func TestDecodeMintLog(t *testing.T) {
	t.Parallel()

	owner := common.HexToAddress("0x00000000000000000000000000000000cafeBAbE")
	tickTopic := func(tick int64) common.Hash {
		v := big.NewInt(tick)
		if v.Sign() < 0 {
			v.Add(v, twoPow256)
		}
		return common.BigToHash(v)
	}

	data := make([]byte, 0, 128)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...) // sender word
	data = append(data, common.LeftPadBytes(big.NewInt(777).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(11).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(22).Bytes(), 32)...)

	l := types.Log{
		Address: testPool,
		Topics: []common.Hash{
			MintTopic,
			common.BytesToHash(common.LeftPadBytes(owner.Bytes(), 32)),
			tickTopic(-887_220),
			tickTopic(887_220),
		},
		Data: data,
	}

	ev, err := DecodeMintLog(l)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Pool != testPool || ev.Owner != owner {
		t.Fatalf("pool/owner mismatch: %s %s", ev.Pool, ev.Owner)
	}
	if ev.TickLower != -887_220 || ev.TickUpper != 887_220 {
		t.Fatalf("ticks %d/%d, want -887220/887220", ev.TickLower, ev.TickUpper)
	}
	if ev.Amount.Int64() != 777 || ev.Amount0.Int64() != 11 || ev.Amount1.Int64() != 22 {
		t.Fatalf("amounts %s/%s/%s", ev.Amount, ev.Amount0, ev.Amount1)
	}

	t.Run("rejects foreign logs", func(t *testing.T) {
		t.Parallel()
		bad := l
		bad.Topics = l.Topics[:2]
		if _, err := DecodeMintLog(bad); err == nil {
			t.Fatalf("expected error for short topics")
		}
		bad = l
		bad.Topics = []common.Hash{{}, l.Topics[1], l.Topics[2], l.Topics[3]}
		if _, err := DecodeMintLog(bad); err == nil {
			t.Fatalf("expected error for wrong topic0")
		}
		bad = l
		bad.Data = data[:96]
		if _, err := DecodeMintLog(bad); err == nil {
			t.Fatalf("expected error for short data")
		}
	})
}

func TestMintQuery(t *testing.T) {
	t.Parallel()

	q := MintQuery(testPool, 100, 150)
	if q.FromBlock.Uint64() != 100 || q.ToBlock.Uint64() != 150 {
		t.Fatalf("range %s..%s, want 100..150", q.FromBlock, q.ToBlock)
	}
	if len(q.Addresses) != 1 || q.Addresses[0] != testPool {
		t.Fatalf("addresses %v", q.Addresses)
	}
	if len(q.Topics) != 1 || len(q.Topics[0]) != 1 || q.Topics[0][0] != MintTopic {
		t.Fatalf("topics %v", q.Topics)
	}
}
