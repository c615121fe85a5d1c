package snipe

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"fleetsnipe/internal/chain"
	"fleetsnipe/internal/fleet"
)

const testFunderHex = "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f"

type swapRec struct {
	owner    common.Address
	amountIn *big.Int
	minOut   *big.Int
	fees     chain.FeeQuote
}

type fakeTrader struct {
	mu      sync.Mutex
	capital map[common.Address]*big.Int
	trade   map[common.Address]*big.Int

	capFails map[common.Address]int
	tradeErr map[common.Address]error
	feeFails int
	feeCalls int
	swapErr  map[common.Address]error
	noSubmit map[common.Address]bool
	swaps    []swapRec
}

func newFakeTrader() *fakeTrader {
	return &fakeTrader{
		capital:  make(map[common.Address]*big.Int),
		trade:    make(map[common.Address]*big.Int),
		capFails: make(map[common.Address]int),
		tradeErr: make(map[common.Address]error),
		swapErr:  make(map[common.Address]error),
		noSubmit: make(map[common.Address]bool),
	}
}

func (f *fakeTrader) CapitalBalance(_ context.Context, owner common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.capFails[owner] > 0 {
		f.capFails[owner]--
		return nil, errors.New("rpc hiccup")
	}
	if v, ok := f.capital[owner]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (f *fakeTrader) TradeBalance(_ context.Context, owner common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.tradeErr[owner]; err != nil {
		return nil, err
	}
	if v, ok := f.trade[owner]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (f *fakeTrader) Fees(context.Context) (chain.FeeQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeCalls++
	if f.feeFails > 0 {
		f.feeFails--
		return chain.FeeQuote{}, errors.New("fee quote unavailable")
	}
	return chain.FeeQuote{TipCap: big.NewInt(30), FeeCap: big.NewInt(100)}, nil
}

func (f *fakeTrader) Swap(_ context.Context, acct fleet.Account, amountIn, minOut *big.Int, fees chain.FeeQuote) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noSubmit[acct.Address] {
		return common.Hash{}, errors.New("nonce read failed")
	}
	f.swaps = append(f.swaps, swapRec{acct.Address, amountIn, minOut, fees})
	return common.BytesToHash(acct.Address.Bytes()), f.swapErr[acct.Address]
}

func testAccounts(t *testing.T, n int) []fleet.Account {
	t.Helper()
	funder, err := fleet.FunderFromHex(testFunderHex)
	if err != nil {
		t.Fatalf("funder: %v", err)
	}
	accounts, err := fleet.Derive(funder.Key, n)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	return accounts
}

func TestPrecacheFloorsBalances(t *testing.T) {
	accounts := testAccounts(t, 3)
	trader := newFakeTrader()
	trader.capital[accounts[0].Address] = big.NewInt(5_700_000)
	trader.capital[accounts[1].Address] = big.NewInt(400_000)
	trader.capital[accounts[2].Address] = big.NewInt(3_000_000)
	// One account answers only after two failed reads.
	trader.capFails[accounts[2].Address] = 2

	cached, err := Precache(context.Background(), trader, accounts, 6)
	if err != nil {
		t.Fatalf("Precache: %v", err)
	}
	want := []int64{5_000_000, 0, 3_000_000}
	for i, w := range want {
		if cached[i].Cmp(big.NewInt(w)) != 0 {
			t.Fatalf("cached[%d] = %s, want %d", i, cached[i], w)
		}
	}
}

func TestPrecacheStopsOnCancel(t *testing.T) {
	accounts := testAccounts(t, 1)
	trader := newFakeTrader()
	trader.capFails[accounts[0].Address] = 1 << 30

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Precache(ctx, trader, accounts, 6); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestFireAllSkipsUnfunded(t *testing.T) {
	accounts := testAccounts(t, 3)
	trader := newFakeTrader()
	cached := []*big.Int{big.NewInt(1_000_000), new(big.Int), big.NewInt(2_000_000)}

	outcomes, err := FireAll(context.Background(), trader, accounts, cached, Options{FeeBps: 20_000})
	if err != nil {
		t.Fatalf("FireAll: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes", len(outcomes))
	}
	if outcomes[1].Submitted || outcomes[1].Err != nil {
		t.Fatalf("unfunded account outcome = %+v, want quiet skip", outcomes[1])
	}
	for _, i := range []int{0, 2} {
		if !outcomes[i].Submitted || !outcomes[i].Confirmed {
			t.Fatalf("outcome[%d] = %+v, want submitted and confirmed", i, outcomes[i])
		}
	}
	if len(trader.swaps) != 2 {
		t.Fatalf("got %d swaps, want 2", len(trader.swaps))
	}
	if trader.feeCalls != 1 {
		t.Fatalf("fees quoted %d times, want once", trader.feeCalls)
	}
	for _, s := range trader.swaps {
		if s.fees.TipCap.Cmp(big.NewInt(60)) != 0 || s.fees.FeeCap.Cmp(big.NewInt(200)) != 0 {
			t.Fatalf("swap saw fees %s/%s, want doubled 60/200", s.fees.TipCap, s.fees.FeeCap)
		}
	}
}

func TestFireAllIsolatesFailures(t *testing.T) {
	accounts := testAccounts(t, 3)
	trader := newFakeTrader()
	trader.swapErr[accounts[1].Address] = errors.New("execution reverted")
	trader.noSubmit[accounts[2].Address] = true
	cached := []*big.Int{big.NewInt(10), big.NewInt(20), big.NewInt(30)}

	outcomes, err := FireAll(context.Background(), trader, accounts, cached, Options{FeeBps: 10_000})
	if err != nil {
		t.Fatalf("FireAll: %v", err)
	}
	if !outcomes[0].Confirmed || outcomes[0].Err != nil {
		t.Fatalf("outcome[0] = %+v", outcomes[0])
	}
	if !outcomes[1].Submitted || outcomes[1].Confirmed || outcomes[1].Err == nil {
		t.Fatalf("outcome[1] = %+v, want submitted but failed", outcomes[1])
	}
	if outcomes[2].Submitted || outcomes[2].Err == nil {
		t.Fatalf("outcome[2] = %+v, want unsubmitted with error", outcomes[2])
	}
}

func TestFireAllPassesMinOut(t *testing.T) {
	accounts := testAccounts(t, 1)
	trader := newFakeTrader()
	cached := []*big.Int{big.NewInt(100)}

	minOut := big.NewInt(9_999)
	if _, err := FireAll(context.Background(), trader, accounts, cached, Options{FeeBps: 10_000, MinOut: minOut}); err != nil {
		t.Fatalf("FireAll: %v", err)
	}
	if got := trader.swaps[0].minOut; got == nil || got.Cmp(minOut) != 0 {
		t.Fatalf("minOut = %v, want %s", got, minOut)
	}
}

func TestFireAllRetriesFeeQuote(t *testing.T) {
	accounts := testAccounts(t, 1)
	trader := newFakeTrader()
	trader.feeFails = 2
	cached := []*big.Int{big.NewInt(100)}

	if _, err := FireAll(context.Background(), trader, accounts, cached, Options{FeeBps: 10_000}); err != nil {
		t.Fatalf("FireAll: %v", err)
	}
	if trader.feeCalls != 3 {
		t.Fatalf("fee quote attempted %d times, want 3", trader.feeCalls)
	}
}

func TestAggregate(t *testing.T) {
	accounts := testAccounts(t, 3)
	trader := newFakeTrader()
	trader.trade[accounts[0].Address] = big.NewInt(10)
	trader.tradeErr[accounts[1].Address] = errors.New("timeout")
	trader.trade[accounts[2].Address] = big.NewInt(30)

	h := Aggregate(context.Background(), trader, accounts)
	if h.Total.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("total = %s, want 40", h.Total)
	}
	if h.PerAccount[1] != nil {
		t.Fatalf("failed read should leave a nil entry, got %s", h.PerAccount[1])
	}
	if h.ReadFails != 1 {
		t.Fatalf("read fails = %d, want 1", h.ReadFails)
	}
}
