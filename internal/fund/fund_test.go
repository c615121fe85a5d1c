package fund

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"fleetsnipe/internal/alloc"
	"fleetsnipe/internal/chain"
	"fleetsnipe/internal/erc20"
	"fleetsnipe/internal/fleet"
)

const testFunderHex = "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f"

type send struct {
	kind   string
	nonce  uint64
	to     common.Address
	amount *big.Int
}

// fakeBank applies transfers to its own balance maps, so a second run
// observes the first run's effect.
type fakeBank struct {
	mu        sync.Mutex
	native    map[common.Address]*big.Int
	capital   map[common.Address]*big.Int
	allowance map[common.Address]*big.Int

	sends      []send
	approveErr map[common.Address]error
	approved   map[common.Address]*big.Int
}

func newFakeBank() *fakeBank {
	return &fakeBank{
		native:     make(map[common.Address]*big.Int),
		capital:    make(map[common.Address]*big.Int),
		allowance:  make(map[common.Address]*big.Int),
		approveErr: make(map[common.Address]error),
		approved:   make(map[common.Address]*big.Int),
	}
}

func (b *fakeBank) bal(m map[common.Address]*big.Int, addr common.Address) *big.Int {
	if v, ok := m[addr]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (b *fakeBank) NativeBalance(_ context.Context, addr common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bal(b.native, addr), nil
}

func (b *fakeBank) CapitalBalance(_ context.Context, owner common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bal(b.capital, owner), nil
}

func (b *fakeBank) RouterAllowance(_ context.Context, owner common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bal(b.allowance, owner), nil
}

func (b *fakeBank) SendNative(_ context.Context, _ *ecdsa.PrivateKey, nonce uint64, to common.Address, amount *big.Int) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.native[to] = new(big.Int).Add(b.bal(b.native, to), amount)
	b.sends = append(b.sends, send{"gas", nonce, to, new(big.Int).Set(amount)})
	return common.Hash{byte(len(b.sends))}, nil
}

func (b *fakeBank) SendCapital(_ context.Context, _ *ecdsa.PrivateKey, nonce uint64, to common.Address, amount *big.Int) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capital[to] = new(big.Int).Add(b.bal(b.capital, to), amount)
	b.sends = append(b.sends, send{"capital", nonce, to, new(big.Int).Set(amount)})
	return common.Hash{byte(len(b.sends))}, nil
}

func (b *fakeBank) ApproveRouter(_ context.Context, _ *ecdsa.PrivateKey, owner common.Address, amount *big.Int) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.approveErr[owner]; err != nil {
		return common.Hash{}, err
	}
	b.allowance[owner] = new(big.Int).Set(amount)
	b.approved[owner] = new(big.Int).Set(amount)
	return common.Hash{0xaa}, nil
}

func testFleet(t *testing.T, n int) (fleet.Funder, []fleet.Account) {
	t.Helper()
	funder, err := fleet.FunderFromHex(testFunderHex)
	if err != nil {
		t.Fatalf("funder: %v", err)
	}
	accounts, err := fleet.Derive(funder.Key, n)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	return funder, accounts
}

func testPlan(units ...int64) alloc.Plan {
	p := alloc.Plan{Seed: alloc.DefaultSeed}
	total := new(big.Int)
	for _, u := range units {
		amt := big.NewInt(u)
		p.Amounts = append(p.Amounts, amt)
		total.Add(total, amt)
	}
	p.Total = total
	return p
}

func ether(milli int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(milli), big.NewInt(1e15))
}

func testOptions() Options {
	return Options{GasReserve: ether(200), OwnGasBuffer: ether(500)}
}

func TestEnsureFundedColdStartThenIdempotent(t *testing.T) {
	funder, accounts := testFleet(t, 4)
	plan := testPlan(30_000_000, 25_000_000, 25_000_000, 20_000_000)
	opts := testOptions()

	bank := newFakeBank()
	bank.native[funder.Address] = ether(2000)
	bank.capital[funder.Address] = big.NewInt(100_000_000)

	nonces := chain.StartAt(funder.Address, 7)

	sum, err := EnsureFunded(context.Background(), bank, funder, nonces, accounts, plan, opts)
	if err != nil {
		t.Fatalf("EnsureFunded: %v", err)
	}
	if sum.GasTopUps != 4 || sum.CapitalTopUps != 4 || sum.Skips != 0 {
		t.Fatalf("summary = %+v, want 4 gas, 4 capital, 0 skips", sum)
	}
	if len(bank.sends) != 8 {
		t.Fatalf("got %d sends, want 8", len(bank.sends))
	}
	for i, s := range bank.sends {
		if want := uint64(7 + i); s.nonce != want {
			t.Fatalf("send %d used nonce %d, want %d", i, s.nonce, want)
		}
	}
	for i, acct := range accounts {
		if got := bank.native[acct.Address]; got.Cmp(opts.GasReserve) != 0 {
			t.Fatalf("account %d gas = %s, want %s", i, got, opts.GasReserve)
		}
		if got := bank.capital[acct.Address]; got.Cmp(plan.Amounts[i]) != 0 {
			t.Fatalf("account %d capital = %s, want %s", i, got, plan.Amounts[i])
		}
	}

	// Second run against the now-funded fleet must move nothing.
	sum2, err := EnsureFunded(context.Background(), bank, funder, nonces, accounts, plan, opts)
	if err != nil {
		t.Fatalf("second EnsureFunded: %v", err)
	}
	if sum2.GasTopUps != 0 || sum2.CapitalTopUps != 0 || sum2.Skips != 4 {
		t.Fatalf("second summary = %+v, want all skips", sum2)
	}
	if len(bank.sends) != 8 {
		t.Fatalf("second run sent %d extra transfers", len(bank.sends)-8)
	}
	if got := nonces.Peek(); got != 15 {
		t.Fatalf("nonce after runs = %d, want 15", got)
	}
}

func TestEnsureFundedSendsOnlyShortfall(t *testing.T) {
	funder, accounts := testFleet(t, 2)
	plan := testPlan(60_000_000, 40_000_000)
	opts := testOptions()

	bank := newFakeBank()
	bank.native[funder.Address] = ether(2000)
	bank.capital[funder.Address] = big.NewInt(100_000_000)
	// First account is halfway there on both balances.
	bank.native[accounts[0].Address] = ether(100)
	bank.capital[accounts[0].Address] = big.NewInt(10_000_000)

	sum, err := EnsureFunded(context.Background(), bank, funder, chain.StartAt(funder.Address, 0), accounts, plan, opts)
	if err != nil {
		t.Fatalf("EnsureFunded: %v", err)
	}
	if sum.GasTopUps != 2 || sum.CapitalTopUps != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if got, want := bank.sends[0].amount, ether(100); got.Cmp(want) != 0 {
		t.Fatalf("gas shortfall = %s, want %s", got, want)
	}
	if got, want := bank.sends[1].amount, big.NewInt(50_000_000); got.Cmp(want) != 0 {
		t.Fatalf("capital shortfall = %s, want %s", got, want)
	}
}

func TestEnsureFundedPreflight(t *testing.T) {
	funder, accounts := testFleet(t, 4)
	plan := testPlan(25_000_000, 25_000_000, 25_000_000, 25_000_000)
	opts := testOptions()

	t.Run("insufficient capital", func(t *testing.T) {
		bank := newFakeBank()
		bank.native[funder.Address] = ether(2000)
		bank.capital[funder.Address] = big.NewInt(50_000_000)

		_, err := EnsureFunded(context.Background(), bank, funder, chain.StartAt(funder.Address, 0), accounts, plan, opts)
		if !errors.Is(err, ErrInsufficientCapital) {
			t.Fatalf("err = %v, want ErrInsufficientCapital", err)
		}
		if len(bank.sends) != 0 {
			t.Fatalf("preflight failure still sent %d transfers", len(bank.sends))
		}
	})

	t.Run("insufficient gas", func(t *testing.T) {
		bank := newFakeBank()
		// Needs 4 x 0.2 + 0.5 = 1.3 native units.
		bank.native[funder.Address] = ether(1200)
		bank.capital[funder.Address] = big.NewInt(100_000_000)

		_, err := EnsureFunded(context.Background(), bank, funder, chain.StartAt(funder.Address, 0), accounts, plan, opts)
		if !errors.Is(err, ErrInsufficientGas) {
			t.Fatalf("err = %v, want ErrInsufficientGas", err)
		}
		if len(bank.sends) != 0 {
			t.Fatalf("preflight failure still sent %d transfers", len(bank.sends))
		}
	})
}

func TestEnsureApprovals(t *testing.T) {
	_, accounts := testFleet(t, 3)
	plan := testPlan(30_000_000, 30_000_000, 40_000_000)

	bank := newFakeBank()
	// First account already carries an allowance covering its share.
	bank.allowance[accounts[0].Address] = big.NewInt(30_000_000)
	bank.approveErr[accounts[2].Address] = fmt.Errorf("nonce too low")

	sum := EnsureApprovals(context.Background(), bank, accounts, plan, testOptions())
	if sum.Approvals != 1 || sum.ApprovalSkips != 1 || sum.ApprovalFails != 1 {
		t.Fatalf("summary = %+v, want 1 approval, 1 skip, 1 fail", sum)
	}
	if got := bank.approved[accounts[1].Address]; got == nil || got.Cmp(erc20.MaxApproval) != 0 {
		t.Fatalf("account 1 approved %s, want max uint256", got)
	}
}

func TestEnsureApprovalsExact(t *testing.T) {
	_, accounts := testFleet(t, 1)
	plan := testPlan(42_000_000)

	bank := newFakeBank()
	opts := testOptions()
	opts.ApproveExact = true

	sum := EnsureApprovals(context.Background(), bank, accounts, plan, opts)
	if sum.Approvals != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if got := bank.approved[accounts[0].Address]; got.Cmp(big.NewInt(42_000_000)) != 0 {
		t.Fatalf("approved %s, want 42000000", got)
	}
}

func TestEnsureFundedPlanMismatch(t *testing.T) {
	funder, accounts := testFleet(t, 3)
	plan := testPlan(1, 2)

	bank := newFakeBank()
	bank.capital[funder.Address] = big.NewInt(10)
	bank.native[funder.Address] = ether(5000)

	if _, err := EnsureFunded(context.Background(), bank, funder, chain.StartAt(funder.Address, 0), accounts, plan, testOptions()); err == nil {
		t.Fatal("expected error for plan/account length mismatch")
	}
}
