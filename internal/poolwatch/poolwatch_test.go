package poolwatch

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// scriptProbe serves canned answers per call index, cycling on the last one.
type scriptProbe struct {
	poolCalls int
	liqCalls  int
	mintCalls int

	pools    []common.Address
	poolErrs []error
	liqs     []*big.Int
	liqErrs  []error
	mints    []bool
}

func pick[T any](calls *int, vals []T) (T, bool) {
	var zero T
	if len(vals) == 0 {
		return zero, false
	}
	i := *calls
	*calls++
	if i >= len(vals) {
		i = len(vals) - 1
	}
	return vals[i], true
}

func (p *scriptProbe) PoolAddress(context.Context) (common.Address, error) {
	i := p.poolCalls
	addr, _ := pick(&p.poolCalls, p.pools)
	if i < len(p.poolErrs) && p.poolErrs[i] != nil {
		return common.Address{}, p.poolErrs[i]
	}
	return addr, nil
}

func (p *scriptProbe) Liquidity(context.Context, common.Address) (*big.Int, error) {
	i := p.liqCalls
	liq, ok := pick(&p.liqCalls, p.liqs)
	if i < len(p.liqErrs) && p.liqErrs[i] != nil {
		return nil, p.liqErrs[i]
	}
	if !ok {
		return new(big.Int), nil
	}
	return liq, nil
}

func (p *scriptProbe) RecentMint(context.Context, common.Address) (bool, error) {
	minted, _ := pick(&p.mintCalls, p.mints)
	return minted, nil
}

var testPool = common.HexToAddress("0x00000000000000000000000000000000deadbeef")

func fastOpts() Options { return Options{Interval: time.Millisecond} }

func TestWatchPoolThenLiquidity(t *testing.T) {
	// Ten cycles of no pool, then the pool appears with zero liquidity,
	// then liquidity shows up.
	probe := &scriptProbe{
		pools: append(make([]common.Address, 10), testPool),
		liqs:  []*big.Int{new(big.Int), new(big.Int), big.NewInt(777)},
		mints: []bool{false},
	}

	report, err := Watch(context.Background(), probe, fastOpts())
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if report.Pool != testPool {
		t.Fatalf("pool = %s, want %s", report.Pool.Hex(), testPool.Hex())
	}
	if report.State != StateReady || report.Witness != WitnessLiquidity {
		t.Fatalf("state %v witness %q, want ready via liquidity", report.State, report.Witness)
	}
	if probe.poolCalls != 11 {
		t.Fatalf("pool probed %d times, want 11", probe.poolCalls)
	}
	// First liquidity check shares the pool-discovery cycle.
	if report.Polls != 13 {
		t.Fatalf("polls = %d, want 13", report.Polls)
	}
}

func TestWatchMintWitness(t *testing.T) {
	probe := &scriptProbe{
		pools: []common.Address{testPool},
		liqs:  []*big.Int{new(big.Int)},
		mints: []bool{false, false, true},
	}

	report, err := Watch(context.Background(), probe, fastOpts())
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if report.Witness != WitnessMint {
		t.Fatalf("witness = %q, want mint", report.Witness)
	}
	if probe.mintCalls != 3 {
		t.Fatalf("mint scanned %d times, want 3", probe.mintCalls)
	}
}

func TestWatchRetriesTransientErrors(t *testing.T) {
	rpcDown := errors.New("connection refused")
	probe := &scriptProbe{
		pools:    []common.Address{{}, {}, {}, testPool},
		poolErrs: []error{rpcDown, rpcDown, rpcDown},
		liqs:     []*big.Int{nil, big.NewInt(1)},
		liqErrs:  []error{rpcDown},
	}

	report, err := Watch(context.Background(), probe, fastOpts())
	if err != nil {
		t.Fatalf("Watch should outlive transient errors, got %v", err)
	}
	if report.Witness != WitnessLiquidity {
		t.Fatalf("witness = %q", report.Witness)
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var polls atomic.Int64
	probe := &countingProbe{onPool: func() {
		if polls.Add(1) == 5 {
			cancel()
		}
	}}

	report, err := Watch(ctx, probe, fastOpts())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if report.State != StateWaitingPool {
		t.Fatalf("state = %v, want still waiting for pool", report.State)
	}
	if report.Polls < 5 {
		t.Fatalf("polls = %d, want at least 5", report.Polls)
	}
}

type countingProbe struct {
	onPool func()
}

func (p *countingProbe) PoolAddress(context.Context) (common.Address, error) {
	if p.onPool != nil {
		p.onPool()
	}
	return common.Address{}, nil
}

func (p *countingProbe) Liquidity(context.Context, common.Address) (*big.Int, error) {
	return new(big.Int), nil
}

func (p *countingProbe) RecentMint(context.Context, common.Address) (bool, error) {
	return false, nil
}
