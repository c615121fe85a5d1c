// Package poolwatch polls for the launch moment: first the pool contract
// appearing on the factory, then the first sign of real liquidity in it.
// Both gates are monotonic. There is no timeout here; the caller cancels the
// context when it has waited long enough.
package poolwatch

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"fleetsnipe/internal/metrics"
)

// Probe is the chain surface the watcher polls. Errors from any method are
// treated as transient and retried on the next tick.
type Probe interface {
	PoolAddress(ctx context.Context) (common.Address, error)
	Liquidity(ctx context.Context, pool common.Address) (*big.Int, error)
	RecentMint(ctx context.Context, pool common.Address) (bool, error)
}

// State is the watcher's position in the two-gate sequence. It only ever
// moves forward.
type State int

const (
	StateWaitingPool State = iota
	StateWaitingLiquidity
	StateReady
)

func (s State) String() string {
	switch s {
	case StateWaitingPool:
		return "waiting-pool"
	case StateWaitingLiquidity:
		return "waiting-liquidity"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Witness names the evidence that closed the liquidity gate.
type Witness string

const (
	WitnessNone      Witness = ""
	WitnessLiquidity Witness = "liquidity"
	WitnessMint      Witness = "mint"
)

// Options tunes the polling loop.
type Options struct {
	// Interval between polls. Defaults to 250ms.
	Interval time.Duration
}

// Report describes how readiness was reached. On context cancellation the
// partial report is returned alongside the context error.
type Report struct {
	Pool    common.Address
	State   State
	Witness Witness
	Polls   int
	Elapsed time.Duration
}

const defaultInterval = 250 * time.Millisecond

// warnEvery throttles transient-error logging so a dead RPC endpoint does
// not flood the output at poll rate.
const warnEvery = 5 * time.Second

type warnLimiter struct {
	last time.Time
}

func (w *warnLimiter) warnf(format string, args ...any) {
	if time.Since(w.last) < warnEvery {
		return
	}
	w.last = time.Now()
	log.Printf(format, args...)
}

// Watch blocks until the pool exists and has observable liquidity, polling
// at the configured interval. Transient probe errors are counted and
// retried indefinitely.
func Watch(ctx context.Context, probe Probe, opts Options) (Report, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	var (
		report Report
		warn   warnLimiter
		start  = time.Now()
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report.Polls++
		if report.State == StateWaitingPool {
			metrics.WatchPolls.WithLabelValues("pool").Inc()
			pool, err := probe.PoolAddress(ctx)
			switch {
			case err != nil:
				metrics.RPCErrors.WithLabelValues("getPool").Inc()
				warn.warnf("[watch] pool lookup failed, still polling: %v", err)
			case pool != (common.Address{}):
				report.Pool = pool
				report.State = StateWaitingLiquidity
				log.Printf("[watch] pool %s live after %d polls", pool.Hex(), report.Polls)
			}
		}

		// Falls through in the same cycle once the pool is known, so the
		// first liquidity check does not burn an extra interval.
		if report.State == StateWaitingLiquidity {
			metrics.WatchPolls.WithLabelValues("liquidity").Inc()
			liq, err := probe.Liquidity(ctx, report.Pool)
			switch {
			case err != nil:
				metrics.RPCErrors.WithLabelValues("liquidity").Inc()
				warn.warnf("[watch] liquidity read failed, still polling: %v", err)
			case liq.Sign() > 0:
				report.State = StateReady
				report.Witness = WitnessLiquidity
			default:
				minted, err := probe.RecentMint(ctx, report.Pool)
				if err != nil {
					metrics.RPCErrors.WithLabelValues("mintScan").Inc()
					warn.warnf("[watch] mint scan failed, still polling: %v", err)
				} else if minted {
					report.State = StateReady
					report.Witness = WitnessMint
				}
			}
		}

		if report.State == StateReady {
			report.Elapsed = time.Since(start)
			log.Printf("[watch] liquidity confirmed via %s witness after %d polls (%s)", report.Witness, report.Polls, report.Elapsed.Round(time.Millisecond))
			return report, nil
		}

		select {
		case <-ctx.Done():
			report.Elapsed = time.Since(start)
			return report, ctx.Err()
		case <-ticker.C:
		}
	}
}
