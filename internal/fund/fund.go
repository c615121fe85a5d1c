// Package fund brings every child account up to its planned capital and gas
// reserve, idempotently, from a single funder nonce stream.
package fund

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"fleetsnipe/internal/alloc"
	"fleetsnipe/internal/chain"
	"fleetsnipe/internal/erc20"
	"fleetsnipe/internal/ethunit"
	"fleetsnipe/internal/fleet"
	"fleetsnipe/internal/metrics"
)

// Preflight failures, distinguished so the operator knows which balance to
// top up before retrying.
var (
	ErrInsufficientCapital = errors.New("funder capital below required total")
	ErrInsufficientGas     = errors.New("funder gas below required total")
)

// Bank is the slice of chain access the distributor needs. Signing keys are
// passed per call; the bank holds no identity of its own.
type Bank interface {
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	CapitalBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	RouterAllowance(ctx context.Context, owner common.Address) (*big.Int, error)
	SendNative(ctx context.Context, key *ecdsa.PrivateKey, nonce uint64, to common.Address, amount *big.Int) (common.Hash, error)
	SendCapital(ctx context.Context, key *ecdsa.PrivateKey, nonce uint64, to common.Address, amount *big.Int) (common.Hash, error)
	ApproveRouter(ctx context.Context, key *ecdsa.PrivateKey, owner common.Address, amount *big.Int) (common.Hash, error)
}

// Options fixes the per-run funding targets, in wei.
type Options struct {
	GasReserve   *big.Int
	OwnGasBuffer *big.Int
	// ApproveExact grants plan-sized allowances instead of max(uint256).
	ApproveExact bool
}

// Summary counts what a run actually did, for the final report.
type Summary struct {
	GasTopUps     int
	CapitalTopUps int
	Skips         int
	Approvals     int
	ApprovalSkips int
	ApprovalFails int
}

// EnsureFunded tops up native gas and capital for each account per the plan.
// The funder's transfers run strictly sequentially on the owned nonce
// counter, each waiting for its own confirmation inside the bank. Accounts
// already at target are skipped, so re-running after a partial failure only
// sends what is still missing. Any transfer error aborts the run; the rerun
// is safe.
func EnsureFunded(ctx context.Context, bank Bank, funder fleet.Funder, nonces *chain.NonceCounter, accounts []fleet.Account, plan alloc.Plan, opts Options) (Summary, error) {
	var sum Summary
	if len(accounts) != len(plan.Amounts) {
		return sum, fmt.Errorf("plan has %d amounts for %d accounts", len(plan.Amounts), len(accounts))
	}
	if err := Preflight(ctx, bank, funder.Address, plan, len(accounts), opts); err != nil {
		return sum, err
	}

	for i, acct := range accounts {
		target := plan.Amounts[i]

		gasBal, err := bank.NativeBalance(ctx, acct.Address)
		if err != nil {
			return sum, fmt.Errorf("account %d: %w", acct.Index, err)
		}
		topped := false
		if gasBal.Cmp(opts.GasReserve) < 0 {
			shortfall := new(big.Int).Sub(opts.GasReserve, gasBal)
			hash, err := bank.SendNative(ctx, funder.Key, nonces.Next(), acct.Address, shortfall)
			if err != nil {
				return sum, fmt.Errorf("gas top-up for account %d: %w", acct.Index, err)
			}
			log.Printf("[fund] account %d gas +%s (tx %s)", acct.Index, ethunit.FormatWei(shortfall), hash.Hex())
			metrics.Transfers.WithLabelValues("gas").Inc()
			sum.GasTopUps++
			topped = true
		}

		capBal, err := bank.CapitalBalance(ctx, acct.Address)
		if err != nil {
			return sum, fmt.Errorf("account %d: %w", acct.Index, err)
		}
		if capBal.Cmp(target) < 0 {
			shortfall := new(big.Int).Sub(target, capBal)
			hash, err := bank.SendCapital(ctx, funder.Key, nonces.Next(), acct.Address, shortfall)
			if err != nil {
				return sum, fmt.Errorf("capital top-up for account %d: %w", acct.Index, err)
			}
			log.Printf("[fund] account %d capital +%s minor units (tx %s)", acct.Index, shortfall, hash.Hex())
			metrics.Transfers.WithLabelValues("capital").Inc()
			sum.CapitalTopUps++
			topped = true
		}

		if !topped {
			log.Printf("[fund] account %d already at target, skipping", acct.Index)
			sum.Skips++
		}
	}
	return sum, nil
}

// Preflight verifies the funder can cover the whole plan before anything is
// sent. EnsureFunded runs it first; dry runs call it directly.
func Preflight(ctx context.Context, bank Bank, funder common.Address, plan alloc.Plan, count int, opts Options) error {
	needCapital := plan.Sum()
	haveCapital, err := bank.CapitalBalance(ctx, funder)
	if err != nil {
		return fmt.Errorf("funder capital balance: %w", err)
	}
	if haveCapital.Cmp(needCapital) < 0 {
		return fmt.Errorf("have %s, need %s minor units: %w", haveCapital, needCapital, ErrInsufficientCapital)
	}

	needGas := new(big.Int).Mul(opts.GasReserve, big.NewInt(int64(count)))
	needGas.Add(needGas, opts.OwnGasBuffer)
	haveGas, err := bank.NativeBalance(ctx, funder)
	if err != nil {
		return fmt.Errorf("funder native balance: %w", err)
	}
	if haveGas.Cmp(needGas) < 0 {
		return fmt.Errorf("have %s, need %s: %w", ethunit.FormatWei(haveGas), ethunit.FormatWei(needGas), ErrInsufficientGas)
	}
	return nil
}

// EnsureApprovals grants the swap router spending rights on the capital
// token from every child, concurrently. Each child is its own sender, so
// there is no ordering requirement. An existing allowance covering the plan
// is left alone. Per-account failures are logged and counted, not fatal.
func EnsureApprovals(ctx context.Context, bank Bank, accounts []fleet.Account, plan alloc.Plan, opts Options) Summary {
	var (
		sum Summary
		mu  sync.Mutex
		wg  sync.WaitGroup
	)
	for i, acct := range accounts {
		wg.Add(1)
		go func(acct fleet.Account, target *big.Int) {
			defer wg.Done()

			allowance, err := bank.RouterAllowance(ctx, acct.Address)
			if err != nil {
				log.Printf("[warn] account %d allowance read failed: %v", acct.Index, err)
				mu.Lock()
				sum.ApprovalFails++
				mu.Unlock()
				return
			}
			if allowance.Cmp(target) >= 0 {
				mu.Lock()
				sum.ApprovalSkips++
				mu.Unlock()
				return
			}

			amount := erc20.MaxApproval
			if opts.ApproveExact {
				amount = target
			}
			hash, err := bank.ApproveRouter(ctx, acct.Key, acct.Address, amount)
			if err != nil {
				log.Printf("[warn] account %d approval failed: %v", acct.Index, err)
				mu.Lock()
				sum.ApprovalFails++
				mu.Unlock()
				return
			}
			log.Printf("[fund] account %d router approval set (tx %s)", acct.Index, hash.Hex())
			metrics.Transfers.WithLabelValues("approve").Inc()
			mu.Lock()
			sum.Approvals++
			mu.Unlock()
		}(acct, plan.Amounts[i])
	}
	wg.Wait()
	return sum
}
