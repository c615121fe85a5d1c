// Package snipe fires the fleet's swaps the moment liquidity is live. All
// slow work (balance reads, fee quoting) happens before the trigger; the hot
// path per account is nonce read, sign, send.
package snipe

import (
	"context"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"fleetsnipe/internal/chain"
	"fleetsnipe/internal/ethunit"
	"fleetsnipe/internal/fleet"
	"fleetsnipe/internal/metrics"
)

// Trader is the chain surface the engine trades through. Swap submits and
// waits for one confirmation; a zero returned hash means the transaction
// never reached the mempool.
type Trader interface {
	CapitalBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	TradeBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	Fees(ctx context.Context) (chain.FeeQuote, error)
	Swap(ctx context.Context, acct fleet.Account, amountIn, minOut *big.Int, fees chain.FeeQuote) (common.Hash, error)
}

// Options tunes the firing round.
type Options struct {
	// FeeBps scales the quoted tip and fee cap, 10000 meaning unchanged.
	FeeBps int64
	// MinOut is the minimum acceptable output per swap in trade-token
	// minor units. Nil or zero accepts any output.
	MinOut *big.Int
}

// Outcome is one account's result for the round. Accounts never abort each
// other; every account gets exactly one Outcome.
type Outcome struct {
	Index     uint32
	AmountIn  *big.Int
	Submitted bool
	TxHash    common.Hash
	Confirmed bool
	Err       error
}

const retryPause = 250 * time.Millisecond

// Precache reads every account's capital balance concurrently and floors it
// to whole token units, so the fire path spends nothing on balance reads and
// never swaps dust. Reads are retried until they succeed or the context
// ends; this runs before the launch, when time is cheap.
func Precache(ctx context.Context, t Trader, accounts []fleet.Account, capitalDecimals int) ([]*big.Int, error) {
	cached := make([]*big.Int, len(accounts))
	errs := make([]error, len(accounts))

	var wg sync.WaitGroup
	for i, acct := range accounts {
		wg.Add(1)
		go func(i int, acct fleet.Account) {
			defer wg.Done()
			for {
				bal, err := t.CapitalBalance(ctx, acct.Address)
				if err == nil {
					cached[i] = ethunit.FloorToWhole(bal, capitalDecimals)
					return
				}
				metrics.RPCErrors.WithLabelValues("precache").Inc()
				log.Printf("[warn] account %d balance read failed, retrying: %v", acct.Index, err)
				select {
				case <-ctx.Done():
					errs[i] = ctx.Err()
					return
				case <-time.After(retryPause):
				}
			}
		}(i, acct)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return cached, nil
}

// FireAll quotes fees once, scales them, and dispatches every funded
// account's swap concurrently. Accounts whose cached balance is zero are
// reported unsubmitted. The returned slice is index-aligned with accounts.
func FireAll(ctx context.Context, t Trader, accounts []fleet.Account, cached []*big.Int, opts Options) ([]Outcome, error) {
	fees, err := quoteFees(ctx, t)
	if err != nil {
		return nil, err
	}
	if opts.FeeBps > 0 {
		fees = fees.Scale(opts.FeeBps)
	}
	log.Printf("[snipe] firing %d accounts, tip %s fee cap %s", len(accounts), fees.TipCap, fees.FeeCap)

	outcomes := make([]Outcome, len(accounts))
	var wg sync.WaitGroup
	for i, acct := range accounts {
		out := &outcomes[i]
		out.Index = acct.Index

		if cached[i] == nil || cached[i].Sign() == 0 {
			out.AmountIn = new(big.Int)
			log.Printf("[snipe] account %d has no capital, not firing", acct.Index)
			continue
		}
		out.AmountIn = cached[i]

		wg.Add(1)
		go func(acct fleet.Account, out *Outcome) {
			defer wg.Done()
			hash, err := t.Swap(ctx, acct, out.AmountIn, opts.MinOut, fees)
			out.TxHash = hash
			out.Err = err
			out.Submitted = hash != (common.Hash{})
			out.Confirmed = out.Submitted && err == nil
			switch {
			case !out.Submitted:
				log.Printf("[warn] account %d swap not submitted: %v", acct.Index, err)
			case err != nil:
				log.Printf("[warn] account %d swap %s failed: %v", acct.Index, hash.Hex(), err)
				metrics.SwapsSubmitted.Inc()
			default:
				log.Printf("[snipe] account %d swapped %s in (tx %s)", acct.Index, out.AmountIn, hash.Hex())
				metrics.SwapsSubmitted.Inc()
				metrics.SwapsConfirmed.Inc()
			}
		}(acct, out)
	}
	wg.Wait()
	return outcomes, nil
}

// quoteFees retries the single pre-dispatch fee estimate until the node
// answers or the context ends.
func quoteFees(ctx context.Context, t Trader) (chain.FeeQuote, error) {
	for {
		fees, err := t.Fees(ctx)
		if err == nil {
			return fees, nil
		}
		metrics.RPCErrors.WithLabelValues("fees").Inc()
		log.Printf("[warn] fee quote failed, retrying: %v", err)
		select {
		case <-ctx.Done():
			return chain.FeeQuote{}, ctx.Err()
		case <-time.After(retryPause):
		}
	}
}

// Holdings is the post-round position, index-aligned with the fleet. A nil
// entry means that account's read failed; Total sums the rest.
type Holdings struct {
	PerAccount []*big.Int
	Total      *big.Int
	ReadFails  int
}

// Aggregate reads each account's trade-token balance sequentially. Read
// failures are logged and skipped so one bad account cannot hide the rest of
// the position.
func Aggregate(ctx context.Context, t Trader, accounts []fleet.Account) Holdings {
	h := Holdings{
		PerAccount: make([]*big.Int, len(accounts)),
		Total:      new(big.Int),
	}
	for i, acct := range accounts {
		bal, err := t.TradeBalance(ctx, acct.Address)
		if err != nil {
			log.Printf("[warn] account %d trade balance read failed: %v", acct.Index, err)
			h.ReadFails++
			continue
		}
		h.PerAccount[i] = bal
		h.Total.Add(h.Total, bal)
	}
	return h
}
