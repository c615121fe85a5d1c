package ops

import (
	"context"
	"log"

	"github.com/ethereum/go-ethereum/common"

	"fleetsnipe/internal/fleet"
	"fleetsnipe/internal/metrics"
)

// SweepSummary counts what the consolidation actually moved.
type SweepSummary struct {
	Transfers        int
	TradeTransfers   int
	CapitalTransfers int
	Skips            int
	Failures         int
}

// Sweep moves every account's trade and capital holdings back to the
// funder, sequentially. An account holding neither counts as a skip. Any
// single account's failure is logged with its index and the loop moves on.
func Sweep(ctx context.Context, ch Chain, env Env, funder common.Address, accounts []fleet.Account) SweepSummary {
	var sum SweepSummary
	for _, acct := range accounts {
		moved := false
		failed := false

		for _, tok := range []struct {
			name  string
			token common.Address
		}{
			{"trade", env.Trade},
			{"capital", env.Capital},
		} {
			bal, err := ch.TokenBalance(ctx, tok.token, acct.Address)
			if err != nil {
				log.Printf("[warn] account %d %s balance read failed: %v", acct.Index, tok.name, err)
				failed = true
				continue
			}
			if bal.Sign() == 0 {
				continue
			}
			hash, err := ch.TransferToken(ctx, acct.Key, acct.Address, tok.token, funder, bal)
			if err != nil {
				log.Printf("[warn] account %d %s sweep failed: %v", acct.Index, tok.name, err)
				failed = true
				continue
			}
			log.Printf("[sweep] account %d sent %s %s minor units to funder (tx %s)", acct.Index, bal, tok.name, hash.Hex())
			metrics.Transfers.WithLabelValues("sweep").Inc()
			moved = true
			if tok.name == "trade" {
				sum.TradeTransfers++
			} else {
				sum.CapitalTransfers++
			}
			sum.Transfers++
		}

		switch {
		case failed:
			sum.Failures++
		case !moved:
			sum.Skips++
			log.Printf("[sweep] account %d holds nothing, skipping", acct.Index)
		}
	}
	return sum
}
