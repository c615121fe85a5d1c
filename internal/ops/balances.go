package ops

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"fleetsnipe/internal/fleet"
)

// BalanceRow is one identity's holdings. A non-nil Err means the row is
// incomplete; whatever was read before the failure is kept.
type BalanceRow struct {
	Address common.Address
	Native  *big.Int
	Capital *big.Int
	Trade   *big.Int
	Err     error
}

// BalanceReport is the read-only inspection result. Accounts is
// index-aligned with the derived fleet.
type BalanceReport struct {
	Funder   BalanceRow
	Accounts []BalanceRow
}

// Totals sums the complete rows, funder included.
func (r BalanceReport) Totals() (native, capital, trade *big.Int) {
	native, capital, trade = new(big.Int), new(big.Int), new(big.Int)
	rows := append([]BalanceRow{r.Funder}, r.Accounts...)
	for _, row := range rows {
		if row.Err != nil {
			continue
		}
		native.Add(native, row.Native)
		capital.Add(capital, row.Capital)
		trade.Add(trade, row.Trade)
	}
	return native, capital, trade
}

// Balances reads native, capital and trade holdings for the funder and
// every account, one goroutine per row.
func Balances(ctx context.Context, ch Chain, env Env, funder common.Address, accounts []fleet.Account) BalanceReport {
	report := BalanceReport{Accounts: make([]BalanceRow, len(accounts))}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		report.Funder = readRow(ctx, ch, env, funder)
	}()
	for i, acct := range accounts {
		wg.Add(1)
		go func(i int, addr common.Address) {
			defer wg.Done()
			report.Accounts[i] = readRow(ctx, ch, env, addr)
		}(i, acct.Address)
	}
	wg.Wait()
	return report
}

func readRow(ctx context.Context, ch Chain, env Env, addr common.Address) BalanceRow {
	row := BalanceRow{Address: addr}
	if row.Native, row.Err = ch.NativeBalance(ctx, addr); row.Err != nil {
		return row
	}
	if row.Capital, row.Err = ch.TokenBalance(ctx, env.Capital, addr); row.Err != nil {
		return row
	}
	row.Trade, row.Err = ch.TokenBalance(ctx, env.Trade, addr)
	return row
}
