package poolwatch

import (
	"context"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"fleetsnipe/internal/chain"
	"fleetsnipe/internal/univ3"
)

// ClientProbe answers the watcher's questions against a live node.
type ClientProbe struct {
	Client  *chain.Client
	Factory common.Address
	TokenA  common.Address
	TokenB  common.Address
	Fee     uint32
	// Lookback is how many trailing blocks the mint scan covers.
	Lookback uint64
}

func (p *ClientProbe) PoolAddress(ctx context.Context) (common.Address, error) {
	return univ3.PoolAddress(ctx, p.Client, p.Factory, p.TokenA, p.TokenB, p.Fee)
}

func (p *ClientProbe) Liquidity(ctx context.Context, pool common.Address) (*big.Int, error) {
	return univ3.Liquidity(ctx, p.Client, pool)
}

// RecentMint scans the trailing lookback window for a Mint on the pool. One
// matching log is enough; the decode is only for the operator's benefit.
func (p *ClientProbe) RecentMint(ctx context.Context, pool common.Address) (bool, error) {
	head, err := p.Client.BlockNumber(ctx)
	if err != nil {
		return false, err
	}
	from := uint64(0)
	if head > p.Lookback {
		from = head - p.Lookback
	}
	logs, err := p.Client.FilterLogs(ctx, univ3.MintQuery(pool, from, head))
	if err != nil {
		return false, err
	}
	if len(logs) == 0 {
		return false, nil
	}
	if ev, err := univ3.DecodeMintLog(logs[0]); err == nil {
		log.Printf("[watch] mint in block %d: liquidity %s", logs[0].BlockNumber, ev.Amount)
	}
	return true, nil
}
