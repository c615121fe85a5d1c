package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// FeeQuote carries the two components of a dynamic-fee transaction's price.
type FeeQuote struct {
	TipCap *big.Int
	FeeCap *big.Int
}

// Scale returns a copy with both components multiplied by bps/10000.
// 10000 is identity; 0 or negative leaves the quote untouched.
func (f FeeQuote) Scale(bps int64) FeeQuote {
	if bps <= 0 || bps == 10_000 {
		return FeeQuote{TipCap: new(big.Int).Set(f.TipCap), FeeCap: new(big.Int).Set(f.FeeCap)}
	}
	return FeeQuote{TipCap: applyBps(f.TipCap, bps), FeeCap: applyBps(f.FeeCap, bps)}
}

func applyBps(v *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(bps))
	return out.Div(out, big.NewInt(10_000))
}

// SuggestFees reads the node's tip suggestion and the current base fee, and
// prices the cap at twice the base fee plus the tip so the transaction
// survives several full blocks of base-fee growth.
func (c *Client) SuggestFees(ctx context.Context) (FeeQuote, error) {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()

	tip, err := c.eth.SuggestGasTipCap(cctx)
	if err != nil {
		return FeeQuote{}, fmt.Errorf("suggest tip: %w", err)
	}
	head, err := c.eth.HeaderByNumber(cctx, nil)
	if err != nil {
		return FeeQuote{}, fmt.Errorf("latest header: %w", err)
	}
	base := head.BaseFee
	if base == nil {
		base = new(big.Int)
	}
	feeCap := new(big.Int).Lsh(base, 1)
	feeCap.Add(feeCap, tip)
	return FeeQuote{TipCap: tip, FeeCap: feeCap}, nil
}

// SignTx signs a dynamic-fee transaction for the client's chain.
func (c *Client) SignTx(key *ecdsa.PrivateKey, txdata *types.DynamicFeeTx) (*types.Transaction, error) {
	txdata.ChainID = c.chainID
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(c.chainID), txdata)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return tx, nil
}
