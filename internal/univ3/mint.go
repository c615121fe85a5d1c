package univ3

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// MintTopic is the topic0 of the pool's liquidity-mint event.
var MintTopic = crypto.Keccak256Hash([]byte("Mint(address,address,int24,int24,uint128,uint256,uint256)"))

var twoPow256 = new(big.Int).Lsh(big.NewInt(1), 256)

// MintEvent is one decoded liquidity mint.
//
// Log layout:
//
//	topics[0] = Mint signature
//	topics[1] = owner (indexed address)
//	topics[2] = tickLower (indexed int24, sign-extended)
//	topics[3] = tickUpper (indexed int24, sign-extended)
//	data      = sender (address word) . amount (uint128) . amount0 . amount1
type MintEvent struct {
	Pool      common.Address
	Owner     common.Address
	TickLower int32
	TickUpper int32
	Amount    *big.Int
	Amount0   *big.Int
	Amount1   *big.Int
}

// MintQuery builds the log filter for mints on pool over [from, to].
func MintQuery(pool common.Address, from, to uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{pool},
		Topics:    [][]common.Hash{{MintTopic}},
	}
}

// DecodeMintLog parses a raw log into a MintEvent.
func DecodeMintLog(l types.Log) (MintEvent, error) {
	if len(l.Topics) != 4 {
		return MintEvent{}, fmt.Errorf("mint log has %d topics, want 4", len(l.Topics))
	}
	if l.Topics[0] != MintTopic {
		return MintEvent{}, fmt.Errorf("log topic0 %s is not Mint", l.Topics[0].Hex())
	}
	if len(l.Data) != 4*32 {
		return MintEvent{}, fmt.Errorf("mint log data is %d bytes, want 128", len(l.Data))
	}

	word := func(i int) *big.Int {
		return new(big.Int).SetBytes(l.Data[i*32 : (i+1)*32])
	}
	return MintEvent{
		Pool:      l.Address,
		Owner:     common.BytesToAddress(l.Topics[1].Bytes()),
		TickLower: signedInt24(l.Topics[2]),
		TickUpper: signedInt24(l.Topics[3]),
		Amount:    word(1),
		Amount0:   word(2),
		Amount1:   word(3),
	}, nil
}

// signedInt24 reads a sign-extended int24 out of a 32-byte topic word.
func signedInt24(topic common.Hash) int32 {
	v := new(big.Int).SetBytes(topic.Bytes())
	if v.Bit(255) == 1 {
		v.Sub(v, twoPow256)
	}
	return int32(v.Int64())
}
