package fleet

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// domainTag keeps child derivation separate from any other keccak use of the
// same key material.
const domainTag = "fleetsnipe/child-key/v1"

// Funder is the single root identity. Its key is the only secret the process
// ever holds from the outside world; everything else is derived from it.
type Funder struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// Account is one derived child identity. Recomputed on every run, never
// written anywhere.
type Account struct {
	Index   uint32
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// FunderFromHex parses the funding private key from hex, with or without a
// 0x prefix.
func FunderFromHex(hexKey string) (Funder, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return Funder{}, fmt.Errorf("empty funding key")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return Funder{}, fmt.Errorf("parse funding key: %w", err)
	}
	return Funder{Address: crypto.PubkeyToAddress(key.PublicKey), Key: key}, nil
}

// DeriveOne computes the child account at index. Pure: keccak over the domain
// tag, the funder's 32-byte scalar, and the big-endian index, interpreted as
// a secp256k1 private key. A digest outside the curve order is reported as an
// error instead of being skipped, so indices stay stable.
func DeriveOne(funderKey *ecdsa.PrivateKey, index uint32) (Account, error) {
	if funderKey == nil {
		return Account{}, fmt.Errorf("nil funding key")
	}
	seed := crypto.FromECDSA(funderKey)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(index))

	digest := crypto.Keccak256([]byte(domainTag), seed, idx[:])
	key, err := crypto.ToECDSA(digest)
	if err != nil {
		return Account{}, fmt.Errorf("derive child %d: %w", index, err)
	}
	return Account{
		Index:   index,
		Address: crypto.PubkeyToAddress(key.PublicKey),
		Key:     key,
	}, nil
}

// Derive computes the first count child accounts, index 0..count-1.
func Derive(funderKey *ecdsa.PrivateKey, count int) ([]Account, error) {
	if count < 0 {
		return nil, fmt.Errorf("negative fleet size %d", count)
	}
	accounts := make([]Account, 0, count)
	for i := 0; i < count; i++ {
		acct, err := DeriveOne(funderKey, uint32(i))
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

// Addresses returns the fleet's addresses in index order.
func Addresses(accounts []Account) []common.Address {
	out := make([]common.Address, len(accounts))
	for i, a := range accounts {
		out[i] = a.Address
	}
	return out
}
