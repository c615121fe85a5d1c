package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// NonceCounter is an owned nonce stream for a single sending address. It is
// read from the chain once and incremented locally, so the owner never races
// its own in-flight transactions. Exactly one goroutine may own a counter;
// there is deliberately no lock here.
type NonceCounter struct {
	addr common.Address
	next uint64
}

// StartAt builds a counter beginning at nonce. Used directly in tests; live
// code goes through Client.NonceCounterFor.
func StartAt(addr common.Address, nonce uint64) *NonceCounter {
	return &NonceCounter{addr: addr, next: nonce}
}

// NonceCounterFor seeds a counter from the address's pending nonce.
func (c *Client) NonceCounterFor(ctx context.Context, addr common.Address) (*NonceCounter, error) {
	nonce, err := c.PendingNonceAt(ctx, addr)
	if err != nil {
		return nil, err
	}
	return StartAt(addr, nonce), nil
}

// Address returns the account this counter belongs to.
func (n *NonceCounter) Address() common.Address {
	return n.addr
}

// Next hands out the current nonce and advances the stream.
func (n *NonceCounter) Next() uint64 {
	v := n.next
	n.next++
	return v
}

// Peek returns the nonce the next transaction would use.
func (n *NonceCounter) Peek() uint64 {
	return n.next
}
