// Implements the chain interface for ethereum networks
package ethereum

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/tarancss/ethcli"

	"github.com/tarancss/vcw/lib/chain/types"
)

// receiptPoll is the interval between receipt queries in WaitReceipt.
const receiptPoll = 2 * time.Second

// Ethereum implements a connection to an ethereum-type chain. The nonce for a transaction is read by the underlying
// client right before signing, so subs serializes the whole read-sign-broadcast window per sending address.
type Ethereum struct {
	c    *ethcli.EthCli
	mu   sync.Mutex // guards subs
	subs map[string]*sync.Mutex
}

// Init returns a connection to an ethereum node, using secret if necessary for authentication.
func Init(node, secret string) (*Ethereum, error) {
	var c *ethcli.EthCli
	if c = ethcli.Init(node, secret); c == nil {
		return nil, errors.New("cannot connect to ethereum blockchain in " + node)
	}
	return &Ethereum{c: c, subs: make(map[string]*sync.Mutex)}, nil
}

// Close ends a connection
func (e *Ethereum) Close() {
	e.c.End()
}

// Balance returns the ether balance of address and, if token is given, the token balance of address in base units.
func (e *Ethereum) Balance(address, token string) (bal, tokBal *big.Int, err error) {
	bal, tokBal = new(big.Int), new(big.Int)
	if err = e.c.GetBalance(address, token, bal, tokBal); err != nil {
		err = fmt.Errorf("cannot get balance of %s: %w", address, err)
	}
	return bal, tokBal, err
}

// subLock returns the submission lock for the given address, creating it on first use. Addresses are folded to
// lowercase so checksummed and plain hex spellings share one lock.
func (e *Ethereum) subLock(address string) *sync.Mutex {
	addr := strings.ToLower(address)
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.subs[addr]
	if !ok {
		l = new(sync.Mutex)
		e.subs[addr] = l
	}
	return l
}

// Send executes a transaction in the blockchain with the given parameters returning the expected fee and the
// transaction hash, or an error otherwise. Submissions from the same address are serialized so concurrent requests
// cannot reuse a nonce. No retry and no gas re-estimation is done, the node's error is just returned wrapped.
func (e *Ethereum) Send(from, to, token, amount string, data []byte, key string, price uint64, dryRun bool) (fee *big.Int, hash []byte, err error) {
	l := e.subLock(from)
	l.Lock()
	defer l.Unlock()

	var p, gas uint64
	if p, gas, hash, err = e.c.SendTrx(from, to, token, amount, data, strings.TrimPrefix(key, "0x"), price, dryRun); err != nil {
		return nil, hash, fmt.Errorf("cannot send transaction from %s: %w", from, err)
	}
	fee = new(big.Int).SetUint64(p)
	fee = fee.Mul(fee, new(big.Int).SetUint64(gas))
	return fee, hash, nil
}

// Get returns the details of the transaction for the given hash.
func (e *Ethereum) Get(hash string) (*types.Trans, error) {
	blk, ts, _, _, status, fee, token, _, to, from, amount, err := e.c.GetTrx(hash)
	if err != nil {
		return nil, fmt.Errorf("cannot get transaction %s: %w", hash, err)
	}
	return &types.Trans{
		Block:  blk,
		Hash:   hash,
		From:   from,
		To:     to,
		Token:  string(token),
		Value:  amount,
		Fee:    fee,
		Status: status,
		TS:     ts,
	}, nil
}

// WaitReceipt blocks until the transaction is mined, returning its final status, or gives up with types.ErrTimeout
// once timeout has elapsed. A lookup error counts as still pending: the node may simply not have seen the
// transaction yet, and a flaky node should not abort the wait early.
func (e *Ethereum) WaitReceipt(hash string, timeout time.Duration) (uint8, error) {
	deadline := time.Now().Add(timeout)
	for {
		tx, err := e.Get(hash)
		if err == nil && tx.Status != types.TrxPending {
			return tx.Status, nil
		}
		if time.Now().After(deadline) {
			return types.TrxPending, types.ErrTimeout
		}
		time.Sleep(receiptPoll)
	}
}
