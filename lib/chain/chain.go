// Package chain defines the interface required for the blockchain connection.
package chain

import (
	"math/big"
	"time"

	"github.com/tarancss/vcw/lib/chain/ethereum"
	"github.com/tarancss/vcw/lib/chain/types"
	"github.com/tarancss/vcw/lib/config"
)

// Chain is the interface the wallet and auditor services use to talk to the blockchain node. Implementations must
// serialize transaction submission per signing address: the nonce read and the broadcast are not atomic at the node,
// so two concurrent submissions from the same address would otherwise collide on the nonce.
type Chain interface {
	Close()
	// Balance returns the native coin balance of address and, if token is not empty, the token balance of address
	// in base units.
	Balance(address, token string) (bal, tokBal *big.Int, err error)
	// Send signs a transaction with key and broadcasts it, returning the expected fee and the transaction hash. It
	// returns right after broadcast, without waiting for inclusion.
	Send(from, to, token, amount string, data []byte, key string, price uint64, dryRun bool) (fee *big.Int, hash []byte, err error)
	// Get returns the details of the transaction for the given hash, including its receipt status.
	Get(hash string) (*types.Trans, error)
	// WaitReceipt polls the node until the transaction is mined or timeout elapses, returning the final status.
	WaitReceipt(hash string, timeout time.Duration) (uint8, error)
}

// Init connects to the blockchain node given in the config.
func Init(bc config.ChainConfig) (Chain, error) {
	return ethereum.Init(bc.Node, bc.Secret)
}

// End closes gracefully the blockchain client.
func End(c Chain) {
	if c != nil {
		c.Close()
	}
}
