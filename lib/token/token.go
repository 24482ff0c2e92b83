// Package token binds the virtual-currency contract address to typed call builders. Mutating calls yield the
// ABI-encoded call data for the contract; the caller submits it through the chain client, which fills in nonce, gas
// and signature. No validation happens beyond argument encoding: an insufficient balance or allowance surfaces only
// as a reverted transaction on chain.
package token

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
)

// Contract methodIDs (first 4 bytes of the keccak-256 of the function signature).
const (
	methodBalanceOf    = "70a08231" // balanceOf(address)
	methodTransfer     = "a9059cbb" // transfer(address,uint256)
	methodTransferFrom = "23b872dd" // transferFrom(address,address,uint256)
	methodApprove      = "095ea7b3" // approve(address,uint256)
	methodMint         = "40c10f19" // mint(address,uint256)
)

// Errors returned building contract calls.
var (
	ErrBadAddress  = errors.New("address must be 0x followed by 40 hex digits")
	ErrBadUint     = errors.New("amount must be a non-negative integer of at most 256 bits")
	ErrNoDeploy    = errors.New("artifact has no deployed network address")
	ErrNoMethodABI = errors.New("artifact abi misses a required contract method")
)

// Token is a call builder bound to a deployed contract address.
type Token struct {
	addr string
}

// New binds a Token to the given contract address.
func New(address string) (*Token, error) {
	if !validAddress(address) {
		return nil, ErrBadAddress
	}
	return &Token{addr: strings.ToLower(address)}, nil
}

// Address returns the bound contract address.
func (t *Token) Address() string {
	return t.addr
}

// BalanceOf returns the call data for balanceOf(owner). Reads go through eth_call so they carry no value and need
// no signature.
func (t *Token) BalanceOf(owner string) ([]byte, error) {
	return pack(methodBalanceOf, []string{owner}, nil)
}

// Transfer returns the call data for transfer(to, amount), amount in base units.
func (t *Token) Transfer(to string, amount *big.Int) ([]byte, error) {
	return pack(methodTransfer, []string{to}, amount)
}

// TransferFrom returns the call data for transferFrom(from, to, amount), amount in base units. The from address must
// have approved the submitting address for at least amount.
func (t *Token) TransferFrom(from, to string, amount *big.Int) ([]byte, error) {
	return pack(methodTransferFrom, []string{from, to}, amount)
}

// Approve returns the call data for approve(spender, amount), amount in base units.
func (t *Token) Approve(spender string, amount *big.Int) ([]byte, error) {
	return pack(methodApprove, []string{spender}, amount)
}

// Mint returns the call data for mint(to, amount), amount in base units. The contract enforces who may mint.
func (t *Token) Mint(to string, amount *big.Int) ([]byte, error) {
	return pack(methodMint, []string{to}, amount)
}

// pack encodes a methodID, the address arguments and an optional trailing uint256 into contract call data. Every
// argument is left-padded to a 32-byte word.
func pack(methodID string, addrs []string, amount *big.Int) ([]byte, error) {
	data := make([]byte, 0, 4+32*(len(addrs)+1))
	mid, _ := hex.DecodeString(methodID)
	data = append(data, mid...)
	for _, a := range addrs {
		if !validAddress(a) {
			return nil, ErrBadAddress
		}
		word := make([]byte, 32)
		b, err := hex.DecodeString(a[2:])
		if err != nil {
			return nil, ErrBadAddress
		}
		copy(word[12:], b)
		data = append(data, word...)
	}
	if amount != nil {
		if amount.Sign() < 0 || amount.BitLen() > 256 {
			return nil, ErrBadUint
		}
		word := make([]byte, 32)
		amount.FillBytes(word)
		data = append(data, word...)
	}
	return data, nil
}

func validAddress(a string) bool {
	if len(a) != 42 || !strings.HasPrefix(a, "0x") {
		return false
	}
	_, err := hex.DecodeString(a[2:])
	return err == nil
}

// artifact mirrors the pieces of a truffle build artifact the wallet cares about: the abi to sanity-check the
// deployed contract and the per-network deployment addresses.
type artifact struct {
	ABI []struct {
		Type string `json:"type"`
		Name string `json:"name"`
	} `json:"abi"`
	Networks map[string]struct {
		Address string `json:"address"`
	} `json:"networks"`
}

// LoadArtifact reads a truffle build artifact from disk and returns the deployed contract address. When the artifact
// records deployments to several networks, the single configured network id would disambiguate; these artifacts are
// built against one private network, so the first (and only) deployment is taken. The abi is checked to contain the
// methods the wallet submits.
func LoadArtifact(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("cannot open contract artifact %s: %w", path, err)
	}
	defer f.Close()

	var a artifact
	if err = json.NewDecoder(f).Decode(&a); err != nil {
		return "", fmt.Errorf("cannot decode contract artifact %s: %w", path, err)
	}

	methods := map[string]bool{}
	for _, m := range a.ABI {
		if m.Type == "function" {
			methods[m.Name] = true
		}
	}
	for _, req := range []string{"balanceOf", "transfer", "transferFrom", "approve", "mint"} {
		if !methods[req] {
			return "", fmt.Errorf("%w: %s", ErrNoMethodABI, req)
		}
	}

	for _, n := range a.Networks {
		if validAddress(n.Address) {
			return strings.ToLower(n.Address), nil
		}
	}
	return "", ErrNoDeploy
}
