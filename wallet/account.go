package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"time"

	"github.com/tarancss/hd"
	"golang.org/x/crypto/bcrypt"

	"github.com/tarancss/vcw/lib/store"
	"github.com/tarancss/vcw/lib/token"
)

// Initial grant bounds in display units: every new account receives a uniformly random whole-token amount in
// [grantMin, grantMax] from the central account.
const (
	grantMin = 100
	grantMax = 1000
)

// Provision creates a user record with a freshly derived keypair and funds it from the central account. The funding
// is always a direct token transfer of grant*10^18 base units. When funding fails the created user is kept: the
// caller gets the error and an unfunded account remains, rather than hiding a chain failure behind a rollback.
func (w *Wallet) Provision(username, password string) (u store.User, grant int, txHash string, err error) {
	// duplicate check first, so no chain write happens for a taken username. The store's unique index backstops
	// this read under concurrent registrations.
	if _, err = w.db.GetUser(username); err == nil {
		return u, 0, "", store.ErrDuplicateUser
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return u, 0, "", err
	}

	idx, err := w.db.NextAccountIndex()
	if err != nil {
		return u, 0, "", err
	}

	addr, key, _, err := w.hd.Address(accountWallet, hd.External, idx)
	if err != nil {
		return u, 0, "", fmt.Errorf("cannot derive keypair for index %d: %w", idx, err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return u, 0, "", err
	}

	u = store.User{
		Username: username,
		PassHash: string(hashed),
		Address:  "0x" + hex.EncodeToString(addr),
		Key:      "0x" + hex.EncodeToString(key),
		Index:    idx,
		Created:  time.Now().UTC(),
	}
	if err = w.db.AddUser(u); err != nil {
		return u, 0, "", err
	}

	grant = grantMin + rand.Intn(grantMax-grantMin+1) //nolint:gosec // grant size is not security sensitive

	base, err := token.ToBase(strconv.Itoa(grant))
	if err != nil {
		return u, grant, "", err
	}

	data, err := w.tok.Transfer(u.Address, base)
	if err != nil {
		return u, grant, "", err
	}

	_, hash, err := w.bc.Send(w.central.Address, w.tok.Address(), "", "0x0", data, w.central.Key, 0, DryRun)
	if err != nil {
		log.Printf("Funding of new user %s (%s) failed:%e", username, u.Address, err)
		return u, grant, "", fmt.Errorf("user created but funding failed: %w", chainErr(err))
	}

	txHash = "0x" + hex.EncodeToString(hash)
	w.record(store.TxRecord{
		Hash:     txHash,
		Op:       "fund",
		Username: username,
		From:     w.central.Address,
		To:       u.Address,
		Amount:   base.String(),
		Created:  u.Created,
	})
	return u, grant, txHash, nil
}

// Balances returns the native coin and token balances of the user in display units, both read live from the chain.
func (w *Wallet) Balances(u store.User) (ethBal, tokBal string, err error) {
	bal, tok, err := w.bc.Balance(u.Address, w.tok.Address())
	if err != nil {
		return "", "", chainErr(err)
	}
	return token.FromBase(bal), token.FromBase(tok), nil
}

// AccountInfo is one entry of the account listing.
type AccountInfo struct {
	Username string `json:"username"`
	Address  string `json:"wallet_address"`
	EthBal   string `json:"ether_balance"`
	TokBal   string `json:"token_balance"`
}

// Accounts returns every stored user with its live balances, ordered by username. Each entry costs two chain reads
// and nothing is cached, which is fine at the scale this service targets.
func (w *Wallet) Accounts() ([]AccountInfo, error) {
	users, err := w.db.ListUsers()
	if err != nil {
		return nil, err
	}

	accounts := make([]AccountInfo, 0, len(users))
	for _, u := range users {
		bal, tok, err := w.bc.Balance(u.Address, w.tok.Address())
		if err != nil {
			return nil, fmt.Errorf("cannot get balances of %s: %w", u.Username, chainErr(err))
		}
		accounts = append(accounts, AccountInfo{
			Username: u.Username,
			Address:  u.Address,
			EthBal:   token.FromBase(bal),
			TokBal:   token.FromBase(tok),
		})
	}
	return accounts, nil
}

// History returns the persisted transaction records involving the user, oldest first.
func (w *Wallet) History(u store.User) ([]store.TxRecord, error) {
	return w.db.GetTrans(u.Username)
}
