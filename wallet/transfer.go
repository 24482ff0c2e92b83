package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/tarancss/vcw/lib/chain/types"
	"github.com/tarancss/vcw/lib/config"
	"github.com/tarancss/vcw/lib/store"
	"github.com/tarancss/vcw/lib/token"
	"github.com/tarancss/vcw/lib/util"
)

// Errors returned by the transfer and mint services.
var (
	ErrRecipientNotFound = errors.New("recipient user does not exist")
	ErrMintDenied        = errors.New("minting requires an admin account")
)

// Transfer moves tokens from the sender to the user named toUsername and returns the hash of the economically
// meaningful transaction. amount is a decimal string in display units and is converted to base units exactly; inputs
// that would lose precision fail with token.ErrInvalidAmount before anything reaches the chain. The transaction
// pattern is fixed per deployment: in direct mode the sender signs a transfer, in relay mode the sender signs an
// approval of the central account, which then signs the transferFrom and pays its gas.
func (w *Wallet) Transfer(sender store.User, toUsername, amount string) (string, error) {
	rec, err := w.db.GetUser(toUsername)
	if errors.Is(err, store.ErrUserNotFound) {
		return "", ErrRecipientNotFound
	} else if err != nil {
		return "", err
	}

	base, err := token.ToBase(amount)
	if err != nil {
		return "", err
	}

	if w.mode == config.ModeRelay {
		return w.relayTransfer(sender, rec, base)
	}

	data, err := w.tok.Transfer(rec.Address, base)
	if err != nil {
		return "", err
	}

	_, hash, err := w.bc.Send(sender.Address, w.tok.Address(), "", "0x0", data, sender.Key, 0, DryRun)
	if err != nil {
		return "", chainErr(err)
	}

	txHash := "0x" + hex.EncodeToString(hash)
	w.record(store.TxRecord{
		Hash:     txHash,
		Op:       "transfer",
		Username: sender.Username,
		From:     sender.Address,
		To:       rec.Address,
		Amount:   base.String(),
		Created:  time.Now().UTC(),
	})
	return txHash, nil
}

// relayTransfer implements the approve+transferFrom pattern: the sender signs an approval of the central account for
// the amount, and once the approval is mined the central account submits the transferFrom. The two transactions are
// sequential on chain, so the approval receipt is awaited (bounded by the configured timeout) before the transferFrom
// goes out; a reverted or unconfirmed approval aborts the transfer with the approval hash in the error. An approval
// that is mined while the transferFrom later fails is the known partial-failure window of this mode: the allowance
// stays behind, and the error says so instead of hiding it.
func (w *Wallet) relayTransfer(sender, rec store.User, amt *big.Int) (string, error) {
	dataA, err := w.tok.Approve(w.central.Address, amt)
	if err != nil {
		return "", err
	}

	_, ahash, err := w.bc.Send(sender.Address, w.tok.Address(), "", "0x0", dataA, sender.Key, 0, DryRun)
	if err != nil {
		return "", fmt.Errorf("approval failed: %w", chainErr(err))
	}

	approveHash := "0x" + hex.EncodeToString(ahash)
	w.record(store.TxRecord{
		Hash:     approveHash,
		Op:       "approve",
		Username: sender.Username,
		From:     sender.Address,
		To:       w.central.Address,
		Amount:   amt.String(),
		Created:  time.Now().UTC(),
	})

	status, err := w.bc.WaitReceipt(approveHash, w.receiptWait)
	if err != nil {
		return "", fmt.Errorf("approval %s not confirmed: %w", approveHash, chainErr(err))
	}
	if status != types.TrxSuccess {
		return "", fmt.Errorf("approval %s reverted on chain", approveHash)
	}

	dataT, err := w.tok.TransferFrom(sender.Address, rec.Address, amt)
	if err != nil {
		return "", err
	}

	_, hash, err := w.bc.Send(w.central.Address, w.tok.Address(), "", "0x0", dataT, w.central.Key, 0, DryRun)
	if err != nil {
		// the mined approval is left behind; report it so the allowance can be tracked down
		return "", fmt.Errorf("transferFrom failed after approval %s was mined: %w", approveHash, chainErr(err))
	}

	txHash := "0x" + hex.EncodeToString(hash)
	w.record(store.TxRecord{
		Hash:     txHash,
		Op:       "transfer",
		Username: sender.Username,
		From:     sender.Address,
		To:       rec.Address,
		Amount:   amt.String(),
		Created:  time.Now().UTC(),
	})
	return txHash, nil
}

// Mint creates amount new tokens for the user named toUsername, signed by the central account. Only usernames in the
// configured admin list may mint; an empty list disables minting altogether. Whatever additional restriction the
// contract enforces on its mint method still applies on top.
func (w *Wallet) Mint(caller store.User, toUsername, amount string) (string, error) {
	if !util.In(w.admins, caller.Username) {
		return "", ErrMintDenied
	}

	rec, err := w.db.GetUser(toUsername)
	if errors.Is(err, store.ErrUserNotFound) {
		return "", ErrRecipientNotFound
	} else if err != nil {
		return "", err
	}

	base, err := token.ToBase(amount)
	if err != nil {
		return "", err
	}

	data, err := w.tok.Mint(rec.Address, base)
	if err != nil {
		return "", err
	}

	_, hash, err := w.bc.Send(w.central.Address, w.tok.Address(), "", "0x0", data, w.central.Key, 0, DryRun)
	if err != nil {
		return "", chainErr(err)
	}

	txHash := "0x" + hex.EncodeToString(hash)
	log.Printf("Minted %s base units to %s (%s) by %s, tx %s", base.String(), rec.Username, rec.Address,
		caller.Username, txHash)
	w.record(store.TxRecord{
		Hash:     txHash,
		Op:       "mint",
		Username: rec.Username,
		From:     w.central.Address,
		To:       rec.Address,
		Amount:   base.String(),
		Created:  time.Now().UTC(),
	})
	return txHash, nil
}
