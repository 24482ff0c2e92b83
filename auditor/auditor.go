// Package auditor implements the audit microservice. The auditor consumes the transaction events published by the
// wallet service, waits for each transaction to be mined and settles its final status in the persisted transaction
// records, so users see confirmed or failed transactions in their history without the wallet blocking on receipts.
package auditor

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/tarancss/vcw/lib/chain"
	"github.com/tarancss/vcw/lib/chain/types"
	"github.com/tarancss/vcw/lib/msg"
	"github.com/tarancss/vcw/lib/store"
)

// Auditor implements an auditor service.
type Auditor struct {
	db          store.DB
	bc          chain.Chain
	mb          msg.MsgBroker
	receiptWait time.Duration
}

// New instantiates a new auditor service.
func New(db store.DB, mb msg.MsgBroker, bc chain.Chain, receiptWait time.Duration) *Auditor {
	return &Auditor{
		db:          db,
		bc:          bc,
		mb:          mb,
		receiptWait: receiptWait,
	}
}

// Audit starts a go routine that consumes transaction events and settles each one. The routine acknowledges an event
// to the broker only after it has been processed, so events survive an auditor restart. The returned channel is
// written once the event channel closes, so the calling routine can control graceful termination.
func (a *Auditor) Audit() (chan string, error) {
	var mut *sync.Mutex = new(sync.Mutex)

	mut.Lock()

	evCh, errCh, err := a.mb.GetTxEvents(mut)
	if err != nil {
		return nil, err
	}

	ret := make(chan string, 1)

	go func() {
		log.Printf("Start listening to transaction event channel")

		for {
			select {
			case e, ok := (<-evCh):
				if !ok {
					log.Printf("Stop listening to transaction event channel")
					ret <- "Done!"

					return
				}

				a.settle(e)
				mut.Unlock()
			case err, ok := (<-errCh):
				if !ok {
					log.Printf("Stop listening to transaction event channel")
					ret <- "Done!"

					return
				}

				log.Printf("Received error %+v", err)
			}
		}
	}()

	return ret, nil
}

// settle waits for the event's transaction to be mined and updates its persisted record with the final status. A
// transaction still pending after the wait is left as is, to be settled on a later run.
func (a *Auditor) settle(e msg.TxEvent) {
	log.Printf("Received event %+v", e)

	status, err := a.bc.WaitReceipt(e.Hash, a.receiptWait)
	if err != nil {
		if errors.Is(err, types.ErrTimeout) {
			log.Printf("Transaction %s still pending after %v, leaving record unsettled", e.Hash, a.receiptWait)
		} else {
			log.Printf("Cannot get receipt of %s, err:%e", e.Hash, err)
		}

		return
	}

	if err = a.db.SetTransStatus(e.Hash, status); err != nil {
		if errors.Is(err, store.ErrTransNotFound) {
			log.Printf("No record of transaction %s, ignoring...", e.Hash)
		} else {
			log.Printf("Error updating status of %s to %d, err:%e", e.Hash, status, err)
		}

		return
	}

	log.Printf("Settled transaction %s op:%s user:%s status:%d", e.Hash, e.Op, e.Username, status)
}
