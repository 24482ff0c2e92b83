// Package wallet implements the virtual-currency wallet microservice.
//
// This microservice implements a RESTful API for users to register, receive a blockchain wallet funded with an
// initial token grant, and transfer tokens to one another through calls to the currency's smart contract.
package wallet

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tarancss/hd"

	"github.com/tarancss/vcw/lib/chain"
	"github.com/tarancss/vcw/lib/config"
	"github.com/tarancss/vcw/lib/msg"
	"github.com/tarancss/vcw/lib/store"
	"github.com/tarancss/vcw/lib/store/db"
	"github.com/tarancss/vcw/lib/token"
)

// accountWallet is the HD wallet number user accounts are derived from; each user gets a fresh external-change index
// under it.
const accountWallet uint32 = 1

// DryRun is a bool used to control sending transactions to the blockchain. When true, it will not send transactions
// but just do a dry run.
var DryRun bool = false //nolint:gochecknoglobals // consider adding this to config

// txTotal counts broadcast transactions by operation and outcome.
var txTotal = prometheus.NewCounterVec( //nolint:gochecknoglobals // prometheus collectors are process-wide
	prometheus.CounterOpts{
		Name: "vcw_transactions_total",
		Help: "Transactions broadcast by the wallet service, by operation and outcome.",
	},
	[]string{"op", "outcome"},
)

func init() {
	prometheus.MustRegister(txTotal)
}

// Wallet contains the data necessary to deliver the service
type Wallet struct {
	dbtype      string
	db          store.DB       // db connection
	bc          chain.Chain    // blockchain client
	tok         *token.Token   // contract call builder
	mb          msg.MsgBroker  // may be nil when no broker is configured
	hd          *hd.HdWallet   // HD wallet user keypairs are derived from
	central     config.Account // funds grants, relays transfers, mints
	mode        string         // config.ModeDirect or config.ModeRelay
	admins      []string       // usernames allowed to mint
	jwtKey      []byte
	receiptWait time.Duration
	s           *http.Server  // http server
	ss          *http.Server  // https server
	sc          chan struct{} // http server channel used for graceful shutdowns
}

// New returns a pointer to a new Wallet service. Central account, transfer mode, admin list, JWT secret and receipt
// timeout are taken from conf; conf must have been validated.
func New(dbConn store.DB, mb msg.MsgBroker, bc chain.Chain, tok *token.Token, hdw *hd.HdWallet, conf config.ServiceConfig) *Wallet {
	return &Wallet{
		dbtype:      conf.DBType,
		db:          dbConn,
		mb:          mb,
		bc:          bc,
		tok:         tok,
		hd:          hdw,
		central:     conf.Central,
		mode:        conf.Mode,
		admins:      conf.Admins,
		jwtKey:      []byte(conf.JWTSecret),
		receiptWait: time.Duration(conf.ReceiptWait) * time.Second,
	}
}

// Stop shuts down the http servers implementing the RESTful API and closes gracefully the connections to the message
// broker and database.
func (w *Wallet) Stop() {
	var err error
	// shutdown http server
	if w.s != nil {
		if err = w.s.Shutdown(context.Background()); err != nil {
			log.Printf("Error in http server shutdown:%e", err)
		}
	}
	if w.ss != nil {
		if err = w.ss.Shutdown(context.Background()); err != nil {
			log.Printf("Error in https server shutdown:%e", err)
		}
	}
	close(w.sc) // close server channel to indicate shutdowns have finished
	// close message broker
	if w.mb != nil {
		if err = w.mb.Close(); err != nil {
			log.Printf("Error closing message broker:%e", err)
		}
	}
	// close database
	if w.db != nil {
		err = db.Close(w.dbtype, w.db)
		log.Printf("Disconnecting %v database, err:%e\n", w.dbtype, err)
	}
}

// record persists a broadcast transaction to the audit trail and publishes it to the message broker for the auditor
// to settle. The transaction is already on chain at this point, so failures here are logged, not returned.
func (w *Wallet) record(t store.TxRecord) {
	txTotal.WithLabelValues(t.Op, "sent").Inc()

	if err := w.db.SaveTrans(t); err != nil {
		log.Printf("Error saving %s transaction %s to audit trail:%e", t.Op, t.Hash, err)
	}
	if w.mb == nil {
		return
	}
	e := msg.TxEvent{
		Op:       t.Op,
		Username: t.Username,
		From:     t.From,
		To:       t.To,
		Amount:   t.Amount,
		Hash:     t.Hash,
		TS:       t.Created,
	}
	if err := w.mb.SendTxEvent(e); err != nil {
		log.Printf("Error publishing %s transaction %s event:%e", t.Op, t.Hash, err)
	}
}
