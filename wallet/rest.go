package wallet

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// Init sets up and starts the http/https server to service the RESTful API for the wallet service. If sslPort,
// sslCert and sslKey are informed, it will start an https (TLS) server on the specified endpoint.
func (w *Wallet) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	// API definition
	r := mux.NewRouter()
	r.HandleFunc("/", w.homeHandler)
	r.HandleFunc("/register", w.registerHandler).Methods("POST")           // create a user with a funded wallet
	r.HandleFunc("/login", w.loginHandler).Methods("POST")                 // authenticate, get a bearer token
	r.HandleFunc("/balance", w.authed(w.balanceHandler)).Methods("GET")    // own ether and token balances
	r.HandleFunc("/transfer", w.authed(w.transferHandler)).Methods("POST") // send tokens to another user
	r.HandleFunc("/accounts", w.authed(w.accountsHandler)).Methods("GET")  // all users with balances
	r.HandleFunc("/mint", w.authed(w.mintHandler)).Methods("POST")         // mint tokens, admins only
	r.HandleFunc("/history", w.authed(w.historyHandler)).Methods("GET")    // own audit trail
	r.HandleFunc("/tx/{hash}", w.authed(w.txHandler)).Methods("GET")       // get transaction details
	http.Handle("/", r)

	// setup shutdown channel
	w.sc = make(chan struct{})

	// start http server
	if port != "" {
		w.s = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + port,
			// Good practice: enforce timeouts for servers you create!
			// Relayed transfers block until the approval receipt is mined, so allow for that wait.
			WriteTimeout: timeout*time.Second + w.receiptWait,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = w.s.ListenAndServe()
		}()

		log.Printf("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		w.ss = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + sslPort,
			// Good practice: enforce timeouts for servers you create!
			// Relayed transfers block until the approval receipt is mined, so allow for that wait.
			WriteTimeout: timeout*time.Second + w.receiptWait,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = w.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		log.Printf("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-w.sc

	return fmt.Sprintf("shutdown http server:%e, https server:%e", err, errTLS)
}
