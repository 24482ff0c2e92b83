package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tarancss/vcw/lib/chain/types"
	"github.com/tarancss/vcw/lib/store"
	"github.com/tarancss/vcw/lib/token"
)

// Errors returned to client requests.
var (
	ErrBadRequest = errors.New("bad request")
	ErrNoHash     = errors.New("a 32-byte hash is required")
)

// ErrChain tags failures reaching the blockchain node, so handlers can tell a retryable node problem from a caller
// mistake.
var ErrChain = errors.New("chain request failed")

// chainErr wraps an error from the chain client with the ErrChain tag.
func chainErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrChain, err)
}

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// errStatus maps a service error to the http status returned to the client.
func errStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrDuplicateUser):
		return http.StatusConflict
	case errors.Is(err, ErrRecipientNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMintDenied):
		return http.StatusForbidden
	case errors.Is(err, token.ErrInvalidAmount), errors.Is(err, ErrBadRequest), errors.Is(err, ErrNoHash):
		return http.StatusBadRequest
	case errors.Is(err, ErrChain):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// reply is the shared defer body of all handlers: on error it sets the mapped status and the error message, otherwise
// it marshals the payload into the response body. The request and outcome are logged either way.
func reply(rw http.ResponseWriter, r *http.Request, status int, payload interface{}, err error) {
	var res Response
	if err != nil {
		res.Error = fmt.Sprintf("%s", err)

		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		rw.WriteHeader(errStatus(err))
	} else {
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		rw.WriteHeader(status)
		tmp, _ := json.Marshal(payload)
		res.Body = string(tmp)
	}
	// log request and outcome
	log.Printf("httpreq from %v %s payload:%+v err:%e\n", r.RemoteAddr, r.RequestURI, payload, err)
	_ = json.NewEncoder(rw).Encode(&res)
}

// credentials is the request body of /register and /login.
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// homeHandler just replies a welcome message to the client.
func (w *Wallet) homeHandler(rw http.ResponseWriter, r *http.Request) {
	var res Response
	// log request
	log.Printf("httpreq from %v %s\n", r.RemoteAddr, r.RequestURI)
	// just reply a welcome message
	res.Body = "Hello, this is your virtual currency wallet!"
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(res)
}

// registerHandler creates a user with a freshly provisioned wallet, funds it with the initial grant and replies the
// username, grant, funding transaction hash and a bearer token.
func (w *Wallet) registerHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var pl struct {
		Username string `json:"username"`
		Balance  int    `json:"initial_balance"`
		TxHash   string `json:"tx_hash"`
		Token    string `json:"token"`
	}

	defer func() { reply(rw, r, http.StatusOK, &pl, err) }()

	var c credentials
	if err = json.NewDecoder(r.Body).Decode(&c); err != nil || c.Username == "" || c.Password == "" {
		err = ErrBadRequest

		return
	}

	var u store.User
	var grant int
	var txHash string
	if u, grant, txHash, err = w.Provision(c.Username, c.Password); err != nil {
		return
	}

	var tok string
	if tok, err = w.issueToken(u.Username); err != nil {
		return
	}

	pl.Username = u.Username
	pl.Balance = grant
	pl.TxHash = txHash
	pl.Token = tok
}

// loginHandler authenticates a username/password pair and replies a bearer token.
func (w *Wallet) loginHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var pl struct {
		Username string `json:"username"`
		Token    string `json:"token"`
	}

	defer func() { reply(rw, r, http.StatusOK, &pl, err) }()

	var c credentials
	if err = json.NewDecoder(r.Body).Decode(&c); err != nil || c.Username == "" || c.Password == "" {
		err = ErrBadRequest

		return
	}

	var u store.User
	var tok string
	if u, tok, err = w.Login(c.Username, c.Password); err != nil {
		return
	}

	pl.Username = u.Username
	pl.Token = tok
}

// balanceHandler replies the caller's native and token balances, read live from the chain.
func (w *Wallet) balanceHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var pl struct {
		EthBal string `json:"ether_balance"`
		TokBal string `json:"token_balance"`
	}

	defer func() { reply(rw, r, http.StatusOK, &pl, err) }()

	u, ok := userFrom(r)
	if !ok {
		err = ErrBadRequest

		return
	}

	pl.EthBal, pl.TokBal, err = w.Balances(u)
}

// transferHandler sends tokens from the caller to the requested user and replies the transaction hash.
func (w *Wallet) transferHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var pl struct {
		TxHash string `json:"tx_hash"`
	}

	defer func() { reply(rw, r, http.StatusOK, &pl, err) }()

	u, ok := userFrom(r)
	if !ok {
		err = ErrBadRequest

		return
	}

	var req struct {
		ToUsername string `json:"to_username"`
		Amount     string `json:"amount"`
	}
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil || req.ToUsername == "" || req.Amount == "" {
		err = ErrBadRequest

		return
	}

	pl.TxHash, err = w.Transfer(u, req.ToUsername, req.Amount)
}

// accountsHandler replies every user account with its live balances.
func (w *Wallet) accountsHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var pl struct {
		Accounts []AccountInfo `json:"accounts"`
	}

	defer func() { reply(rw, r, http.StatusOK, &pl, err) }()

	pl.Accounts, err = w.Accounts()
}

// mintHandler mints new tokens to the requested user. Only admin accounts may call it.
func (w *Wallet) mintHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var pl struct {
		TxHash string `json:"tx_hash"`
	}

	defer func() { reply(rw, r, http.StatusOK, &pl, err) }()

	u, ok := userFrom(r)
	if !ok {
		err = ErrBadRequest

		return
	}

	var req struct {
		Recipient string `json:"recipient_username"`
		Amount    string `json:"amount"`
	}
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil || req.Recipient == "" || req.Amount == "" {
		err = ErrBadRequest

		return
	}

	pl.TxHash, err = w.Mint(u, req.Recipient, req.Amount)
}

// historyHandler replies the caller's persisted transaction records, oldest first.
func (w *Wallet) historyHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var pl struct {
		Trans []store.TxRecord `json:"transactions"`
	}

	defer func() { reply(rw, r, http.StatusOK, &pl, err) }()

	u, ok := userFrom(r)
	if !ok {
		err = ErrBadRequest

		return
	}

	pl.Trans, err = w.History(u)
}

// txHandler gets the details of the specified transaction and replies it to the client request.
func (w *Wallet) txHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	tx := &types.Trans{}

	defer func() { reply(rw, r, http.StatusOK, tx, err) }()

	v := mux.Vars(r)
	hash, ok := v["hash"]
	if !ok || len(hash) != 66 { // 66 = 0x + 32 bytes
		err = ErrNoHash

		return
	}

	if tx, err = w.bc.Get(hash); err != nil {
		err = chainErr(err)
	}
}
