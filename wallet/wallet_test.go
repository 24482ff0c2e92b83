package wallet

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tarancss/hd"

	"github.com/tarancss/vcw/lib/chain/types"
	"github.com/tarancss/vcw/lib/config"
	"github.com/tarancss/vcw/lib/store"
	"github.com/tarancss/vcw/lib/store/db"
	"github.com/tarancss/vcw/lib/token"
)

const (
	testContract = "0x45ef35cf11d09f2f5d9e314dcb0f9ba71e4b3b48"
	testCentral  = "0x357dd3856d856197c1a000bbab4abcb97dfc92c3"
	testSeed     = "642ce4e20f09c9f4d285c2b336063eaafbe4cb06dece8134f3a64bdd8f8c0c24df73e1a2e7056359b6db61e179ff45e5ada51d14f07b30becb6d92b961d35df4"
)

// fakeChain implements chain.Chain in memory, applying the token semantics of the call data it receives so tests can
// check balances after a sequence of transactions.
type fakeChain struct {
	mu       sync.Mutex
	eth      map[string]*big.Int
	tokens   map[string]*big.Int
	sends    [][]byte // call data of each broadcast transaction, in order
	failSend bool     // when true every Send returns an error
	receipt  uint8    // status Get and WaitReceipt report
	seq      uint64
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		eth:     map[string]*big.Int{},
		tokens:  map[string]*big.Int{},
		receipt: types.TrxSuccess,
	}
}

func (f *fakeChain) Close() {}

func (f *fakeChain) Balance(address, tok string) (*big.Int, *big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.eth[strings.ToLower(address)]
	if !ok {
		bal = big.NewInt(0)
	}
	tokBal, ok := f.tokens[strings.ToLower(address)]
	if !ok {
		tokBal = big.NewInt(0)
	}
	return new(big.Int).Set(bal), new(big.Int).Set(tokBal), nil
}

func (f *fakeChain) Send(from, to, tok, amount string, data []byte, key string, price uint64, dryRun bool) (*big.Int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return nil, nil, errors.New("node rejected transaction")
	}

	arg := func(i int) string { return "0x" + hex.EncodeToString(data[4+32*i+12:4+32*(i+1)]) }
	amt := func(i int) *big.Int { return new(big.Int).SetBytes(data[4+32*i : 4+32*(i+1)]) }

	switch hex.EncodeToString(data[:4]) {
	case "a9059cbb": // transfer(to, amount)
		f.move(from, arg(0), amt(1))
	case "23b872dd": // transferFrom(from, to, amount)
		f.move(arg(0), arg(1), amt(2))
	case "095ea7b3": // approve(spender, amount), allowance is not modeled
	case "40c10f19": // mint(to, amount)
		f.credit(arg(0), amt(1))
	}

	f.sends = append(f.sends, data)
	f.seq++
	hash := make([]byte, 32)
	binary.BigEndian.PutUint64(hash[24:], f.seq)
	return big.NewInt(21000), hash, nil
}

func (f *fakeChain) move(from, to string, amt *big.Int) {
	f.debit(from, amt)
	f.credit(to, amt)
}

func (f *fakeChain) debit(addr string, amt *big.Int) {
	a := strings.ToLower(addr)
	if f.tokens[a] == nil {
		f.tokens[a] = big.NewInt(0)
	}
	f.tokens[a].Sub(f.tokens[a], amt)
}

func (f *fakeChain) credit(addr string, amt *big.Int) {
	a := strings.ToLower(addr)
	if f.tokens[a] == nil {
		f.tokens[a] = big.NewInt(0)
	}
	f.tokens[a].Add(f.tokens[a], amt)
}

func (f *fakeChain) Get(hash string) (*types.Trans, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &types.Trans{Hash: hash, Status: f.receipt}, nil
}

func (f *fakeChain) WaitReceipt(hash string, timeout time.Duration) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receipt, nil
}

func (f *fakeChain) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

// newTestWallet wires a wallet service to a memory store and a fake chain. No message broker: records are only
// persisted, not published.
func newTestWallet(t *testing.T, mode string) (*Wallet, *fakeChain) {
	t.Helper()

	s, err := db.New(db.MEMORY, "")
	if err != nil {
		t.Fatalf("Error creating store:%e", err)
	}

	seed, err := hex.DecodeString(testSeed)
	if err != nil {
		t.Fatalf("Error decoding seed:%e", err)
	}
	hdw, err := hd.Init(seed)
	if err != nil {
		t.Fatalf("Error initialising HD wallet:%e", err)
	}

	tok, err := token.New(testContract)
	if err != nil {
		t.Fatalf("Error binding token:%e", err)
	}

	bc := newFakeChain()
	conf := config.ServiceConfig{
		DBType:      db.MEMORY,
		Mode:        mode,
		Central:     config.Account{Address: testCentral, Key: "0x17fe67f8e1c7b0fea8eb0b98ba0c99af1b2433857bbf9889f2b487c23b42bcde"},
		Admins:      []string{"admin"},
		JWTSecret:   "test-secret",
		ReceiptWait: 1,
	}
	return New(s, nil, bc, tok, hdw, conf), bc
}

var (
	addrRE = regexp.MustCompile(`^0x[0-9a-f]{40}$`)
	hashRE = regexp.MustCompile(`^0x[0-9a-f]{64}$`)
)

// makeRequest places a http request on uri with an optional bearer token. Returns the status code, the body and error
// fields of the received JSON response.
func makeRequest(method, uri, bearer string, obj interface{}) (s int, b, e string, err error) {
	var body *bytes.Buffer = bytes.NewBuffer(nil)
	if obj != nil {
		var pl []byte
		if pl, err = json.Marshal(obj); err != nil {
			return
		}
		body = bytes.NewBuffer(pl)
	}
	var req *http.Request
	if req, err = http.NewRequest(method, uri, body); err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json;charset=utf8")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	var resp *http.Response
	if resp, err = (&http.Client{}).Do(req); err != nil {
		return
	}
	defer resp.Body.Close()

	s = resp.StatusCode
	var v struct {
		B string `json:"body"`
		E string `json:"error"`
	}
	err = json.NewDecoder(resp.Body).Decode(&v)
	return s, v.B, v.E, err
}

// TestAPI runs the full user flow against the RESTful API: registration, login, balances, transfers, minting, the
// account listing and the transaction history.
func TestAPI(t *testing.T) {
	w, bc := newTestWallet(t, config.ModeDirect)
	go w.Init("", "3039", "", "", "")
	time.Sleep(200 * time.Millisecond) // let the server come up
	defer w.Stop()

	base := "http://localhost:3039"
	creds := func(u, p string) map[string]string { return map[string]string{"username": u, "password": p} }

	// home page needs no auth
	s, b, _, err := makeRequest(http.MethodGet, base+"/", "", nil)
	if err != nil || s != http.StatusOK || !strings.Contains(b, "virtual currency") {
		t.Errorf("[home] status:%d body:%s err:%e", s, b, err)
	}

	// register bob
	var reg struct {
		Username string `json:"username"`
		Balance  int    `json:"initial_balance"`
		TxHash   string `json:"tx_hash"`
		Token    string `json:"token"`
	}
	s, b, e, err := makeRequest(http.MethodPost, base+"/register", "", creds("bob", "hunter2"))
	if err != nil || s != http.StatusOK || e != "" {
		t.Fatalf("[register] status:%d error:%s err:%e", s, e, err)
	}
	if err = json.Unmarshal([]byte(b), &reg); err != nil {
		t.Fatalf("[register] Error unmarshaling body:%s error:%s", b, err)
	}
	if reg.Username != "bob" || reg.Token == "" {
		t.Errorf("[register] got %+v", reg)
	}
	if reg.Balance < 100 || reg.Balance > 1000 {
		t.Errorf("[register] initial balance %d out of [100,1000]", reg.Balance)
	}
	if !hashRE.MatchString(reg.TxHash) {
		t.Errorf("[register] tx hash %s", reg.TxHash)
	}
	bobToken := reg.Token

	// the funding transfer must be on chain: bob's token balance is the grant
	bob, err := w.db.GetUser("bob")
	if err != nil || !addrRE.MatchString(bob.Address) {
		t.Fatalf("[register] stored user %+v err:%e", bob, err)
	}
	_, tokBal, _ := bc.Balance(bob.Address, testContract)
	if token.FromBase(tokBal) != strconv.Itoa(reg.Balance) {
		t.Errorf("[register] funded %s tokens expected %d", token.FromBase(tokBal), reg.Balance)
	}

	// duplicate username is a conflict and reaches the chain exactly zero more times
	sent := bc.sendCount()
	s, _, e, _ = makeRequest(http.MethodPost, base+"/register", "", creds("bob", "other"))
	if s != http.StatusConflict || e != store.ErrDuplicateUser.Error() {
		t.Errorf("[register dup] status:%d error:%s", s, e)
	}
	if bc.sendCount() != sent {
		t.Errorf("[register dup] chain was touched")
	}

	// missing password
	s, _, _, _ = makeRequest(http.MethodPost, base+"/register", "", creds("carol", ""))
	if s != http.StatusBadRequest {
		t.Errorf("[register nopass] status:%d", s)
	}

	// login
	s, _, _, _ = makeRequest(http.MethodPost, base+"/login", "", creds("bob", "wrong"))
	if s != http.StatusUnauthorized {
		t.Errorf("[login wrong] status:%d", s)
	}
	s, _, _, _ = makeRequest(http.MethodPost, base+"/login", "", creds("nobody", "hunter2"))
	if s != http.StatusUnauthorized {
		t.Errorf("[login nouser] status:%d", s)
	}
	var lg struct {
		Username string `json:"username"`
		Token    string `json:"token"`
	}
	s, b, _, err = makeRequest(http.MethodPost, base+"/login", "", creds("bob", "hunter2"))
	if err != nil || s != http.StatusOK {
		t.Fatalf("[login] status:%d err:%e", s, err)
	}
	if err = json.Unmarshal([]byte(b), &lg); err != nil || lg.Token == "" {
		t.Errorf("[login] body:%s err:%e", b, err)
	}

	// balance needs auth
	s, _, _, _ = makeRequest(http.MethodGet, base+"/balance", "", nil)
	if s != http.StatusUnauthorized {
		t.Errorf("[balance noauth] status:%d", s)
	}
	var bal struct {
		EthBal string `json:"ether_balance"`
		TokBal string `json:"token_balance"`
	}
	s, b, _, err = makeRequest(http.MethodGet, base+"/balance", bobToken, nil)
	if err != nil || s != http.StatusOK {
		t.Fatalf("[balance] status:%d err:%e", s, err)
	}
	if err = json.Unmarshal([]byte(b), &bal); err != nil {
		t.Fatalf("[balance] Error unmarshaling body:%s error:%s", b, err)
	}
	if bal.EthBal != "0" || bal.TokBal != strconv.Itoa(reg.Balance) {
		t.Errorf("[balance] got %+v expected 0 ether and %d tokens", bal, reg.Balance)
	}

	// a second user to transfer to
	s, b, _, _ = makeRequest(http.MethodPost, base+"/register", "", creds("alice", "s3cret"))
	if s != http.StatusOK {
		t.Fatalf("[register alice] status:%d", s)
	}
	var regAlice struct {
		Balance int    `json:"initial_balance"`
		Token   string `json:"token"`
	}
	if err = json.Unmarshal([]byte(b), &regAlice); err != nil {
		t.Fatalf("[register alice] Error unmarshaling body:%s error:%s", b, err)
	}

	// transfer bob -> alice
	var tr struct {
		TxHash string `json:"tx_hash"`
	}
	s, b, _, err = makeRequest(http.MethodPost, base+"/transfer", bobToken, map[string]string{"to_username": "alice", "amount": "2.5"})
	if err != nil || s != http.StatusOK {
		t.Fatalf("[transfer] status:%d err:%e", s, err)
	}
	if err = json.Unmarshal([]byte(b), &tr); err != nil || !hashRE.MatchString(tr.TxHash) {
		t.Errorf("[transfer] body:%s err:%e", b, err)
	}
	alice, _ := w.db.GetUser("alice")
	_, tokBal, _ = bc.Balance(alice.Address, testContract)
	if exp := strconv.Itoa(regAlice.Balance) + ".5"; token.FromBase(tokBal) != exp {
		t.Errorf("[transfer] alice has %s tokens expected %s", token.FromBase(tokBal), exp)
	}

	// unknown recipient does not reach the chain
	sent = bc.sendCount()
	s, _, e, _ = makeRequest(http.MethodPost, base+"/transfer", bobToken, map[string]string{"to_username": "zeno", "amount": "1"})
	if s != http.StatusNotFound || e != ErrRecipientNotFound.Error() {
		t.Errorf("[transfer nouser] status:%d error:%s", s, e)
	}
	if bc.sendCount() != sent {
		t.Errorf("[transfer nouser] chain was touched")
	}

	// amounts that would lose precision are rejected, not rounded
	s, _, _, _ = makeRequest(http.MethodPost, base+"/transfer", bobToken, map[string]string{"to_username": "alice", "amount": "0.0000000000000000001"})
	if s != http.StatusBadRequest {
		t.Errorf("[transfer lossy] status:%d", s)
	}
	s, _, _, _ = makeRequest(http.MethodPost, base+"/transfer", bobToken, map[string]string{"to_username": "alice", "amount": "-1"})
	if s != http.StatusBadRequest {
		t.Errorf("[transfer negative] status:%d", s)
	}

	// minting is for admins only
	s, _, e, _ = makeRequest(http.MethodPost, base+"/mint", bobToken, map[string]string{"recipient_username": "bob", "amount": "5"})
	if s != http.StatusForbidden || e != ErrMintDenied.Error() {
		t.Errorf("[mint denied] status:%d error:%s", s, e)
	}
	s, b, _, _ = makeRequest(http.MethodPost, base+"/register", "", creds("admin", "topsecret"))
	if s != http.StatusOK {
		t.Fatalf("[register admin] status:%d", s)
	}
	var regAdmin struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal([]byte(b), &regAdmin)
	_, before, _ := bc.Balance(bob.Address, testContract)
	s, _, _, _ = makeRequest(http.MethodPost, base+"/mint", regAdmin.Token, map[string]string{"recipient_username": "bob", "amount": "5"})
	if s != http.StatusOK {
		t.Errorf("[mint] status:%d", s)
	}
	_, after, _ := bc.Balance(bob.Address, testContract)
	if new(big.Int).Sub(after, before).String() != "5000000000000000000" {
		t.Errorf("[mint] bob gained %s base units expected 5000000000000000000", new(big.Int).Sub(after, before))
	}

	// account listing shows all users
	var accs struct {
		Accounts []AccountInfo `json:"accounts"`
	}
	s, b, _, err = makeRequest(http.MethodGet, base+"/accounts", bobToken, nil)
	if err != nil || s != http.StatusOK {
		t.Fatalf("[accounts] status:%d err:%e", s, err)
	}
	if err = json.Unmarshal([]byte(b), &accs); err != nil {
		t.Fatalf("[accounts] Error unmarshaling body:%s error:%s", b, err)
	}
	if len(accs.Accounts) != 3 || accs.Accounts[0].Username != "admin" || accs.Accounts[1].Username != "alice" ||
		accs.Accounts[2].Username != "bob" {
		t.Errorf("[accounts] got %+v", accs.Accounts)
	}

	// history holds bob's fund and transfer records
	var hist struct {
		Trans []store.TxRecord `json:"transactions"`
	}
	s, b, _, err = makeRequest(http.MethodGet, base+"/history", bobToken, nil)
	if err != nil || s != http.StatusOK {
		t.Fatalf("[history] status:%d err:%e", s, err)
	}
	if err = json.Unmarshal([]byte(b), &hist); err != nil {
		t.Fatalf("[history] Error unmarshaling body:%s error:%s", b, err)
	}
	if len(hist.Trans) != 3 || hist.Trans[0].Op != "fund" || hist.Trans[1].Op != "transfer" || hist.Trans[2].Op != "mint" {
		t.Errorf("[history] got %+v", hist.Trans)
	}

	// transaction details
	s, _, e, _ = makeRequest(http.MethodGet, base+"/tx/0x123456", bobToken, nil)
	if s != http.StatusBadRequest || e != ErrNoHash.Error() {
		t.Errorf("[tx short] status:%d error:%s", s, e)
	}
	var tx types.Trans
	s, b, _, err = makeRequest(http.MethodGet, base+"/tx/"+tr.TxHash, bobToken, nil)
	if err != nil || s != http.StatusOK {
		t.Fatalf("[tx] status:%d err:%e", s, err)
	}
	if err = json.Unmarshal([]byte(b), &tx); err != nil || tx.Status != types.TrxSuccess {
		t.Errorf("[tx] body:%s err:%e", b, err)
	}
}

// TestRelayTransfer checks the approve+transferFrom pattern: the sender only signs an approval and the central
// account submits the transferFrom once the approval is mined.
func TestRelayTransfer(t *testing.T) {
	w, bc := newTestWallet(t, config.ModeRelay)

	bob, _, _, err := w.Provision("bob", "hunter2")
	if err != nil {
		t.Fatalf("Error provisioning bob:%e", err)
	}
	alice, _, _, err := w.Provision("alice", "s3cret")
	if err != nil {
		t.Fatalf("Error provisioning alice:%e", err)
	}

	sent := bc.sendCount()
	hash, err := w.Transfer(bob, "alice", "3")
	if err != nil {
		t.Fatalf("Error transferring:%e", err)
	}
	if !hashRE.MatchString(hash) {
		t.Errorf("tx hash %s", hash)
	}
	if bc.sendCount() != sent+2 {
		t.Fatalf("expected approve and transferFrom, got %d transactions", bc.sendCount()-sent)
	}
	if got := hex.EncodeToString(bc.sends[sent][:4]); got != "095ea7b3" {
		t.Errorf("first transaction method %s expected approve", got)
	}
	if got := hex.EncodeToString(bc.sends[sent+1][:4]); got != "23b872dd" {
		t.Errorf("second transaction method %s expected transferFrom", got)
	}

	_, tokBal, _ := bc.Balance(alice.Address, testContract)
	// alice holds her grant plus the 3 relayed tokens
	rec, _ := w.db.GetTrans("alice")
	if len(rec) != 1 || rec[0].Op != "fund" {
		t.Errorf("alice records %+v", rec)
	}
	grant, _ := new(big.Int).SetString(rec[0].Amount, 10)
	if new(big.Int).Sub(tokBal, grant).String() != "3000000000000000000" {
		t.Errorf("alice gained %s base units expected 3000000000000000000", new(big.Int).Sub(tokBal, grant))
	}

	// bob's audit trail has the approval and the transfer
	recs, _ := w.db.GetTrans("bob")
	ops := []string{}
	for _, r := range recs {
		ops = append(ops, r.Op)
	}
	if fmt.Sprint(ops) != "[fund approve transfer]" {
		t.Errorf("bob records %v", ops)
	}
}

// TestRelayRevertedApproval checks a reverted approval aborts the relay with no transferFrom submitted.
func TestRelayRevertedApproval(t *testing.T) {
	w, bc := newTestWallet(t, config.ModeRelay)

	bob, _, _, err := w.Provision("bob", "hunter2")
	if err != nil {
		t.Fatalf("Error provisioning bob:%e", err)
	}
	if _, _, _, err = w.Provision("alice", "s3cret"); err != nil {
		t.Fatalf("Error provisioning alice:%e", err)
	}

	bc.mu.Lock()
	bc.receipt = types.TrxFailed
	bc.mu.Unlock()

	sent := bc.sendCount()
	if _, err = w.Transfer(bob, "alice", "3"); err == nil || !strings.Contains(err.Error(), "reverted") {
		t.Errorf("Error expected reverted approval, got:%e", err)
	}
	if bc.sendCount() != sent+1 {
		t.Errorf("expected only the approval on chain, got %d transactions", bc.sendCount()-sent)
	}
}

// TestFundingFailure checks a user whose funding transaction fails is kept, with the error surfaced to the caller.
func TestFundingFailure(t *testing.T) {
	w, bc := newTestWallet(t, config.ModeDirect)
	bc.failSend = true

	_, _, _, err := w.Provision("bob", "hunter2")
	if err == nil || !strings.Contains(err.Error(), "funding failed") {
		t.Fatalf("Error expected funding failure, got:%e", err)
	}
	if !errors.Is(err, ErrChain) {
		t.Errorf("funding failure should carry the chain tag, got:%e", err)
	}
	// the account exists and can log in, just unfunded
	if _, _, err = w.Login("bob", "hunter2"); err != nil {
		t.Errorf("Error logging in unfunded user:%e", err)
	}
}

// TestConcurrentProvision checks concurrent registrations never share a derivation index or address.
func TestConcurrentProvision(t *testing.T) {
	w, _ := newTestWallet(t, config.ModeDirect)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, _, _, err := w.Provision(fmt.Sprintf("user%02d", i), "pass"); err != nil {
				t.Errorf("Error provisioning user%02d:%e", i, err)
			}
		}(i)
	}
	wg.Wait()

	users, err := w.db.ListUsers()
	if err != nil || len(users) != 10 {
		t.Fatalf("ListUsers got %d users err:%e", len(users), err)
	}
	addrs := map[string]bool{}
	idxs := map[uint32]bool{}
	for _, u := range users {
		if addrs[u.Address] || idxs[u.Index] {
			t.Errorf("user %s shares address %s or index %d", u.Username, u.Address, u.Index)
		}
		addrs[u.Address] = true
		idxs[u.Index] = true
	}
}

// TestTokenRoundTrip checks issued auth tokens validate back to the issuing username and that forgeries do not.
func TestTokenRoundTrip(t *testing.T) {
	w, _ := newTestWallet(t, config.ModeDirect)

	tok, err := w.issueToken("bob")
	if err != nil {
		t.Fatalf("Error issuing token:%e", err)
	}
	username, err := w.validateToken(tok)
	if err != nil || username != "bob" {
		t.Errorf("validateToken got %s err:%e", username, err)
	}

	other, _ := newTestWallet(t, config.ModeDirect)
	other.jwtKey = []byte("another-secret")
	forged, _ := other.issueToken("bob")
	if _, err = w.validateToken(forged); err == nil {
		t.Errorf("token signed with another key validated")
	}
}
