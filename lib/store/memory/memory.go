// Package memory implements a volatile, mutex-guarded store used by tests and local development. Nothing survives a
// restart, so it is never a deployment choice.
package memory

import (
	"sort"
	"sync"

	"github.com/tarancss/vcw/lib/store"
)

// Memory implements store.DB on in-process maps.
type Memory struct {
	mu    sync.Mutex
	users map[string]store.User
	trans []store.TxRecord
	seq   uint32
}

// New returns an empty in-memory store.
func New() *Memory {
	return &Memory{users: make(map[string]store.User)}
}

// AddUser saves a user record if the username does not already exist.
func (m *Memory) AddUser(u store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Username]; ok {
		return store.ErrDuplicateUser
	}
	m.users[u.Username] = u
	return nil
}

// GetUser returns the user record for the given username.
func (m *Memory) GetUser(username string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return store.User{}, store.ErrUserNotFound
	}
	return u, nil
}

// ListUsers returns all user records ordered by username.
func (m *Memory) ListUsers() ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]store.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// NextAccountIndex allocates the next HD derivation index.
func (m *Memory) NextAccountIndex() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq, nil
}

// SaveTrans persists a transaction record of the audit trail.
func (m *Memory) SaveTrans(t store.TxRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, have := range m.trans {
		if have.Hash == t.Hash {
			return nil
		}
	}
	m.trans = append(m.trans, t)
	return nil
}

// GetTrans returns the transaction records involving the given username, oldest first.
func (m *Memory) GetTrans(username string) ([]store.TxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txs := []store.TxRecord{}
	for _, t := range m.trans {
		if t.Username == username {
			txs = append(txs, t)
		}
	}
	return txs, nil
}

// SetTransStatus updates the status of a recorded transaction.
func (m *Memory) SetTransStatus(hash string, status uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.trans {
		if m.trans[i].Hash == hash {
			m.trans[i].Status = status
			return nil
		}
	}
	return store.ErrTransNotFound
}
