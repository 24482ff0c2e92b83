// Package postgres implements the store interface for PostgreSQL.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/tarancss/vcw/lib/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	passhash TEXT NOT NULL,
	address  TEXT NOT NULL UNIQUE,
	key      TEXT NOT NULL,
	idx      BIGINT NOT NULL,
	created  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS trans (
	hash     TEXT PRIMARY KEY,
	op       TEXT NOT NULL,
	username TEXT NOT NULL,
	origin   TEXT NOT NULL,
	dest     TEXT NOT NULL,
	amount   TEXT NOT NULL,
	status   SMALLINT NOT NULL,
	created  TIMESTAMPTZ NOT NULL
);
CREATE SEQUENCE IF NOT EXISTS account_index;`

// uniqueViolation is the PostgreSQL error code for a unique constraint violation.
const uniqueViolation = "23505"

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection' and ensures the schema.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	if _, err = db.Exec(schema); err != nil {
		return nil, fmt.Errorf("cannot ensure schema: %w", err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// AddUser saves a user record if the username does not already exist.
func (p *Postgres) AddUser(u store.User) error {
	_, err := p.db.Exec(`INSERT INTO users (username, passhash, address, key, idx, created)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.Username, u.PassHash, u.Address, u.Key, int64(u.Index), u.Created)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return store.ErrDuplicateUser
	}
	if err != nil {
		return fmt.Errorf("could not insert user in db: %w", err)
	}
	return nil
}

// GetUser returns the user record for the given username (exact, case-sensitive match).
func (p *Postgres) GetUser(username string) (store.User, error) {
	var u store.User
	var idx int64

	err := p.db.QueryRow(`SELECT username, passhash, address, key, idx, created FROM users
		WHERE username = $1`, username).
		Scan(&u.Username, &u.PassHash, &u.Address, &u.Key, &idx, &u.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return u, store.ErrUserNotFound
	}
	if err != nil {
		return u, fmt.Errorf("could not get user from db: %w", err)
	}
	u.Index = uint32(idx)
	return u, nil
}

// ListUsers returns all user records ordered by username.
func (p *Postgres) ListUsers() ([]store.User, error) {
	rows, err := p.db.Query(`SELECT username, passhash, address, key, idx, created FROM users
		ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("could not list users from db: %w", err)
	}
	defer rows.Close()

	users := []store.User{}
	for rows.Next() {
		var u store.User
		var idx int64
		if err = rows.Scan(&u.Username, &u.PassHash, &u.Address, &u.Key, &idx, &u.Created); err != nil {
			return nil, fmt.Errorf("could not scan user row: %w", err)
		}
		u.Index = uint32(idx)
		users = append(users, u)
	}
	return users, rows.Err()
}

// NextAccountIndex allocates the next HD derivation index from a database sequence.
func (p *Postgres) NextAccountIndex() (uint32, error) {
	var seq int64
	if err := p.db.QueryRow(`SELECT nextval('account_index')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("could not allocate account index: %w", err)
	}
	return uint32(seq), nil
}

// SaveTrans persists a transaction record of the audit trail.
func (p *Postgres) SaveTrans(t store.TxRecord) error {
	_, err := p.db.Exec(`INSERT INTO trans (hash, op, username, origin, dest, amount, status, created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (hash) DO NOTHING`,
		t.Hash, t.Op, t.Username, t.From, t.To, t.Amount, int16(t.Status), t.Created)
	if err != nil {
		return fmt.Errorf("could not insert transaction in db: %w", err)
	}
	return nil
}

// GetTrans returns the transaction records involving the given username, oldest first.
func (p *Postgres) GetTrans(username string) ([]store.TxRecord, error) {
	rows, err := p.db.Query(`SELECT hash, op, username, origin, dest, amount, status, created FROM trans
		WHERE username = $1 ORDER BY created`, username)
	if err != nil {
		return nil, fmt.Errorf("could not get transactions from db: %w", err)
	}
	defer rows.Close()

	txs := []store.TxRecord{}
	for rows.Next() {
		var t store.TxRecord
		var status int16
		if err = rows.Scan(&t.Hash, &t.Op, &t.Username, &t.From, &t.To, &t.Amount, &status, &t.Created); err != nil {
			return nil, fmt.Errorf("could not scan transaction row: %w", err)
		}
		t.Status = uint8(status)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// SetTransStatus updates the status of a recorded transaction once its receipt is known.
func (p *Postgres) SetTransStatus(hash string, status uint8) error {
	res, err := p.db.Exec(`UPDATE trans SET status = $1 WHERE hash = $2`, int16(status), hash)
	if err != nil {
		return fmt.Errorf("could not update transaction in db: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrTransNotFound
	}
	return nil
}
