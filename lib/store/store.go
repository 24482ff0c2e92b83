// Package store defines the interface for database implementations to the wallet and auditor services.
package store

import (
	"errors"
)

// DB defines required methods for the wallet and auditor services.
type DB interface {
	// user records
	AddUser(User) error
	GetUser(username string) (User, error)
	ListUsers() ([]User, error)
	// NextAccountIndex allocates a fresh HD derivation index. The counter only ever moves forward, so two
	// concurrent provisions can never derive the same keypair.
	NextAccountIndex() (uint32, error)
	// transaction audit trail
	SaveTrans(TxRecord) error
	GetTrans(username string) ([]TxRecord, error)
	SetTransStatus(hash string, status uint8) error
}

// Errors returned
var (
	ErrDuplicateUser = errors.New("username already exists")
	ErrUserNotFound  = errors.New("user was not found in store")
	ErrTransNotFound = errors.New("transaction was not found in store")
)
