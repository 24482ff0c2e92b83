// Package msg defines the interface for different message brokers carrying transaction events.
package msg

import (
	"sync"
	"time"
)

// TxEvent is published by the wallet service for every transaction it broadcasts and consumed by the auditor, which
// tracks the receipt and settles the persisted record.
type TxEvent struct {
	Op       string    `json:"op"` // fund, transfer, approve, mint
	Username string    `json:"username"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Amount   string    `json:"amount"` // base units, decimal string
	Hash     string    `json:"hash"`
	TS       time.Time `json:"ts"`
}

type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	// method for the wallet service
	SendTxEvent(e TxEvent) error

	// method for the auditor service
	GetTxEvents(mut *sync.Mutex) (<-chan TxEvent, <-chan error, error)
}
