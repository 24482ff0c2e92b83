// Package types common blockchain types.
package types

import (
	"errors"
)

// Transaction status constants
const (
	TrxPending uint8 = 0
	TrxFailed  uint8 = 1
	TrxSuccess uint8 = 2
)

// Trans contains a simplified number of transaction fields, enough for the wallet API and the audit trail.
type Trans struct {
	Block  uint64 `json:"block,omitempty"`
	Hash   string `json:"hash"`
	From   string `json:"from"`
	To     string `json:"to"`
	Token  string `json:"token,omitempty"`
	Value  string `json:"value"`
	Data   string `json:"data,omitempty"`
	Fee    uint64 `json:"fee"`
	Status uint8  `json:"status"`
	TS     int32  `json:"ts"`
}

// ErrTimeout is returned when a transaction receipt does not arrive within the configured wait.
var ErrTimeout = errors.New("timed out waiting for transaction receipt")
