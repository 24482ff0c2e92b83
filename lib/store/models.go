package store

import "time"

// User contains the fields of a user record. Address and Key are set together when the account is provisioned and
// never change afterwards; Index is the HD derivation index the keypair came from.
type User struct {
	Username string    `json:"username" bson:"username"`
	PassHash string    `json:"-" bson:"passhash"`
	Address  string    `json:"address" bson:"address"`
	Key      string    `json:"-" bson:"key"`
	Index    uint32    `json:"-" bson:"index"`
	Created  time.Time `json:"created" bson:"created"`
}

// TxRecord is a persisted entry of the transaction audit trail. Status starts out pending and is confirmed or failed
// by the auditor service once the receipt is available.
type TxRecord struct {
	Hash     string    `json:"hash" bson:"hash"`
	Op       string    `json:"op" bson:"op"` // fund, transfer, approve, mint
	Username string    `json:"username" bson:"username"`
	From     string    `json:"from" bson:"from"`
	To       string    `json:"to" bson:"to"`
	Amount   string    `json:"amount" bson:"amount"` // base units, decimal string
	Status   uint8     `json:"status" bson:"status"`
	Created  time.Time `json:"created" bson:"created"`
}
