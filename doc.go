// Package vcw and its sub-packages implement the backend services of a demo virtual currency built on an ERC20 token
// contract.
/*
vcw provides you with two microservices:

1) a wallet microservice (package wallet) that implements a RESTful API for user requests such as registering an
 account, checking balances, transferring tokens to other users and minting new tokens.

2) an auditor microservice (package auditor) that settles the final on-chain status of the transactions submitted by
 the wallet.

Architecture

Every user gets a blockchain account derived from a hierarchical deterministic wallet (HD wallet) at registration,
funded with a random grant of tokens from a central account. Users authenticate with a username and password and
receive a JWT bearer token for the rest of the API. Token transfers are submitted to an ERC20-style contract either
directly, signed by the sender, or relayed through the central account with an approve and transferFrom pair so users
do not spend their own gas.

The wallet and auditor services communicate via a message broker. The wallet publishes an event for every transaction
it submits and replies to the user without waiting for the transaction to be mined. The auditor consumes these events,
waits for each receipt and updates the persisted transaction record with the confirmed or failed status. The message
broker is implemented as a product agnostic layer (package lib/msg) and is configured via a JSON config file at
service startup.

Both wallet and auditor share a database used for persistence of users and transaction records. Its layered
implementation (package lib/store) provides a database product agnostic interface.

A blockchain layer (package lib/chain) provides basic functionality to request balances, send raw transactions and
wait for receipts. The transaction call data for the token contract is built by package lib/token. Both services
connect to the blockchain node indicated in the JSON config file provided at startup.

Depending on workload and resources, one or more instances of the microservices can be orchestrated in order to
provide the required service level to the users.

The wallet can also be monitored via a Prometheus API by setting the flag "-m" at startup.

Wallet

The wallet microservice (package wallet) can be started running cmd/wallet/main.go. The wallet exposes an HTTP RESTful
API that can be used by multiple clients. The API provides registration, login, balances, token transfers, admin
minting, the list of all accounts and each user's transaction history.

Auditor

The auditor microservice (package auditor) can be started running cmd/auditor/main.go. The auditor consumes the
transaction events published by the wallet, waits for each transaction to be mined and settles its status in the
database, so the history users read reflects what actually happened on chain.

*/
package vcw
