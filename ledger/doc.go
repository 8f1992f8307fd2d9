// Package ledger implements the token ledger used by the consent gateway.
//
// EthereumLedger talks to any EVM JSON-RPC node through go-ethereum: it creates accounts,
// signs EIP-1559 transactions, deploys consent-token contracts from a template Catalog and
// reads their sale state and ownership.
//
// MemoryLedger is an in-process chain with the same semantics, used for development and
// tests. It mines instantly unless manual mining is enabled, and supports fault injection.
//
// MockLedger is a testify mock of interfaces.Ledger.
package ledger
