// Package interfaces defines the core interfaces and types for the pod consent gateway.
//
// The package separates the contracts between components from their implementations so
// that the consent engine can be exercised against in-memory adapters in tests and against
// real pods, object stores and an EVM ledger in production.
//
// # Adapter Interfaces
//
//   - ResourceStore: URL-addressed resources in a personal data store with per-resource
//     access control (public and agent-specific read/write/append)
//   - SecretStore: owner-only storage for sealed wallet keys
//   - MetadataPublisher: publishes token metadata at a public location
//   - IdentityProvider: resolves the authenticated caller and its fetch capability
//   - Ledger: accounts, balances, nonces, signed transactions and consent-token contracts
//
// # Domain Types
//
//   - UserIdentity: stable WebID-like identifier of a person or counterparty
//   - DataScope: named category of data tied to a counterparty
//   - ConsentFlags / PreferenceRecord: per-(user, counterparty) sharing preferences
//   - WalletHandle: a user's ledger address (never the key)
//   - TokenRecord / TokenMetadata: the deployed consent-token contract for a (user, scope)
//   - GrantRecord: the realized ACL grant for a (user, scope, counterparty)
//   - Decision: the outcome of an authorization request and its reason
//
// # Error Types
//
// Errors are sentinels wrapped in *OpError, which carries the operation and entity that
// failed so that callers can tell policy denials, retryable faults and fatal faults apart:
//
//	if errors.Is(err, interfaces.ErrTransactionSubmissionFailed) {
//	    // safe to retry with a fresh nonce
//	}
//
// Policy denials are never errors; they are returned as a Decision.
package interfaces
