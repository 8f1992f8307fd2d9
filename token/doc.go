// Package token deploys and verifies consent-token contracts.
//
// One contract is deployed per (user, scope name). Its record is persisted publicly at
// data/<scope>/consent-token.json in the user's pod before the sale is enabled, so a
// deployment is never lost once broadcast. A record whose deployment is still pending is
// reconciled against the ledger on the next call instead of being redeployed; only a
// deployment the ledger reports as failed is replaced.
//
// Holding a token is proof that the user granted the counterparty access. Tokens are not
// recalled when consent is withdrawn.
package token
