/*
Package httpserver serves the JSON API of the consent gateway consumed by the presentation layer.

Every /api route resolves the caller through an interfaces.IdentityProvider. Routes that act
on the caller's pod reject unauthenticated requests with 401; the token audit routes are public.

# API Endpoints

  - GET /api/preferences - List the caller's consent preferences
  - GET /api/preferences/counterparty?id={counterparty} - Get one preference (default deny if unset)
  - PUT /api/preferences - Set the flags for a counterparty
  - POST /api/authorize - Decide whether the caller may access a scope of a user
  - GET /api/wallet - Ensure the caller's wallet and show its address and live balance
  - GET /api/wallet/balance - Live balance of an existing wallet
  - POST /api/wallet/transfer - Transfer value from the caller's wallet
  - GET /api/wallet/transactions - Reconcile and list tracked transactions
  - POST /api/tokens - Issue the consent token of a scope of the caller
  - POST /api/tokens/mint - Mint a token of a contract for the caller
  - GET /api/tokens/record?user={user}&scope={scope} - Public consent-token record
  - GET /api/tokens/{contract}/owners - Distinct holders of a consent token
  - GET /api/grants?scope={scope}&counterparty={counterparty} - Grant record of the caller
  - DELETE /api/grants?scope={scope}&counterparty={counterparty} - Revoke a grant of the caller

# Health Endpoints

  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

# Errors

Failures are returned as

	{"request_id": "...", "error": {"code": "...", "message": "..."}}

with the status derived from the error kind: 401 unauthenticated, 400 invalid input,
404 unknown wallet, token or grant, 409 closed sale or exhausted supply, 503 storage or ledger
unavailable, 502 ledger submission or deployment failure, 504 deadline exceeded. A policy denial
from /api/authorize is a 200 response carrying the decision.
*/
package httpserver
