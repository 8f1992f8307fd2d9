// Package gateway decides whether a requester may access a scope of a user's pod and
// realizes the decision.
//
// A grant runs, in order: preference check, wallet provisioning, consent-token issuance,
// optional mint for the requester, ACL grant on the scope container, grant record. A later
// step never runs when an earlier one fails, and an expired context stops the sequence
// before the next side effect. Withdrawn consent is applied lazily: the next Authorize
// that finds ThirdParty=false removes the ACL entry and marks the grant revoked. Minted
// tokens remain with their holders.
package gateway
