// Package main (cmd/consentd) runs the pod consent gateway.
//
// The server brokers third-party access to data held in users' pods. Access is granted only
// for counterparties the user consented to, and every grant is backed by a consent token on an
// EVM ledger. Identities are asserted by an authenticating proxy in the --user-header header.
//
// Wallet keys are sealed with a master key given as hex (--master-key, CONSENT_MASTER_KEY) or
// derived from a passphrase and salt. Keys and pod resources are stored through URIs; see
// storage.StoreFactory for the supported schemes.
//
// Example usage against a local node:
//
//	consentd --rpc-addr=http://localhost:8545 \
//	    --store=https://pods.example.com/ \
//	    --secrets=vault://vault.internal:8200/secret/consent \
//	    --publisher=ipfs://127.0.0.1:5001/?gateway=https://ipfs.io \
//	    --templates=ledger/templates.yaml
//
// Example usage for development, with an in-process chain and memory pods:
//
//	CONSENT_MASTER_KEY=$(openssl rand -hex 32) consentd --rpc-addr=mem --store=mem://pods/
package main
