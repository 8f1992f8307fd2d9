// Package kms seals wallet signing keys before they are persisted.
//
// A single master key is configured for the process, either as a hex seed or derived
// from a passphrase with argon2id. Per-user sealing keys are derived from the master key
// with HKDF-SHA256 bound to the user identity, and keys are sealed with
// XChaCha20-Poly1305 using the identity as associated data, so a sealed key copied into
// another user's pod does not open.
//
// Sealed format:
//
//	[24-byte nonce][ciphertext || 16-byte tag]
//
// The master key never leaves the process and is never written to storage.
package kms
