// Package storage provides the Resource Store Adapters of the consent gateway: URL-addressed
// pod storage with per-resource access control, owner-only secret storage, and public
// metadata publishing.
//
// # Resource Stores
//
// Resource stores are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - mem://pods/ - In-memory store for development and tests
//   - file:///var/lib/pods/ - Local filesystem, one directory tree per pod
//   - s3://bucket-name/prefix/?region=us-west-2&endpoint=custom.s3.com - S3 or compatible
//   - https://pods.example.com/ - Solid-style HTTP pod server (LDP containers, WAC ACLs)
//
// Every store signals absence only through interfaces.ErrResourceNotFound. Transient
// failures are reported as interfaces.ErrBackendUnavailable so that callers never mistake
// an unreachable resource for a missing one.
//
// # Access Control
//
// Access rules follow the Solid convention of a ".acl" companion resource:
//
//   - file and s3 stores keep a JSON document at "<resource>.acl"; S3 objects additionally
//     get the canned "public-read" ACL when made public
//   - the HTTP pod store writes a Web Access Control Turtle document to "<resource>.acl"
//
// Companion ".acl" resources are never listed.
//
// # Secret Stores
//
//   - pod - Secrets stored in the user's pod with no public or agent access
//   - vault://vault.example.com:8200/secret/wallets - HashiCorp Vault KV v2
//
// # Metadata Publishers
//
//   - pod - Documents written to the pod and made world-readable
//   - ipfs://ipfs.example.com:5001/?gateway=https://ipfs.io - Content added to IPFS
//
// # Pod Layout
//
// Layout maps a user identity and a logical entity (preference, wallet, scope, token)
// to a resource URL below the configured base.
package storage
