// Package common contains process-wide helpers shared by the binaries.
package common

var (
	// PackageName is used as the metrics namespace and log service default.
	PackageName = "pod_consent_gateway"

	// Version is set at build time with -ldflags "-X .../common.Version=...".
	Version = "dev"
)
