package storage

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/pod-consent-gateway/interfaces"
)

// BasedStore is a ResourceStore that serves URLs below a known base.
type BasedStore interface {
	interfaces.ResourceStore
	Base() string
}

// StoreFactory creates resource stores, secret stores and metadata publishers from URIs.
type StoreFactory struct {
	log        *slog.Logger
	httpClient *http.Client
	vaultToken string
	vaultCert  *tls.Certificate
}

// NewStoreFactory creates a new factory instance.
func NewStoreFactory(logger *slog.Logger) *StoreFactory {
	return &StoreFactory{log: logger}
}

// WithHTTPClient sets the fallback client of HTTP pod stores.
func (sf *StoreFactory) WithHTTPClient(client *http.Client) *StoreFactory {
	sf.httpClient = client
	return sf
}

// WithVaultAuth sets the credentials of Vault secret stores.
func (sf *StoreFactory) WithVaultAuth(token string, cert *tls.Certificate) *StoreFactory {
	sf.vaultToken = token
	sf.vaultCert = cert
	return sf
}

// ResourceStoreFor creates a resource store from a location URI.
//
// Supported schemes:
//   - mem://name/ - In-memory store
//   - file:///absolute/path/ - Local filesystem
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix/?region=us-west-2&endpoint=custom.s3.com
//   - http(s)://pods.example.com/ - HTTP pod server
func (sf *StoreFactory) ResourceStoreFor(uri string) (BasedStore, error) {
	loc, err := interfaces.NewStoreLocation(uri)
	if err != nil {
		return nil, err
	}

	switch loc.Scheme {
	case "mem":
		return NewMemoryStore(uri, sf.log), nil
	case "file":
		return sf.createFileStore(loc)
	case "s3":
		return sf.createS3Store(loc)
	case "http", "https":
		return NewPodStore(uri, sf.httpClient, sf.log)
	default:
		return nil, fmt.Errorf("%w: scheme %q is not a resource store", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// SecretStoreFor creates a secret store from a location URI.
//
// Supported schemes:
//   - pod: - Secrets kept owner-only in the resource store
//   - vault://vault.example.com:8200/mount/path?tls=true
func (sf *StoreFactory) SecretStoreFor(uri string, resources interfaces.ResourceStore) (interfaces.SecretStore, error) {
	loc, err := interfaces.NewStoreLocation(uri)
	if err != nil {
		return nil, err
	}

	switch loc.Scheme {
	case "pod":
		return NewPodSecretStore(resources, sf.log), nil
	case "vault":
		return sf.createVaultStore(loc)
	default:
		return nil, fmt.Errorf("%w: scheme %q is not a secret store", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// PublisherFor creates a metadata publisher from a location URI.
//
// Supported schemes:
//   - pod: - Public resources in the user's pod
//   - ipfs://host:port/?gateway=https://ipfs.io&timeout=30s
func (sf *StoreFactory) PublisherFor(uri string, resources interfaces.ResourceStore) (interfaces.MetadataPublisher, error) {
	loc, err := interfaces.NewStoreLocation(uri)
	if err != nil {
		return nil, err
	}

	switch loc.Scheme {
	case "pod":
		return NewPodPublisher(resources), nil
	case "ipfs":
		return sf.createIPFSPublisher(loc)
	default:
		return nil, fmt.Errorf("%w: scheme %q is not a publisher", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// createFileStore creates a file system resource store.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *StoreFactory) createFileStore(loc interfaces.StoreLocation) (BasedStore, error) {
	sf.log.Debug("Creating file store", slog.String("uri", loc.String()))

	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %s", interfaces.ErrInvalidLocationURI, loc.String())
	}

	return NewFileStore(path, sf.log)
}

// createS3Store creates an S3 or S3-compatible resource store.
func (sf *StoreFactory) createS3Store(loc interfaces.StoreLocation) (BasedStore, error) {
	sf.log.Debug("Creating S3 store", slog.String("bucket", loc.Host))

	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing bucket in %s", interfaces.ErrInvalidLocationURI, loc.String())
	}

	region := loc.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if loc.Auth != nil {
		accessKey = loc.Auth.Username()
		secretKey, _ = loc.Auth.Password()
	}

	return NewS3Store(loc.Host, strings.TrimPrefix(loc.Path, "/"), region, loc.GetParam("endpoint"), accessKey, secretKey, sf.log)
}

// createVaultStore creates a Vault KV v2 secret store.
// URI format: vault://host:port/mount/path[?tls=false]
func (sf *StoreFactory) createVaultStore(loc interfaces.StoreLocation) (interfaces.SecretStore, error) {
	sf.log.Debug("Creating Vault secret store", slog.String("host", loc.Host))

	parts := strings.SplitN(strings.Trim(loc.Path, "/"), "/", 2)
	if loc.Host == "" || parts[0] == "" {
		return nil, fmt.Errorf("%w: expected vault://host:port/mount[/path]", interfaces.ErrInvalidLocationURI)
	}
	dataPath := ""
	if len(parts) == 2 {
		dataPath = parts[1]
	}

	scheme := "https"
	if loc.GetParam("tls") == "false" {
		scheme = "http"
	}

	return NewVaultSecretStore(scheme+"://"+loc.Host, parts[0], dataPath, sf.vaultToken, sf.vaultCert, sf.log)
}

// createIPFSPublisher creates an IPFS metadata publisher.
func (sf *StoreFactory) createIPFSPublisher(loc interfaces.StoreLocation) (interfaces.MetadataPublisher, error) {
	sf.log.Debug("Creating IPFS publisher", slog.String("host", loc.Host))

	host, port, found := strings.Cut(loc.Host, ":")
	if host == "" {
		return nil, fmt.Errorf("%w: missing IPFS host", interfaces.ErrInvalidLocationURI)
	}
	if !found || port == "" {
		port = "5001"
	}

	timeout := 30 * time.Second
	if raw := loc.GetParam("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timeout %q", interfaces.ErrInvalidLocationURI, raw)
		}
		timeout = parsed
	}

	return NewIPFSPublisher(host, port, loc.GetParam("gateway"), timeout, sf.log), nil
}
