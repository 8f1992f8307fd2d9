package storage

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/pod-consent-gateway/interfaces"
)

// VaultSecretStore keeps secrets in a HashiCorp Vault KV v2 mount.
// Each location is stored under the hex SHA-256 of its URL.
type VaultSecretStore struct {
	client    *api.Client
	mountPath string
	dataPath  string
	log       *slog.Logger
}

// NewVaultSecretStore creates a Vault secret store.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: Path within the mount (e.g. "wallets")
//   - token: Vault token, may be empty when a client certificate is used
//   - clientCert: optional TLS client certificate for cert auth
//   - log: Structured logger for operational insights
func NewVaultSecretStore(address, mountPath, dataPath, token string, clientCert *tls.Certificate, log *slog.Logger) (*VaultSecretStore, error) {
	config := api.DefaultConfig()
	config.Address = address

	if clientCert != nil {
		config.HttpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					Certificates: []tls.Certificate{*clientCert},
				},
			},
			Timeout: 30 * time.Second,
		}
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	return &VaultSecretStore{
		client:    client,
		mountPath: strings.Trim(mountPath, "/"),
		dataPath:  strings.Trim(dataPath, "/"),
		log:       log,
	}, nil
}

func (b *VaultSecretStore) secretPath(location string) string {
	sum := sha256.Sum256([]byte(location))
	id := hex.EncodeToString(sum[:])
	if b.dataPath == "" {
		return fmt.Sprintf("%s/data/%s", b.mountPath, id)
	}
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, id)
}

// WriteSecret stores the secret.
func (b *VaultSecretStore) WriteSecret(ctx context.Context, location string, secret []byte) error {
	start := time.Now()
	path := b.secretPath(location)

	_, err := b.client.Logical().WriteWithContext(ctx, path, map[string]any{
		"data": map[string]any{
			"content":  base64.StdEncoding.EncodeToString(secret),
			"location": location,
		},
	})
	if err != nil {
		b.log.Error("Failed to write to Vault",
			slog.String("path", path),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored secret in Vault",
		slog.String("path", path),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// ReadSecret returns the secret, or ErrResourceNotFound.
func (b *VaultSecretStore) ReadSecret(ctx context.Context, location string) ([]byte, error) {
	path := b.secretPath(location)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", path),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrResourceNotFound
	}

	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, interfaces.ErrResourceNotFound
	}
	content, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid secret format at %s", path)
	}

	decoded, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode secret: %w", err)
	}
	return decoded, nil
}

// Available checks if the Vault server is initialized and unsealed.
func (b *VaultSecretStore) Available(ctx context.Context) bool {
	health, err := b.client.Sys().HealthWithContext(ctx)
	if err != nil {
		b.log.Warn("Vault unavailable", "err", err)
		return false
	}
	return health.Initialized && !health.Sealed
}
