package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/pod-consent-gateway/interfaces"
)

// PodSecretStore keeps secrets as owner-only resources in the user's pod.
type PodSecretStore struct {
	store interfaces.ResourceStore
	log   *slog.Logger
}

// NewPodSecretStore creates a secret store writing through store.
func NewPodSecretStore(store interfaces.ResourceStore, log *slog.Logger) *PodSecretStore {
	return &PodSecretStore{store: store, log: log}
}

// WriteSecret writes the secret and removes any public access from it.
func (s *PodSecretStore) WriteSecret(ctx context.Context, location string, secret []byte) error {
	if _, err := s.store.Write(ctx, location, secret, "application/octet-stream"); err != nil {
		return fmt.Errorf("failed to write secret: %w", err)
	}

	access, err := s.store.SetAccess(ctx, location, interfaces.Private())
	if err != nil {
		return fmt.Errorf("failed to restrict secret: %w", err)
	}
	if len(access.Agents) > 0 {
		s.log.Warn("Secret resource has agent grants",
			slog.String("location", location),
			slog.Int("agents", len(access.Agents)))
	}
	return nil
}

// ReadSecret returns the secret bytes.
func (s *PodSecretStore) ReadSecret(ctx context.Context, location string) ([]byte, error) {
	return s.store.Read(ctx, location)
}

// PodPublisher publishes documents as world-readable pod resources.
type PodPublisher struct {
	store interfaces.ResourceStore
}

// NewPodPublisher creates a publisher writing through store.
func NewPodPublisher(store interfaces.ResourceStore) *PodPublisher {
	return &PodPublisher{store: store}
}

// Publish writes data at location and makes it public-read.
func (p *PodPublisher) Publish(ctx context.Context, location string, data []byte) (string, error) {
	uri, err := p.store.Write(ctx, location, data, "application/json")
	if err != nil {
		return "", fmt.Errorf("failed to publish metadata: %w", err)
	}
	if _, err := p.store.SetAccess(ctx, location, interfaces.PublicRead()); err != nil {
		return "", fmt.Errorf("failed to make metadata public: %w", err)
	}
	return uri, nil
}
