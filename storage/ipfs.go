package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/pod-consent-gateway/interfaces"
)

// IPFSPublisher publishes metadata documents to IPFS.
// The returned URI is "ipfs://<cid>", or a gateway URL when a gateway is configured.
type IPFSPublisher struct {
	shell   *shell.Shell
	apiURL  string
	gateway string
	log     *slog.Logger
}

// NewIPFSPublisher creates a publisher talking to the IPFS API at host:port.
func NewIPFSPublisher(host, port, gateway string, timeout time.Duration, log *slog.Logger) *IPFSPublisher {
	apiURL := fmt.Sprintf("%s:%s", host, port)
	sh := shell.NewShell(apiURL)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}

	return &IPFSPublisher{
		shell:   sh,
		apiURL:  apiURL,
		gateway: strings.TrimSuffix(gateway, "/"),
		log:     log,
	}
}

// Publish adds data to IPFS and returns its URI. location is kept for logging only;
// content addressing decides the final URI.
func (b *IPFSPublisher) Publish(ctx context.Context, location string, data []byte) (string, error) {
	start := time.Now()

	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unavailable", slog.String("api", b.apiURL))
		return "", interfaces.ErrBackendUnavailable
	}

	cid, err := b.shell.Add(bytes.NewReader(data), shell.Pin(true))
	if err != nil {
		b.log.Error("Failed to add data to IPFS",
			slog.String("location", location),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return "", fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Published metadata to IPFS",
		slog.String("location", location),
		slog.String("cid", cid),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	if b.gateway != "" {
		return b.gateway + "/ipfs/" + cid, nil
	}
	return "ipfs://" + cid, nil
}
