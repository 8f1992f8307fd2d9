package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ruteri/pod-consent-gateway/identity"
	"github.com/ruteri/pod-consent-gateway/interfaces"
)

const ldpContains = "http://www.w3.org/ns/ldp#contains"

// PodStore implements a ResourceStore against a Solid-style HTTP pod server.
// Requests use the caller's authenticated client from the context (identity.WithFetch)
// and fall back to the store's own client.
type PodStore struct {
	base   string
	client *http.Client
	log    *slog.Logger
}

// NewPodStore creates a pod store for resources below base.
func NewPodStore(base string, client *http.Client, log *slog.Logger) (*PodStore, error) {
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrInvalidLocationURI, base)
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &PodStore{base: base, client: client, log: log}, nil
}

// Base returns the URL prefix this store serves.
func (p *PodStore) Base() string {
	return p.base
}

// Name returns identifier for logging.
func (p *PodStore) Name() string {
	return "pod-" + p.base
}

func (p *PodStore) fetch(ctx context.Context) *http.Client {
	if client := identity.FetchFromContext(ctx); client != nil {
		return client
	}
	return p.client
}

func (p *PodStore) checkURL(resourceURL string) error {
	if !strings.HasPrefix(resourceURL, p.base) {
		return fmt.Errorf("%w: %s", interfaces.ErrResourceOutsideStore, resourceURL)
	}
	return nil
}

func (p *PodStore) do(ctx context.Context, method, resourceURL string, body []byte, header http.Header) (*http.Response, error) {
	if err := p.checkURL(resourceURL); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, resourceURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := p.fetch(ctx).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return resp, nil
}

func statusError(method, resourceURL string, status int) error {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return interfaces.ErrResourceNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s returned %d", interfaces.ErrAccessForbidden, method, resourceURL, status)
	default:
		return fmt.Errorf("%w: %s %s returned %d", interfaces.ErrBackendUnavailable, method, resourceURL, status)
	}
}

func (p *PodStore) get(ctx context.Context, resourceURL, accept string) ([]byte, error) {
	resp, err := p.do(ctx, http.MethodGet, resourceURL, nil, http.Header{"Accept": {accept}})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(http.MethodGet, resourceURL, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", interfaces.ErrBackendUnavailable, err)
	}
	return data, nil
}

func (p *PodStore) put(ctx context.Context, resourceURL string, data []byte, contentType string) error {
	resp, err := p.do(ctx, http.MethodPut, resourceURL, data, http.Header{"Content-Type": {contentType}})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusResetContent:
		return nil
	}
	return statusError(http.MethodPut, resourceURL, resp.StatusCode)
}

// Read GETs the resource.
func (p *PodStore) Read(ctx context.Context, resourceURL string) ([]byte, error) {
	start := time.Now()
	data, err := p.get(ctx, resourceURL, "*/*")
	if err != nil {
		return nil, err
	}

	p.log.Debug("Fetched resource from pod",
		slog.String("url", resourceURL),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Exists HEADs the resource.
func (p *PodStore) Exists(ctx context.Context, resourceURL string) (bool, error) {
	resp, err := p.do(ctx, http.MethodHead, resourceURL, nil, nil)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound, http.StatusGone:
		return false, nil
	}
	return false, statusError(http.MethodHead, resourceURL, resp.StatusCode)
}

// Write PUTs the resource as a whole; intermediate containers are created by the server.
func (p *PodStore) Write(ctx context.Context, resourceURL string, data []byte, contentType string) (string, error) {
	if isContainer(resourceURL) || isACL(resourceURL) {
		return "", fmt.Errorf("cannot write %s: not a plain resource", resourceURL)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := p.put(ctx, resourceURL, data, contentType); err != nil {
		p.log.Error("Failed to write resource to pod",
			slog.String("url", resourceURL),
			"err", err)
		return "", err
	}
	return resourceURL, nil
}

// List reads the container's ldp:contains members from its JSON-LD representation.
func (p *PodStore) List(ctx context.Context, containerURL string) ([]string, error) {
	if !isContainer(containerURL) {
		containerURL += "/"
	}

	data, err := p.get(ctx, containerURL, "application/ld+json")
	if err != nil {
		if errors.Is(err, interfaces.ErrResourceNotFound) {
			return nil, nil
		}
		return nil, err
	}

	members, err := parseContainerMembers(containerURL, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return members, nil
}

func parseContainerMembers(containerURL string, data []byte) ([]string, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid container document: %w", err)
	}

	base, err := url.Parse(containerURL)
	if err != nil {
		return nil, err
	}

	var nodes []any
	switch v := doc.(type) {
	case []any:
		nodes = v
	case map[string]any:
		if graph, ok := v["@graph"].([]any); ok {
			nodes = graph
		} else {
			nodes = []any{v}
		}
	}

	seen := make(map[string]struct{})
	for _, node := range nodes {
		obj, ok := node.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range []string{ldpContains, "ldp:contains", "contains"} {
			for _, ref := range refs(obj[key]) {
				u, err := base.Parse(ref)
				if err != nil {
					continue
				}
				member := u.String()
				if member == containerURL || isACL(member) {
					continue
				}
				seen[member] = struct{}{}
			}
		}
	}

	members := make([]string, 0, len(seen))
	for m := range seen {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

func refs(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case map[string]any:
		if id, ok := t["@id"].(string); ok {
			return []string{id}
		}
	case []any:
		var out []string
		for _, e := range t {
			out = append(out, refs(e)...)
		}
		return out
	}
	return nil
}

// SetAccess rewrites the resource's ".acl" document with the rule applied.
// The authenticated user from the context keeps full control.
func (p *PodStore) SetAccess(ctx context.Context, resourceURL string, rule interfaces.AccessRule) (interfaces.Access, error) {
	current, err := p.Access(ctx, resourceURL)
	if err != nil {
		return interfaces.Access{}, err
	}

	updated := current.Apply(rule)
	owner, _ := identity.UserFromContext(ctx)
	if err := p.put(ctx, aclURL(resourceURL), renderWAC(resourceURL, owner, updated), "text/turtle"); err != nil {
		p.log.Error("Failed to write access control document",
			slog.String("url", resourceURL),
			"err", err)
		return interfaces.Access{}, err
	}
	return updated, nil
}

// Access reads the resource's ".acl" document. A missing document means no grants.
func (p *PodStore) Access(ctx context.Context, resourceURL string) (interfaces.Access, error) {
	exists, err := p.Exists(ctx, resourceURL)
	if err != nil {
		return interfaces.Access{}, err
	}
	if !exists {
		return interfaces.Access{}, interfaces.ErrResourceNotFound
	}

	doc, err := p.get(ctx, aclURL(resourceURL), "text/turtle")
	if err != nil {
		if errors.Is(err, interfaces.ErrResourceNotFound) {
			return emptyAccess(), nil
		}
		return interfaces.Access{}, err
	}
	return parseWAC(doc), nil
}
