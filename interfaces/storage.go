package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// AccessModes is a set of access modes on a resource.
type AccessModes struct {
	Read   bool `json:"read"`
	Write  bool `json:"write"`
	Append bool `json:"append"`
}

// None reports whether no mode is set.
func (m AccessModes) None() bool {
	return !m.Read && !m.Write && !m.Append
}

// AccessRule is a change to the access control of a single resource.
// A nil Public leaves public access unchanged. An Agent with AgentModes that are
// all false removes the agent's entry.
type AccessRule struct {
	Public     *AccessModes
	Agent      UserIdentity
	AgentModes AccessModes
}

// PublicRead is the rule that makes a resource world-readable.
func PublicRead() AccessRule {
	return AccessRule{Public: &AccessModes{Read: true}}
}

// Private is the rule that removes public access.
func Private() AccessRule {
	return AccessRule{Public: &AccessModes{}}
}

// AgentAccess grants modes to a single agent.
func AgentAccess(agent UserIdentity, modes AccessModes) AccessRule {
	return AccessRule{Agent: agent, AgentModes: modes}
}

// Access is the effective access control of a resource.
type Access struct {
	Public AccessModes                  `json:"public"`
	Agents map[UserIdentity]AccessModes `json:"agents,omitempty"`
}

// Apply returns a copy of the access with the rule applied.
func (a Access) Apply(rule AccessRule) Access {
	res := Access{Public: a.Public, Agents: make(map[UserIdentity]AccessModes, len(a.Agents))}
	for agent, modes := range a.Agents {
		res.Agents[agent] = modes
	}
	if rule.Public != nil {
		res.Public = *rule.Public
	}
	if rule.Agent != "" {
		if rule.AgentModes.None() {
			delete(res.Agents, rule.Agent)
		} else {
			res.Agents[rule.Agent] = rule.AgentModes
		}
	}
	return res
}

// AgentModes returns the modes granted to an agent, ignoring public access.
func (a Access) AgentModes(agent UserIdentity) AccessModes {
	return a.Agents[agent]
}

var (
	// ErrResourceNotFound is returned when a resource does not exist. It is the only
	// signal of absence; any other read failure must not be treated as absence.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrBackendUnavailable is returned when a store is not accessible.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrAccessForbidden is returned when the store refuses the caller.
	ErrAccessForbidden = errors.New("access to resource forbidden")

	// ErrInvalidLocationURI is returned when a store location URI is malformed or unsupported.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")

	// ErrResourceOutsideStore is returned for a URL that the store does not serve.
	ErrResourceOutsideStore = errors.New("resource is outside of the store")
)

// ResourceStore is a URL-addressed personal data store with per-resource access control.
type ResourceStore interface {
	// Read returns the resource bytes, or ErrResourceNotFound if it does not exist.
	Read(ctx context.Context, resourceURL string) ([]byte, error)

	// Exists reports whether the resource exists. Transient failures are errors.
	Exists(ctx context.Context, resourceURL string) (bool, error)

	// Write creates or replaces the resource as a whole and returns its URL.
	// A failed write leaves the previously stored content intact.
	Write(ctx context.Context, resourceURL string, data []byte, contentType string) (string, error)

	// List returns the URLs contained in a container. Containers end with "/".
	List(ctx context.Context, containerURL string) ([]string, error)

	// SetAccess applies an access rule to an existing resource and returns the result.
	SetAccess(ctx context.Context, resourceURL string, rule AccessRule) (Access, error)

	// Access returns the effective access of a resource.
	Access(ctx context.Context, resourceURL string) (Access, error)

	// Name returns identifier for logging.
	Name() string
}

// SecretStore holds owner-only secrets such as sealed wallet keys.
type SecretStore interface {
	// WriteSecret stores the secret at the location.
	WriteSecret(ctx context.Context, location string, secret []byte) error

	// ReadSecret returns the secret, or ErrResourceNotFound.
	ReadSecret(ctx context.Context, location string) ([]byte, error)
}

// MetadataPublisher publishes documents at a world-readable location.
type MetadataPublisher interface {
	// Publish stores data, suggested at location, and returns the public URI.
	Publish(ctx context.Context, location string, data []byte) (string, error)
}

// StoreLocation represents a parsed store URI.
type StoreLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   *url.Userinfo
}

// NewStoreLocation parses a store URI with validation.
func NewStoreLocation(uri string) (StoreLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StoreLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "file", "s3", "mem", "http", "https", "vault", "ipfs", "pod":
	default:
		return StoreLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	return StoreLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   parsed.User,
	}, nil
}

// String returns the original URI string.
func (loc StoreLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc StoreLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StoreLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}
