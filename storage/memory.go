package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/ruteri/pod-consent-gateway/interfaces"
)

// FaultFunc decides whether an operation on a resource fails. Returning nil lets it proceed.
type FaultFunc func(op, resourceURL string) error

// Mutation records a state-changing call made against a MemoryStore.
type Mutation struct {
	Op  string
	URL string
}

type memResource struct {
	data        []byte
	contentType string
}

// MemoryStore is an in-process ResourceStore used for development and tests.
// It records every mutation and supports fault injection per operation.
type MemoryStore struct {
	mu        sync.RWMutex
	base      string
	resources map[string]memResource
	acls      map[string]interfaces.Access
	mutations []Mutation
	fault     FaultFunc
	log       *slog.Logger
}

// NewMemoryStore creates an empty store serving URLs below base.
func NewMemoryStore(base string, log *slog.Logger) *MemoryStore {
	return &MemoryStore{
		base:      base,
		resources: make(map[string]memResource),
		acls:      make(map[string]interfaces.Access),
		log:       log,
	}
}

// InjectFault installs fn to be consulted on every operation; nil removes it.
// Operations are "read", "exists", "write", "list", "set-access" and "access".
func (s *MemoryStore) InjectFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// Mutations returns a copy of the recorded write and set-access calls.
func (s *MemoryStore) Mutations() []Mutation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Mutation(nil), s.mutations...)
}

// ResetMutations clears the mutation log.
func (s *MemoryStore) ResetMutations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutations = nil
}

func (s *MemoryStore) checkFault(op, resourceURL string) error {
	if s.fault == nil {
		return nil
	}
	if err := s.fault(op, resourceURL); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// Read returns the resource bytes.
func (s *MemoryStore) Read(ctx context.Context, resourceURL string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkFault("read", resourceURL); err != nil {
		return nil, err
	}

	res, ok := s.resources[resourceURL]
	if !ok {
		return nil, interfaces.ErrResourceNotFound
	}
	return append([]byte(nil), res.data...), nil
}

// Exists reports whether a resource, or any resource below a container, exists.
func (s *MemoryStore) Exists(ctx context.Context, resourceURL string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkFault("exists", resourceURL); err != nil {
		return false, err
	}
	return s.existsLocked(resourceURL), nil
}

func (s *MemoryStore) existsLocked(resourceURL string) bool {
	if !isContainer(resourceURL) {
		_, ok := s.resources[resourceURL]
		return ok
	}
	for key := range s.resources {
		if strings.HasPrefix(key, resourceURL) {
			return true
		}
	}
	return false
}

// Write stores the resource, replacing any previous content.
func (s *MemoryStore) Write(ctx context.Context, resourceURL string, data []byte, contentType string) (string, error) {
	if isContainer(resourceURL) || isACL(resourceURL) {
		return "", fmt.Errorf("cannot write %s: not a plain resource", resourceURL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFault("write", resourceURL); err != nil {
		return "", err
	}

	s.resources[resourceURL] = memResource{data: append([]byte(nil), data...), contentType: contentType}
	s.mutations = append(s.mutations, Mutation{Op: "write", URL: resourceURL})

	s.log.Debug("Stored resource in memory",
		slog.String("url", resourceURL),
		slog.Int("size", len(data)))

	return resourceURL, nil
}

// List returns the direct children of a container, sorted.
func (s *MemoryStore) List(ctx context.Context, containerURL string) ([]string, error) {
	if !isContainer(containerURL) {
		containerURL += "/"
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkFault("list", containerURL); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for key := range s.resources {
		rest, ok := strings.CutPrefix(key, containerURL)
		if !ok || rest == "" {
			continue
		}
		if idx := strings.Index(rest, "/"); idx >= 0 {
			seen[containerURL+rest[:idx+1]] = struct{}{}
		} else {
			seen[key] = struct{}{}
		}
	}

	children := make([]string, 0, len(seen))
	for child := range seen {
		children = append(children, child)
	}
	sort.Strings(children)
	return children, nil
}

// SetAccess applies the rule to an existing resource.
func (s *MemoryStore) SetAccess(ctx context.Context, resourceURL string, rule interfaces.AccessRule) (interfaces.Access, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFault("set-access", resourceURL); err != nil {
		return interfaces.Access{}, err
	}
	if !s.existsLocked(resourceURL) {
		return interfaces.Access{}, interfaces.ErrResourceNotFound
	}

	current, ok := s.acls[resourceURL]
	if !ok {
		current = emptyAccess()
	}
	updated := current.Apply(rule)
	s.acls[resourceURL] = updated
	s.mutations = append(s.mutations, Mutation{Op: "set-access", URL: resourceURL})

	return updated.Apply(interfaces.AccessRule{}), nil
}

// Access returns the effective access of a resource.
func (s *MemoryStore) Access(ctx context.Context, resourceURL string) (interfaces.Access, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkFault("access", resourceURL); err != nil {
		return interfaces.Access{}, err
	}
	if !s.existsLocked(resourceURL) {
		return interfaces.Access{}, interfaces.ErrResourceNotFound
	}

	current, ok := s.acls[resourceURL]
	if !ok {
		return emptyAccess(), nil
	}
	return current.Apply(interfaces.AccessRule{}), nil
}

// Name returns identifier for logging.
func (s *MemoryStore) Name() string {
	return "memory"
}

// Base returns the URL prefix this store serves.
func (s *MemoryStore) Base() string {
	return s.base
}
