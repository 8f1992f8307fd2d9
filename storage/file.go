package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ruteri/pod-consent-gateway/interfaces"
)

// FileStore implements a ResourceStore on the local file system.
// Resource URLs below the base map to files below baseDir; containers map to directories.
// Access control is kept in ".acl" JSON companions next to each resource.
type FileStore struct {
	baseDir string
	base    string
	log     *slog.Logger
}

// NewFileStore creates a file store rooted at baseDir, creating it if needed.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	return &FileStore{
		baseDir: abs,
		base:    "file://" + filepath.ToSlash(abs) + "/",
		log:     log,
	}, nil
}

// Base returns the URL prefix this store serves.
func (b *FileStore) Base() string {
	return b.base
}

// Name returns identifier for logging.
func (b *FileStore) Name() string {
	return "file-" + b.baseDir
}

func (b *FileStore) pathFor(resourceURL string) (string, error) {
	rest, ok := strings.CutPrefix(resourceURL, b.base)
	if !ok {
		return "", fmt.Errorf("%w: %s", interfaces.ErrResourceOutsideStore, resourceURL)
	}
	for _, part := range strings.Split(rest, "/") {
		if part == ".." || part == "." {
			return "", fmt.Errorf("%w: %s", interfaces.ErrResourceOutsideStore, resourceURL)
		}
	}
	return filepath.Join(b.baseDir, filepath.FromSlash(rest)), nil
}

func (b *FileStore) aclPathFor(resourceURL string) (string, error) {
	p, err := b.pathFor(resourceURL)
	if err != nil {
		return "", err
	}
	if isContainer(resourceURL) {
		return filepath.Join(p, aclSuffix), nil
	}
	return p + aclSuffix, nil
}

func fsError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return interfaces.ErrResourceNotFound
	}
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %v", interfaces.ErrAccessForbidden, err)
	}
	return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
}

// Read returns the content of a file.
func (b *FileStore) Read(ctx context.Context, resourceURL string) ([]byte, error) {
	if isContainer(resourceURL) {
		return nil, fmt.Errorf("cannot read container %s", resourceURL)
	}
	p, err := b.pathFor(resourceURL)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fsError(err)
	}

	b.log.Debug("Fetched resource from file",
		slog.String("path", p),
		slog.Int("size", len(data)))

	return data, nil
}

// Exists reports whether the file or directory exists.
func (b *FileStore) Exists(ctx context.Context, resourceURL string) (bool, error) {
	p, err := b.pathFor(resourceURL)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fsError(err)
	}
	return info.IsDir() == isContainer(resourceURL), nil
}

// Write replaces the file atomically through a temporary file and rename.
func (b *FileStore) Write(ctx context.Context, resourceURL string, data []byte, contentType string) (string, error) {
	if isContainer(resourceURL) || isACL(resourceURL) {
		return "", fmt.Errorf("cannot write %s: not a plain resource", resourceURL)
	}
	p, err := b.pathFor(resourceURL)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(p, data); err != nil {
		return "", err
	}

	b.log.Debug("Stored resource in file",
		slog.String("path", p),
		slog.String("contentType", contentType),
		slog.Int("size", len(data)))

	return resourceURL, nil
}

func writeFileAtomic(p string, data []byte) error {
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fsError(err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fsError(err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fsError(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fsError(err)
	}
	if err := tmp.Close(); err != nil {
		return fsError(err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fsError(err)
	}
	return nil
}

// List returns the direct children of a directory, sorted. A missing directory is empty.
func (b *FileStore) List(ctx context.Context, containerURL string) ([]string, error) {
	if !isContainer(containerURL) {
		containerURL += "/"
	}
	p, err := b.pathFor(containerURL)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fsError(err)
	}

	children := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if isACL(name) || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		if entry.IsDir() {
			children = append(children, containerURL+name+"/")
		} else {
			children = append(children, containerURL+name)
		}
	}
	sort.Strings(children)
	return children, nil
}

// SetAccess applies the rule to an existing resource and persists the result.
func (b *FileStore) SetAccess(ctx context.Context, resourceURL string, rule interfaces.AccessRule) (interfaces.Access, error) {
	current, err := b.Access(ctx, resourceURL)
	if err != nil {
		return interfaces.Access{}, err
	}

	updated := current.Apply(rule)
	data, err := encodeAccess(updated)
	if err != nil {
		return interfaces.Access{}, err
	}

	aclPath, err := b.aclPathFor(resourceURL)
	if err != nil {
		return interfaces.Access{}, err
	}
	if err := writeFileAtomic(aclPath, data); err != nil {
		return interfaces.Access{}, err
	}

	return updated, nil
}

// Access returns the effective access of an existing resource.
func (b *FileStore) Access(ctx context.Context, resourceURL string) (interfaces.Access, error) {
	exists, err := b.Exists(ctx, resourceURL)
	if err != nil {
		return interfaces.Access{}, err
	}
	if !exists {
		return interfaces.Access{}, interfaces.ErrResourceNotFound
	}

	aclPath, err := b.aclPathFor(resourceURL)
	if err != nil {
		return interfaces.Access{}, err
	}
	data, err := os.ReadFile(aclPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return emptyAccess(), nil
		}
		return interfaces.Access{}, fsError(err)
	}
	return decodeAccess(data)
}
