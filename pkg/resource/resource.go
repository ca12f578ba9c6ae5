// Package resource resolves logical resource names against the bundled
// resources and the filesystem.
package resource

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	// BundledPrefix selects the resources compiled into the binary.
	BundledPrefix = "bundled:"
	// FilePrefix selects the filesystem, relative to the resolver's base dir.
	FilePrefix = "file:"
)

// ErrResourceNotFound is returned when no candidate location has the resource.
var ErrResourceNotFound = errors.New("resource not found")

//go:embed bundled
var bundled embed.FS

// Resolver looks a name up in, in order: the name as a plain path, the
// bundled resources, and the base directory.
type Resolver struct {
	bundled fs.FS
	baseDir string
}

// NewResolver creates a Resolver over bundledFS and baseDir. A nil bundledFS
// disables bundled lookups; an empty baseDir means the working directory.
func NewResolver(bundledFS fs.FS, baseDir string) *Resolver {
	return &Resolver{bundled: bundledFS, baseDir: baseDir}
}

// Default returns a Resolver over the resources bundled with this module.
func Default() *Resolver {
	sub, err := fs.Sub(bundled, "bundled")
	if err != nil {
		panic(err)
	}
	return NewResolver(sub, "")
}

// Resolve returns the content of the first candidate for name that exists.
// A name carrying BundledPrefix or FilePrefix is only looked up there.
func (r *Resolver) Resolve(name string) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrResourceNotFound)
	}

	var candidates []string
	switch {
	case strings.HasPrefix(name, BundledPrefix), strings.HasPrefix(name, FilePrefix):
		candidates = []string{name}
	default:
		candidates = []string{name, BundledPrefix + name, FilePrefix + name}
	}

	for _, c := range candidates {
		data, err := r.open(c)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("resource %q: %w", c, err)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrResourceNotFound, name)
}

// ReadString is Resolve returning a string.
func (r *Resolver) ReadString(name string) (string, error) {
	data, err := r.Resolve(name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (r *Resolver) open(candidate string) ([]byte, error) {
	switch {
	case strings.HasPrefix(candidate, BundledPrefix):
		if r.bundled == nil {
			return nil, fs.ErrNotExist
		}
		name := path.Clean(strings.TrimPrefix(candidate, BundledPrefix))
		if !fs.ValidPath(name) {
			return nil, fs.ErrNotExist
		}
		return fs.ReadFile(r.bundled, name)
	case strings.HasPrefix(candidate, FilePrefix):
		p := strings.TrimPrefix(candidate, FilePrefix)
		if !filepath.IsAbs(p) && r.baseDir != "" {
			p = filepath.Join(r.baseDir, p)
		}
		return readRegular(p)
	default:
		return readRegular(candidate)
	}
}

func readRegular(p string) ([]byte, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fs.ErrNotExist
	}
	// #nosec G304 -- resource names come from configuration.
	return os.ReadFile(p)
}

// CreateFileIfNotExists creates p and its parent directories unless p exists.
func CreateFileIfNotExists(p string) (string, error) {
	if _, err := os.Stat(p); err == nil {
		return p, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	return p, f.Close()
}
