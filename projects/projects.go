// Package projects resolves project names to directories under the configured
// projects root. Every project keeps its own database and agent artifacts
// inside its directory.
package projects

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound is returned when no directory exists for a project name
	ErrNotFound = errors.New("project not found")

	// ErrInvalidName is returned for names that could escape the projects root
	ErrInvalidName = errors.New("invalid project name")
)

// Resolver maps project names to directories under a fixed root.
type Resolver struct {
	root string
}

// NewResolver creates a resolver rooted at the given directory, creating
// the root if it does not exist yet.
func NewResolver(root string) (*Resolver, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Resolver{root: root}, nil
}

// Resolve returns the absolute directory for a project name.
// Names containing path separators or traversal sequences are rejected.
func (r *Resolver) Resolve(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", ErrInvalidName
	}

	dir := filepath.Join(r.root, name)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	if !info.IsDir() {
		return "", ErrNotFound
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return abs, nil
}
