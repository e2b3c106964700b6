// Package storage persists uploaded import files. Names that already exist
// are never overwritten: a random suffix is added before the extension.
package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path"
	"strings"
)

// ErrUnsupportedRef is returned by Get for a reference the backend did not
// produce.
var ErrUnsupportedRef = errors.New("unsupported storage reference")

// ErrInvalidName is returned for empty names or names escaping the root.
var ErrInvalidName = errors.New("invalid storage name")

// Backend stores file contents under a collision-free name.
type Backend interface {
	// Put stores data under name, or a free variant of it, and returns a
	// reference Get accepts.
	Put(ctx context.Context, name string, data []byte) (string, error)
	// Get returns the contents behind ref.
	Get(ctx context.Context, ref string) ([]byte, error)
}

// New creates the backend cfg selects.
func New(ctx context.Context, cfg *StorageConfig) (Backend, error) {
	if cfg == nil {
		cfg = DefaultStorageConfig()
	}
	switch cfg.Type {
	case "", "local":
		return NewLocalBackend(cfg.MediaRoot)
	case "s3":
		return NewObjectBackend(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}

const (
	suffixLen      = 7
	suffixAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxNameTries   = 100
)

// cleanName validates a slash-separated relative name.
func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	cleaned := path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(path.Clean(name), "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return cleaned, nil
}

// alternativeName inserts _<7 random alphanumerics> before the extension.
func alternativeName(name string) string {
	dir, file := path.Split(name)
	ext := path.Ext(file)
	root := strings.TrimSuffix(file, ext)
	b := make([]byte, suffixLen)
	for i := range b {
		b[i] = suffixAlphabet[rand.IntN(len(suffixAlphabet))]
	}
	return dir + root + "_" + string(b) + ext
}

// availableName returns name, or the first alternative for which exists
// reports false.
func availableName(ctx context.Context, name string, exists func(context.Context, string) (bool, error)) (string, error) {
	candidate := name
	for i := 0; i < maxNameTries; i++ {
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = alternativeName(name)
	}
	return "", fmt.Errorf("no free name for %q after %d attempts", name, maxNameTries)
}
