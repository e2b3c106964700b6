package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const fileScheme = "file://"

// LocalBackend stores files under a root directory.
type LocalBackend struct {
	Root string
}

// NewLocalBackend resolves root to an absolute path and creates it.
func NewLocalBackend(root string) (*LocalBackend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve media root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &LocalBackend{Root: abs}, nil
}

// Put writes data under Root and returns file://<absolute path>. The file is
// created exclusively so a name taken between probe and write is retried.
func (b *LocalBackend) Put(ctx context.Context, name string, data []byte) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	for {
		candidate, err := availableName(ctx, name, b.exists)
		if err != nil {
			return "", err
		}
		full := filepath.Join(b.Root, filepath.FromSlash(candidate))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return "", fmt.Errorf("create upload directory: %w", err)
		}
		f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create upload file: %w", err)
		}
		if err := writeAndClose(f, data); err != nil {
			return "", err
		}
		return fileScheme + full, nil
	}
}

// writeAndClose writes data to f and closes it. On failure the file is
// removed so its name is free again.
func writeAndClose(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return fmt.Errorf("write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return fmt.Errorf("close upload file: %w", err)
	}
	return nil
}

// Get reads a file:// reference inside Root.
func (b *LocalBackend) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(ref, fileScheme) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRef, ref)
	}
	full := filepath.Clean(strings.TrimPrefix(ref, fileScheme))
	if rel, err := filepath.Rel(b.Root, full); err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("%w: %s is outside %s", ErrUnsupportedRef, ref, b.Root)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read upload file: %w", err)
	}
	return data, nil
}

func (b *LocalBackend) exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(b.Root, filepath.FromSlash(name)))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat upload file: %w", err)
}
