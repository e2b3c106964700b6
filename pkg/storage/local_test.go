package storage

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBackendPutGet(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	ref, err := b.Put(ctx, "uploads/autoload", []byte("Address\n1 Main St\n"))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(b.Root, "uploads", "autoload"), ref)

	data, err := b.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "Address\n1 Main St\n", string(data))

	info, err := os.Stat(strings.TrimPrefix(ref, "file://"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestWriteAndCloseRemovesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autoload")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)

	assert.ErrorContains(t, writeAndClose(f, []byte("Address\n")), "write upload file")
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalBackendAvoidsCollisions(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	first, err := b.Put(ctx, "uploads/data.csv", []byte("one"))
	require.NoError(t, err)
	second, err := b.Put(ctx, "uploads/data.csv", []byte("two"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Regexp(t, regexp.MustCompile(`/uploads/data_[A-Za-z0-9]{7}\.csv$`), second)

	data, err := b.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "one", string(data), "first upload untouched")
	data, err = b.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestLocalBackendRejectsEscapes(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	_, err = b.Put(ctx, "../outside.csv", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = b.Put(ctx, "  ", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = b.Get(ctx, "file:///etc/passwd")
	assert.ErrorIs(t, err, ErrUnsupportedRef)
	_, err = b.Get(ctx, "s3://bucket/key")
	assert.ErrorIs(t, err, ErrUnsupportedRef)
}

func TestAlternativeName(t *testing.T) {
	assert.Regexp(t, `^uploads/autoload_[A-Za-z0-9]{7}$`, alternativeName("uploads/autoload"))
	assert.Regexp(t, `^a\.b_[A-Za-z0-9]{7}\.csv$`, alternativeName("a.b.csv"))
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := DefaultStorageConfig()
	cfg.MediaRoot = t.TempDir()
	b, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &LocalBackend{}, b)

	cfg.Type = "ftp"
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)

	cfg.Type = "s3"
	cfg.S3Endpoint = ""
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestStorageConfigFromEnv(t *testing.T) {
	t.Setenv("AUTOLOAD_STORAGE_TYPE", "S3")
	t.Setenv("AUTOLOAD_S3_ENDPOINT", "minio:9000")
	t.Setenv("AUTOLOAD_S3_BUCKET", "uploads")
	t.Setenv("AUTOLOAD_S3_USE_SSL", "false")

	cfg := StorageConfigFromEnv()
	assert.Equal(t, "s3", cfg.Type)
	assert.Equal(t, "minio:9000", cfg.S3Endpoint)
	assert.Equal(t, "uploads", cfg.S3Bucket)
	assert.False(t, cfg.S3UseSSL)
}
