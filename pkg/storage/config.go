package storage

import (
	"os"
	"strconv"
	"strings"
)

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Type string // "local" or "s3". Default local.

	// MediaRoot is the LocalBackend root directory.
	MediaRoot string

	S3Endpoint     string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3Region       string
	S3UseSSL       bool
	S3CreateBucket bool
}

// DefaultStorageConfig returns a local storage configuration under ./media.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		Type:           "local",
		MediaRoot:      "media",
		S3Bucket:       "autoload",
		S3UseSSL:       true,
		S3CreateBucket: true,
	}
}

// StorageConfigFromEnv loads config from environment variables.
// AUTOLOAD_STORAGE_TYPE, AUTOLOAD_MEDIA_ROOT, AUTOLOAD_S3_ENDPOINT, AUTOLOAD_S3_BUCKET,
// AUTOLOAD_S3_ACCESS_KEY, AUTOLOAD_S3_SECRET_KEY, AUTOLOAD_S3_USE_SSL, AUTOLOAD_S3_REGION,
// AUTOLOAD_S3_CREATE_BUCKET
func StorageConfigFromEnv() *StorageConfig {
	cfg := DefaultStorageConfig()

	if v := os.Getenv("AUTOLOAD_STORAGE_TYPE"); v != "" {
		cfg.Type = strings.ToLower(v)
	}
	if v := os.Getenv("AUTOLOAD_MEDIA_ROOT"); v != "" {
		cfg.MediaRoot = v
	}
	if v := os.Getenv("AUTOLOAD_S3_ENDPOINT"); v != "" {
		cfg.S3Endpoint = v
	}
	if v := os.Getenv("AUTOLOAD_S3_BUCKET"); v != "" {
		cfg.S3Bucket = v
	}
	if v := os.Getenv("AUTOLOAD_S3_ACCESS_KEY"); v != "" {
		cfg.S3AccessKey = v
	}
	if v := os.Getenv("AUTOLOAD_S3_SECRET_KEY"); v != "" {
		cfg.S3SecretKey = v
	}
	if v := os.Getenv("AUTOLOAD_S3_REGION"); v != "" {
		cfg.S3Region = v
	}
	if v := os.Getenv("AUTOLOAD_S3_USE_SSL"); v != "" {
		cfg.S3UseSSL, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("AUTOLOAD_S3_CREATE_BUCKET"); v != "" {
		cfg.S3CreateBucket, _ = strconv.ParseBool(v)
	}

	return cfg
}
