// Package source enumerates and fetches candidate files from the watched
// object-store location.
package source

import (
	"context"
	"fmt"
	"time"
)

// ObjectInfo describes one candidate object from a listing.
type ObjectInfo struct {
	Key     string
	Size    int64
	ETag    string // provider content hash (MD5 hex) when available
	ModTime time.Time
}

// ObjectAttrs carries object metadata recorded alongside a claim.
type ObjectAttrs struct {
	ContentType string
	ETag        string
	ModTime     time.Time
	Size        int64
}

// Source lists candidate files under the watched prefix and fetches their
// bytes. Listings are eventually consistent; single-object reads are
// strongly consistent.
type Source interface {
	// List returns every object under the configured prefix whose key
	// ends in a recognized suffix, in listing order.
	List(ctx context.Context) ([]ObjectInfo, error)

	// Read fetches the full contents of one object.
	Read(ctx context.Context, key string) ([]byte, error)

	// Attributes fetches object metadata. Best effort; callers treat a
	// failure as missing metadata, not a processing error.
	Attributes(ctx context.Context, key string) (*ObjectAttrs, error)

	// Bucket returns the identifier recorded in the ledger's dedup key.
	Bucket() string

	// IsAccessible reports whether the location can be reached. Used by
	// the readiness probe.
	IsAccessible(ctx context.Context) error

	Close() error
}

// Config configures the source backend.
type Config struct {
	Backend string // "s3" | "gcs" | "local"
	Bucket  string
	Prefix  string // watched key prefix, e.g. "incoming/"
	Suffix  string // recognized file suffix, e.g. ".json"

	// Local filesystem
	LocalDir string

	// S3 (also works for B2, R2, MinIO)
	S3Endpoint string
	S3Region   string
}

// New creates a source backend based on configuration.
func New(cfg Config) (Source, error) {
	switch cfg.Backend {
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("Bucket required for s3 backend")
		}
		return newS3Source(cfg)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("Bucket required for gcs backend")
		}
		return newGCSSource(cfg)
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return newLocalSource(cfg)
	default:
		return nil, fmt.Errorf("unknown source backend: %s", cfg.Backend)
	}
}
