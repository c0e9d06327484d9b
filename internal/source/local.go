package source

import (
	"fmt"
	"path/filepath"

	"gocloud.dev/blob/fileblob"
)

// newLocalSource opens a local directory as a bucket. Used for development
// and tests.
func newLocalSource(cfg Config) (*blobSource, error) {
	dir, err := filepath.Abs(cfg.LocalDir)
	if err != nil {
		return nil, fmt.Errorf("resolve local dir %s: %w", cfg.LocalDir, err)
	}

	bucket, err := fileblob.OpenBucket(dir, &fileblob.Options{CreateDir: true})
	if err != nil {
		return nil, fmt.Errorf("open local dir %s: %w", dir, err)
	}

	name := cfg.Bucket
	if name == "" {
		name = dir
	}

	return &blobSource{
		bucket: bucket,
		name:   name,
		prefix: cfg.Prefix,
		suffix: cfg.Suffix,
	}, nil
}
