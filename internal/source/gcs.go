package source

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
)

// newGCSSource opens a Google Cloud Storage bucket.
func newGCSSource(cfg Config) (*blobSource, error) {
	ctx := context.Background()

	bucket, err := blob.OpenBucket(ctx, fmt.Sprintf("gs://%s", cfg.Bucket))
	if err != nil {
		return nil, fmt.Errorf("open GCS bucket %s: %w", cfg.Bucket, err)
	}

	return &blobSource{
		bucket: bucket,
		name:   cfg.Bucket,
		prefix: cfg.Prefix,
		suffix: cfg.Suffix,
	}, nil
}
