package source

import (
	"context"
	"fmt"
	"net/url"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/s3blob" // S3 driver
)

// newS3Source opens an S3-compatible bucket.
// Works with AWS S3, Backblaze B2, Cloudflare R2, and MinIO.
func newS3Source(cfg Config) (*blobSource, error) {
	ctx := context.Background()

	bucketURL := fmt.Sprintf("s3://%s", cfg.Bucket)

	params := url.Values{}
	if cfg.S3Region != "" {
		params.Set("region", cfg.S3Region)
	}
	if cfg.S3Endpoint != "" {
		params.Set("endpoint", cfg.S3Endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open S3 bucket %s: %w", cfg.Bucket, err)
	}

	return &blobSource{
		bucket: bucket,
		name:   cfg.Bucket,
		prefix: cfg.Prefix,
		suffix: cfg.Suffix,
	}, nil
}
