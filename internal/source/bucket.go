package source

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
)

// blobSource adapts a gocloud blob bucket to the Source contract. All
// backends share this implementation and differ only in how the bucket
// is opened.
type blobSource struct {
	bucket *blob.Bucket
	name   string
	prefix string
	suffix string
}

// compressedExtensions lists suffixes accepted in addition to the plain
// file suffix; their payloads are decompressed before parsing.
var compressedExtensions = []string{".gz", ".zst"}

func (s *blobSource) List(ctx context.Context) ([]ObjectInfo, error) {
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.prefix})

	var objects []ObjectInfo
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", s.name, err)
		}
		if obj.IsDir || !s.recognized(obj.Key) {
			continue
		}
		objects = append(objects, ObjectInfo{
			Key:     obj.Key,
			Size:    obj.Size,
			ETag:    hex.EncodeToString(obj.MD5),
			ModTime: obj.ModTime,
		})
	}
	return objects, nil
}

// recognized reports whether a key ends in the configured suffix, plain
// or with a supported compression extension.
func (s *blobSource) recognized(key string) bool {
	if strings.HasSuffix(key, s.suffix) {
		return true
	}
	for _, ext := range compressedExtensions {
		if strings.HasSuffix(key, s.suffix+ext) {
			return true
		}
	}
	return false
}

func (s *blobSource) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", s.name, key, err)
	}
	return data, nil
}

func (s *blobSource) Attributes(ctx context.Context, key string) (*ObjectAttrs, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("attributes %s/%s: %w", s.name, key, err)
	}
	return &ObjectAttrs{
		ContentType: attrs.ContentType,
		ETag:        strings.Trim(attrs.ETag, `"`),
		ModTime:     attrs.ModTime,
		Size:        attrs.Size,
	}, nil
}

func (s *blobSource) Bucket() string {
	return s.name
}

func (s *blobSource) IsAccessible(ctx context.Context) error {
	accessible, err := s.bucket.IsAccessible(ctx)
	if err != nil {
		return fmt.Errorf("check %s: %w", s.name, err)
	}
	if !accessible {
		return fmt.Errorf("bucket %s is not accessible", s.name)
	}
	return nil
}

func (s *blobSource) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
