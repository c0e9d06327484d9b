package source

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Decoder decompresses object payloads based on their key's extension.
type Decoder struct {
	zstdDecoder *zstd.Decoder
}

// NewDecoder creates a payload decoder.
func NewDecoder() (*Decoder, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Decoder{zstdDecoder: dec}, nil
}

// Close releases decoder resources.
func (d *Decoder) Close() {
	if d.zstdDecoder != nil {
		d.zstdDecoder.Close()
	}
}

// Decode returns the uncompressed payload for an object. Keys without a
// compression extension pass through unchanged.
func (d *Decoder) Decode(key string, raw []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(key, ".gz"):
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip decompress %s: %w", key, err)
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("gzip decompress %s: %w", key, err)
		}
		return data, nil

	case strings.HasSuffix(key, ".zst"):
		data, err := d.zstdDecoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress %s: %w", key, err)
		}
		return data, nil

	default:
		return raw, nil
	}
}
