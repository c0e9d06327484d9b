package source

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	dec, err := NewDecoder()
	if err != nil {
		t.Fatalf("create decoder: %v", err)
	}
	t.Cleanup(dec.Close)
	return dec
}

func TestDecodePassthrough(t *testing.T) {
	dec := newTestDecoder(t)

	payload := []byte(`[{"id":"a"}]`)
	got, err := dec.Decode("incoming/a.json", payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
}

func TestDecodeGzip(t *testing.T) {
	dec := newTestDecoder(t)

	payload := []byte(`{"records":[{"id":"g1"}]}`)
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	got, err := dec.Decode("incoming/a.json.gz", buf.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
}

func TestDecodeZstd(t *testing.T) {
	dec := newTestDecoder(t)

	payload := []byte(`[{"id":"z1"},{"id":"z2"}]`)
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("create zstd writer: %v", err)
	}
	compressed := enc.EncodeAll(payload, nil)
	enc.Close()

	got, err := dec.Decode("incoming/a.json.zst", compressed)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
}

func TestDecodeCorruptGzip(t *testing.T) {
	dec := newTestDecoder(t)

	if _, err := dec.Decode("incoming/a.json.gz", []byte("not gzip at all")); err == nil {
		t.Error("corrupt gzip payload should fail")
	}
}

func TestDecodeCorruptZstd(t *testing.T) {
	dec := newTestDecoder(t)

	if _, err := dec.Decode("incoming/a.json.zst", []byte("not zstd at all")); err == nil {
		t.Error("corrupt zstd payload should fail")
	}
}
