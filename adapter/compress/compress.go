// Package compress wraps an adapter.Adapter with transparent zstd
// (de)compression, the concrete instance of spec.md §9's design note that
// "Compression adapters (Deflate, Brotli) wrap an inner adapter and
// transparently (de)compress payloads — the engine treats them
// identically."
package compress

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/meldadb/melda/adapter"
)

// Adapter wraps an inner adapter.Adapter, compressing on write and
// decompressing on read. Partial reads (offset/length) are served by
// decompressing the full object and slicing in memory: compression breaks
// the byte-for-byte correspondence between adapter offsets and the
// underlying pack layout that an uncompressed adapter can exploit.
type Adapter struct {
	inner   adapter.Adapter
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Wrap returns a compressing adapter around inner.
func Wrap(inner adapter.Adapter) (*Adapter, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("compress: new encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("compress: new decoder: %w", err)
	}
	return &Adapter{inner: inner, encoder: enc, decoder: dec}, nil
}

func (a *Adapter) WriteObject(ctx context.Context, key string, data []byte) error {
	compressed := a.encoder.EncodeAll(data, nil)
	return a.inner.WriteObject(ctx, key, compressed)
}

func (a *Adapter) ReadObject(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	compressed, err := a.inner.ReadObject(ctx, key, 0, 0)
	if err != nil {
		return nil, err
	}
	data, err := a.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("compress: decode %s: %w", key, err)
	}
	if length == 0 && offset == 0 {
		return data, nil
	}
	end := offset + length
	if offset < 0 || end > int64(len(data)) {
		return nil, adapter.ErrNotFound
	}
	return data[offset:end], nil
}

func (a *Adapter) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	return a.inner.ListObjects(ctx, prefix)
}

func (a *Adapter) HasObject(ctx context.Context, key string) (bool, error) {
	return a.inner.HasObject(ctx, key)
}

var _ adapter.Adapter = (*Adapter)(nil)
