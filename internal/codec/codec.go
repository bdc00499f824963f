// Package codec wraps readers and writers with the stream compressions a
// jsonl data file can carry.
package codec

import (
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/gftdcojp/tickstore/internal/types"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// NewReader returns a reader that decompresses r according to c.
func NewReader(r io.Reader, c types.Compression) (io.ReadCloser, error) {
	switch c {
	case types.CompressionNone:
		return io.NopCloser(r), nil
	case types.CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return zr, nil
	case types.CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		return dec.IOReadCloser(), nil
	case types.CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case types.CompressionBrotli:
		return io.NopCloser(brotli.NewReader(r)), nil
	}
	return nil, fmt.Errorf("unsupported compression %v", c)
}

// NewWriter returns a writer that compresses into w according to c. Close
// must be called to flush the stream; it does not close w.
func NewWriter(w io.Writer, c types.Compression) (io.WriteCloser, error) {
	switch c {
	case types.CompressionNone:
		return nopWriteCloser{w}, nil
	case types.CompressionGzip:
		return gzip.NewWriter(w), nil
	case types.CompressionZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		return enc, nil
	case types.CompressionLZ4:
		return lz4.NewWriter(w), nil
	case types.CompressionBrotli:
		return brotli.NewWriter(w), nil
	}
	return nil, fmt.Errorf("unsupported compression %v", c)
}

// Ratio is the assumed compressed/uncompressed size ratio for market-data
// jsonl under each codec. Used only for planning estimates.
func Ratio(c types.Compression) float64 {
	switch c {
	case types.CompressionGzip:
		return 0.30
	case types.CompressionZstd:
		return 0.25
	case types.CompressionLZ4:
		return 0.45
	case types.CompressionBrotli:
		return 0.22
	default:
		return 1.0
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
