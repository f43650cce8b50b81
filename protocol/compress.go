package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Payload compression names accepted in SessionConfig and reported in the
// Encoding field of tile_data frames.
const (
	CompressionNone = ""
	CompressionZstd = "zstd"
	CompressionGzip = "gzip"
)

// compressThreshold skips compression for payloads too small to benefit.
const compressThreshold = 256

var zstdEncoder = func() *zstd.Encoder {
	w, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic(fmt.Sprintf("protocol: zstd encoder: %v", err))
	}
	return w
}()

var zstdDecoder = func() *zstd.Decoder {
	r, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		panic(fmt.Sprintf("protocol: zstd decoder: %v", err))
	}
	return r
}()

// encodePayload compresses data with the named scheme. It returns the raw
// bytes (and empty encoding) when compression is off, the payload is tiny,
// or the compressed form is not smaller.
func encodePayload(data []byte, compression string) ([]byte, string, error) {
	if compression == CompressionNone || len(data) < compressThreshold {
		return data, CompressionNone, nil
	}

	var packed []byte
	switch compression {
	case CompressionZstd:
		packed = zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)))
	case CompressionGzip:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, "", err
		}
		if err := zw.Close(); err != nil {
			return nil, "", err
		}
		packed = buf.Bytes()
	default:
		return nil, "", fmt.Errorf("protocol: unknown compression %q", compression)
	}

	if len(packed) >= len(data) {
		return data, CompressionNone, nil
	}
	return packed, compression, nil
}

// DecodePayload reverses encodePayload. Clients use it on tile_data
// frames.
func DecodePayload(data []byte, encoding string) ([]byte, error) {
	switch encoding {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		return zstdDecoder.DecodeAll(data, nil)
	case CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("protocol: unknown encoding %q", encoding)
	}
}
