// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package export

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm applied to the encoded bundle.
// The tag is the first byte of every encoded bundle. These values are
// format constants — changing them breaks decoding of existing
// bundles.
type Compression uint8

const (
	// CompressionNone stores the CBOR bytes as-is. Encode falls back
	// to it when compression does not shrink the bundle.
	CompressionNone Compression = 0

	// CompressionZstd is the default: good ratios on the text-heavy
	// record payloads bundles carry.
	CompressionZstd Compression = 1

	// CompressionLZ4 uses the LZ4 frame format, for callers that
	// favor decode speed over ratio.
	CompressionLZ4 Compression = 2
)

// String returns the name used in CLI flags and config.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression is the inverse of String.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("export: unknown compression %q", name)
	}
}

// errIncompressible signals that compression would not shrink the
// data; Encode falls back to CompressionNone.
var errIncompressible = errors.New("export: data is incompressible")

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("export: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("export: zstd decoder initialization failed: " + err.Error())
	}
}

func compress(data []byte, comp Compression) ([]byte, error) {
	switch comp {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	case CompressionLZ4:
		return compressLZ4Frame(data)
	default:
		return nil, fmt.Errorf("export: unsupported compression tag %d", comp)
	}
}

func decompress(data []byte, comp Compression) ([]byte, error) {
	switch comp {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		raw, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("export: zstd decompress: %w", err)
		}
		return raw, nil
	case CompressionLZ4:
		raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("export: lz4 decompress: %w", err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression tag %d", ErrMalformedBundle, comp)
	}
}

func compressLZ4Frame(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("export: lz4 compress: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("export: lz4 compress: %w", err)
	}
	if buf.Len() >= len(data) {
		return nil, errIncompressible
	}
	return buf.Bytes(), nil
}
