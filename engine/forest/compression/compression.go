// Package compression provides record body compression for the forest
// engine's flat-log format.
//
// Grounded directly on the teacher's internal/compression package,
// trimmed to the three algorithms forest's record format can name
// (Snappy, LZ4, Zstd). forest always writes Snappy and decompresses
// whichever type a record names; coredb.DataFileOptions has no
// compression setting. zlib/deflate is dropped
// since nothing in SPEC_FULL.md's domain stack calls for it and no
// third-party zlib replacement exists in the corpus worth wiring in its
// place (see DESIGN.md).
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies a record body compression algorithm.
type Type uint8

const (
	NoCompression     Type = 0x0
	SnappyCompression Type = 0x1
	LZ4Compression    Type = 0x4
	ZstdCompression   Type = 0x7
)

func (t Type) String() string {
	switch t {
	case NoCompression:
		return "NoCompression"
	case SnappyCompression:
		return "Snappy"
	case LZ4Compression:
		return "LZ4"
	case ZstdCompression:
		return "ZSTD"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// Compress compresses data with the given algorithm.
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil
	case SnappyCompression:
		return snappy.Encode(nil, data), nil
	case LZ4Compression:
		return compressLZ4(data)
	case ZstdCompression:
		return compressZstd(data)
	default:
		return nil, fmt.Errorf("compression: unsupported type %s", t)
	}
}

// Decompress reverses Compress.
func Decompress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil
	case SnappyCompression:
		return snappy.Decode(nil, data)
	case LZ4Compression:
		return decompressLZ4(data)
	case ZstdCompression:
		return decompressZstd(data)
	default:
		return nil, fmt.Errorf("compression: unsupported type %s", t)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}

func compressZstd(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func decompressZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
