package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how row values are compressed before they reach the
// backend.
type Compression uint8

const (
	// CompressionNone stores values as-is.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD (better ratio).
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", s)
	}
}

// ErrCorruptValue is returned when a stored value has a broken header.
var ErrCorruptValue = errors.New("storage: corrupt value")

// minCompressSize is the smallest payload worth compressing.
const minCompressSize = 128

const maxValueSize = 1 << 30

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// compressValue frames data as
//
//	u8 codec | uvarint rawSize | payload
//
// falling back to CompressionNone when compression saves less than 10%.
func compressValue(data []byte, c Compression) ([]byte, error) {
	if c != CompressionNone && len(data) >= minCompressSize {
		var (
			packed []byte
			err    error
		)
		switch c {
		case CompressionLZ4:
			packed, err = compressLZ4(data)
		case CompressionZSTD:
			enc := getZstdEncoder()
			packed = enc.EncodeAll(data, nil)
			zstdEncoderPool.Put(enc)
		default:
			return nil, fmt.Errorf("storage: unsupported compression %s", c)
		}
		if err != nil {
			return nil, err
		}
		if len(packed) > 0 && float64(len(packed)) <= float64(len(data))*0.9 {
			return frame(c, len(data), packed), nil
		}
	}
	return frame(CompressionNone, len(data), data), nil
}

func frame(c Compression, rawSize int, payload []byte) []byte {
	out := make([]byte, 0, 1+binary.MaxVarintLen32+len(payload))
	out = append(out, byte(c))
	out = binary.AppendUvarint(out, uint64(rawSize))
	return append(out, payload...)
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, err
	}
	// n == 0 means incompressible.
	return dst[:n], nil
}

// decompressValue reverses compressValue. The codec is read from the
// header, so values written under a different setting still decode.
func decompressValue(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: value too short", ErrCorruptValue)
	}

	c := Compression(data[0])
	rawSize, n := binary.Uvarint(data[1:])
	if n <= 0 || rawSize > maxValueSize {
		return nil, fmt.Errorf("%w: bad size header", ErrCorruptValue)
	}
	payload := data[1+n:]

	switch c {
	case CompressionNone:
		if uint64(len(payload)) != rawSize {
			return nil, fmt.Errorf("%w: size mismatch", ErrCorruptValue)
		}
		return payload, nil

	case CompressionLZ4:
		out := make([]byte, rawSize)
		m, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptValue, err)
		}
		if uint64(m) != rawSize {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorruptValue)
		}
		return out, nil

	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		out, err := dec.DecodeAll(payload, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptValue, err)
		}
		if uint64(len(out)) != rawSize {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorruptValue)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrCorruptValue, c)
	}
}
