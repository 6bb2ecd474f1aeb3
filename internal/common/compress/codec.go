package compress

import (
	"strings"

	"github.com/pkg/errors"
)

// Codec identifies a compression algorithm. Its value is stored in the header of persisted pool snapshots,
// so existing values must never be renumbered.
type Codec byte

const (
	None Codec = iota
	Zlib
	Zstd
	Lz4
)

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case Zlib:
		return "zlib"
	case Zstd:
		return "zstd"
	case Lz4:
		return "lz4"
	default:
		return "unknown"
	}
}

// ParseCodec converts a codec name as used in config files into a Codec.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "zlib":
		return Zlib, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return Lz4, nil
	default:
		return None, errors.Errorf("unknown compression codec %q", s)
	}
}

// NewCompressor returns a Compressor for the supplied codec.
func NewCompressor(codec Codec) (Compressor, error) {
	switch codec {
	case None:
		return &NoOpCompressor{}, nil
	case Zlib:
		return NewZlibCompressor(0)
	case Zstd:
		return NewZstdCompressor()
	case Lz4:
		return NewLz4Compressor(), nil
	default:
		return nil, errors.Errorf("unknown compression codec %d", codec)
	}
}

// NewDecompressor returns a Decompressor for the supplied codec.
func NewDecompressor(codec Codec) (Decompressor, error) {
	switch codec {
	case None:
		return &NoOpDecompressor{}, nil
	case Zlib:
		return NewZlibDecompressor(), nil
	case Zstd:
		return NewZstdDecompressor()
	case Lz4:
		return NewLz4Decompressor(), nil
	default:
		return nil, errors.Errorf("unknown compression codec %d", codec)
	}
}
