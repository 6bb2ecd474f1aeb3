package compress

import (
	"bytes"
	"compress/zlib"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Compressor is a fast, single threaded compressor.
// This type allows us to reuse buffers etc for performance
type Compressor interface {
	// Compress compresses the byte array
	Compress(b []byte) ([]byte, error)
}

// NoOpCompressor is a Compressor that does nothing.  Useful for tests.
type NoOpCompressor struct{}

func (c *NoOpCompressor) Compress(b []byte) ([]byte, error) {
	return b, nil
}

// ZlibCompressor compresses to Zlib, which for KB-sized payloads seems to offer the best performance/compression tradeoff.
type ZlibCompressor struct {
	buffer *bytes.Buffer
	writer *zlib.Writer
	level  int
}

func NewZlibCompressor(level int) (*ZlibCompressor, error) {
	if level == 0 {
		level = zlib.BestSpeed
	}
	var b bytes.Buffer
	w, err := zlib.NewWriterLevel(&b, level)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &ZlibCompressor{
		buffer: &b,
		writer: w,
		level:  level,
	}, nil
}

func (c *ZlibCompressor) Compress(b []byte) ([]byte, error) {
	c.buffer.Reset()
	c.writer.Reset(c.buffer)
	if _, err := c.writer.Write(b); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := c.writer.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	return copyBytes(c.buffer.Bytes()), nil
}

// ZstdCompressor compresses using zstd. The encoder is safe to reuse between calls.
type ZstdCompressor struct {
	encoder *zstd.Encoder
}

func NewZstdCompressor() (*ZstdCompressor, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &ZstdCompressor{encoder: encoder}, nil
}

func (c *ZstdCompressor) Compress(b []byte) ([]byte, error) {
	return c.encoder.EncodeAll(b, make([]byte, 0, len(b)/2)), nil
}

// Lz4Compressor writes lz4 frames.
type Lz4Compressor struct {
	buffer *bytes.Buffer
	writer *lz4.Writer
}

func NewLz4Compressor() *Lz4Compressor {
	var b bytes.Buffer
	return &Lz4Compressor{
		buffer: &b,
		writer: lz4.NewWriter(&b),
	}
}

func (c *Lz4Compressor) Compress(b []byte) ([]byte, error) {
	c.buffer.Reset()
	c.writer.Reset(c.buffer)
	if _, err := c.writer.Write(b); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := c.writer.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	return copyBytes(c.buffer.Bytes()), nil
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
