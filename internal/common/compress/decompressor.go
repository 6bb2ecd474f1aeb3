package compress

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Decompressor is a fast, single threaded decompressor.
// This type allows us to reuse buffers etc for performance
type Decompressor interface {
	// Decompress decompresses the byte array
	Decompress(b []byte) ([]byte, error)
}

// NoOpDecompressor is a Decompressor that does nothing.  Useful for tests.
type NoOpDecompressor struct{}

func (c *NoOpDecompressor) Decompress(b []byte) ([]byte, error) {
	return b, nil
}

// ZlibDecompressor decompresses Zlib
type ZlibDecompressor struct {
	outputBuffer *bytes.Buffer
	reader       io.ReadCloser
}

func NewZlibDecompressor() *ZlibDecompressor {
	var ob bytes.Buffer
	return &ZlibDecompressor{
		outputBuffer: &ob,
	}
}

func (d *ZlibDecompressor) Decompress(b []byte) ([]byte, error) {
	inputBuffer := bytes.NewBuffer(b)
	if d.reader == nil {
		reader, err := zlib.NewReader(inputBuffer)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		d.reader = reader
	} else {
		err := d.reader.(zlib.Resetter).Reset(inputBuffer, nil)
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}
	d.outputBuffer.Reset()

	// Decompress
	_, err := io.Copy(d.outputBuffer, d.reader)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return copyBytes(d.outputBuffer.Bytes()), nil
}

// ZstdDecompressor decompresses zstd frames produced by ZstdCompressor
type ZstdDecompressor struct {
	decoder *zstd.Decoder
}

func NewZstdDecompressor() (*ZstdDecompressor, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &ZstdDecompressor{decoder: decoder}, nil
}

func (d *ZstdDecompressor) Decompress(b []byte) ([]byte, error) {
	out, err := d.decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return out, nil
}

// Lz4Decompressor decompresses lz4 frames produced by Lz4Compressor
type Lz4Decompressor struct {
	outputBuffer *bytes.Buffer
	reader       *lz4.Reader
}

func NewLz4Decompressor() *Lz4Decompressor {
	var ob bytes.Buffer
	return &Lz4Decompressor{
		outputBuffer: &ob,
		reader:       lz4.NewReader(nil),
	}
}

func (d *Lz4Decompressor) Decompress(b []byte) ([]byte, error) {
	d.reader.Reset(bytes.NewReader(b))
	d.outputBuffer.Reset()
	if _, err := io.Copy(d.outputBuffer, d.reader); err != nil {
		return nil, errors.WithStack(err)
	}
	return copyBytes(d.outputBuffer.Bytes()), nil
}
