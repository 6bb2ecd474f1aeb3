// Package snapshot writes and reads the binary snapshots a sorted pool is persisted to.
//
// A snapshot starts with the magic bytes "CPSN", the format version as a uvarint and one byte naming the
// compression codec of the rest. The decompressed payload is a table of every input chunk referenced by the
// snapshot followed by the body. The body refers to chunks by their position in the table, so chunks shared by
// several slices are written once and are shared again once restored.
//
// All primitives are written with the varint, zigzag and fixed64 encodings of gogo protobuf's proto.Buffer.
package snapshot

import (
	"math"

	"github.com/gogo/protobuf/proto"
	"github.com/pkg/errors"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
	"github.com/G-Research/chunkpool/internal/common/compress"
)

const (
	magic = "CPSN"
	// Version of the format written by Encoder. Decoder rejects every other version.
	Version uint64 = 1
)

// Encoder writes the body of a snapshot. Errors are sticky: once a write fails every later write is a no-op and
// Finish returns the first error.
type Encoder struct {
	body       *proto.Buffer
	chunkIndex map[*chunk.InputChunk]int
	chunks     []*chunk.InputChunk
	err        error
}

func NewEncoder() *Encoder {
	return &Encoder{
		body:       proto.NewBuffer(nil),
		chunkIndex: make(map[*chunk.InputChunk]int),
	}
}

func (e *Encoder) check(err error) {
	if e.err == nil && err != nil {
		e.err = errors.WithStack(err)
	}
}

func (e *Encoder) Uint(v uint64) {
	if e.err == nil {
		e.check(e.body.EncodeVarint(v))
	}
}

func (e *Encoder) Int(v int64) {
	if e.err == nil {
		e.check(e.body.EncodeZigzag64(uint64(v)))
	}
}

func (e *Encoder) Bool(v bool) {
	if v {
		e.Uint(1)
	} else {
		e.Uint(0)
	}
}

func (e *Encoder) Double(v float64) {
	if e.err == nil {
		e.check(e.body.EncodeFixed64(math.Float64bits(v)))
	}
}

func (e *Encoder) String(s string) {
	if e.err == nil {
		e.check(e.body.EncodeStringBytes(s))
	}
}

func (e *Encoder) Bytes(b []byte) {
	if e.err == nil {
		e.check(e.body.EncodeRawBytes(b))
	}
}

// Len writes the length of a sequence that follows.
func (e *Encoder) Len(n int) {
	e.Uint(uint64(n))
}

func (e *Encoder) Ints(values []int) {
	e.Len(len(values))
	for _, v := range values {
		e.Int(int64(v))
	}
}

func (e *Encoder) Key(k keys.Key) {
	writeKey(e.body, e.check, k)
}

// Limit writes a limit. Limits without a key and limits with an empty key are told apart.
func (e *Encoder) Limit(l chunk.Limit) {
	e.Bool(l.Key != nil)
	if l.Key != nil {
		e.Key(l.Key)
	}
	e.Bool(l.HasRowIndex)
	if l.HasRowIndex {
		e.Int(l.RowIndex)
	}
}

// Chunk writes a reference to c and adds it to the chunk table if it is not there yet. A nil chunk is allowed.
func (e *Encoder) Chunk(c *chunk.InputChunk) {
	if c == nil {
		e.Int(-1)
		return
	}
	index, ok := e.chunkIndex[c]
	if !ok {
		index = len(e.chunks)
		e.chunkIndex[c] = index
		e.chunks = append(e.chunks, c)
	}
	e.Int(int64(index))
}

func (e *Encoder) Slice(s *chunk.Slice) {
	e.Chunk(s.Chunk)
	e.Limit(s.LowerLimit)
	e.Limit(s.UpperLimit)
	e.Bool(s.SizeOverridden())
	if s.SizeOverridden() {
		e.Int(s.RowCount())
		e.Int(s.DataSize())
	}
}

func (e *Encoder) DataSlice(ds *chunk.DataSlice) {
	e.Len(len(ds.ChunkSlices))
	for _, s := range ds.ChunkSlices {
		e.Slice(s)
	}
	e.Limit(ds.LowerLimit)
	e.Limit(ds.UpperLimit)
	e.Int(int64(ds.TableIndex))
	e.Bool(ds.Versioned)
	e.Int(int64(ds.Tag))
}

// Stripe writes a stripe. A nil stripe is allowed.
func (e *Encoder) Stripe(s *chunk.Stripe) {
	e.Bool(s != nil)
	if s == nil {
		return
	}
	e.Bool(s.Foreign)
	e.Len(len(s.DataSlices))
	for _, ds := range s.DataSlices {
		e.DataSlice(ds)
	}
}

// StripeList writes the stripes of the list. Statistics are recomputed when the list is read.
func (e *Encoder) StripeList(l *chunk.StripeList) {
	e.Bool(l.IsApproximate)
	e.Len(len(l.Stripes))
	for _, s := range l.Stripes {
		e.Stripe(s)
	}
}

// Finish returns the complete snapshot with the payload compressed by codec.
func (e *Encoder) Finish(codec compress.Codec) ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	payload := proto.NewBuffer(make([]byte, 0, len(e.body.Bytes())+64*len(e.chunks)))
	e.check(payload.EncodeVarint(uint64(len(e.chunks))))
	for _, c := range e.chunks {
		writeInputChunk(payload, e.check, c)
	}
	if e.err != nil {
		return nil, e.err
	}
	raw := append(payload.Bytes(), e.body.Bytes()...)

	compressor, err := compress.NewCompressor(codec)
	if err != nil {
		return nil, err
	}
	compressed, err := compressor.Compress(raw)
	if err != nil {
		return nil, errors.WithMessage(err, "compressing snapshot")
	}

	header := proto.NewBuffer([]byte(magic))
	e.check(header.EncodeVarint(Version))
	if e.err != nil {
		return nil, e.err
	}
	rv := make([]byte, 0, len(header.Bytes())+1+len(compressed))
	rv = append(rv, header.Bytes()...)
	rv = append(rv, byte(codec))
	return append(rv, compressed...), nil
}

func writeKey(b *proto.Buffer, check func(error), k keys.Key) {
	check(b.EncodeVarint(uint64(len(k))))
	for _, v := range k {
		check(b.EncodeVarint(uint64(v.Type)))
		switch v.Type {
		case keys.Int64Type:
			check(b.EncodeZigzag64(uint64(v.Int)))
		case keys.Uint64Type:
			check(b.EncodeVarint(v.Uint))
		case keys.DoubleType:
			check(b.EncodeFixed64(math.Float64bits(v.Double)))
		case keys.BooleanType:
			if v.Bool {
				check(b.EncodeVarint(1))
			} else {
				check(b.EncodeVarint(0))
			}
		case keys.StringType:
			check(b.EncodeStringBytes(v.Str))
		}
	}
}

func writeLimitPtr(b *proto.Buffer, check func(error), l *chunk.Limit) {
	if l == nil {
		check(b.EncodeVarint(0))
		return
	}
	check(b.EncodeVarint(1))
	var flags uint64
	if l.Key != nil {
		flags |= 1
	}
	if l.HasRowIndex {
		flags |= 2
	}
	check(b.EncodeVarint(flags))
	if l.Key != nil {
		writeKey(b, check, l.Key)
	}
	if l.HasRowIndex {
		check(b.EncodeZigzag64(uint64(l.RowIndex)))
	}
}

func writeInputChunk(b *proto.Buffer, check func(error), c *chunk.InputChunk) {
	check(b.EncodeRawBytes(c.ID[:]))
	check(b.EncodeZigzag64(uint64(c.TableIndex)))
	check(b.EncodeZigzag64(uint64(c.TableRowIndex)))
	check(b.EncodeZigzag64(uint64(c.RowCount)))
	check(b.EncodeZigzag64(uint64(c.CompressedDataSize)))
	check(b.EncodeZigzag64(uint64(c.UncompressedDataSize)))
	if c.BoundaryKeys == nil {
		check(b.EncodeVarint(0))
	} else {
		check(b.EncodeVarint(1))
		writeKey(b, check, c.BoundaryKeys.MinKey)
		writeKey(b, check, c.BoundaryKeys.MaxKey)
	}
	writeLimitPtr(b, check, c.LowerLimit)
	writeLimitPtr(b, check, c.UpperLimit)
}
