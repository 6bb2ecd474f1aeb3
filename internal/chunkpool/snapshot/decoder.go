package snapshot

import (
	"bytes"
	"math"

	"github.com/gogo/protobuf/proto"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
	"github.com/G-Research/chunkpool/internal/common/compress"
	"github.com/G-Research/chunkpool/internal/common/poolerrors"
	"github.com/G-Research/chunkpool/internal/common/stringinterner"
)

// Decoder reads the body of a snapshot in the order it was written. Errors are sticky: once a read fails every
// later read returns a zero value and Err returns the first error.
type Decoder struct {
	buf      *proto.Buffer
	chunks   []*chunk.InputChunk
	interner *stringinterner.StringInterner
	err      error
	// Bytes of the payload not read yet.
	remaining int
}

// NewDecoder checks the header of data, decompresses the payload and reads the chunk table. String key values are
// interned in an LRU of internerSize entries.
func NewDecoder(data []byte, internerSize uint32) (*Decoder, error) {
	if !bytes.HasPrefix(data, []byte(magic)) {
		return nil, errors.WithStack(&poolerrors.ErrInvalidArgument{
			Name:    "snapshot",
			Value:   len(data),
			Message: "missing snapshot magic bytes",
		})
	}
	header := proto.NewBuffer(data[len(magic):])
	version, err := header.DecodeVarint()
	if err != nil {
		return nil, errors.Wrap(err, "reading snapshot version")
	}
	if version != Version {
		return nil, errors.WithStack(&poolerrors.ErrUnsupportedSnapshotVersion{Version: version, Supported: Version})
	}
	// The version is at most 10 bytes; the codec byte follows it.
	rest := data[len(magic)+proto.SizeVarint(version):]
	if len(rest) == 0 {
		return nil, errors.Errorf("snapshot of version %d has no codec", version)
	}
	decompressor, err := compress.NewDecompressor(compress.Codec(rest[0]))
	if err != nil {
		return nil, err
	}
	payload, err := decompressor.Decompress(rest[1:])
	if err != nil {
		return nil, errors.WithMessage(err, "decompressing snapshot")
	}

	d := &Decoder{
		buf:       proto.NewBuffer(payload),
		remaining: len(payload),
		interner:  stringinterner.New(internerSize),
	}
	n := d.Len()
	for i := 0; i < n && d.err == nil; i++ {
		d.chunks = append(d.chunks, d.inputChunk())
	}
	if d.err != nil {
		return nil, errors.WithMessage(d.err, "reading chunk table")
	}
	return d, nil
}

// Err returns the first error encountered.
func (d *Decoder) Err() error {
	return d.err
}

// Chunks returns every chunk of the chunk table.
func (d *Decoder) Chunks() []*chunk.InputChunk {
	return d.chunks
}

func (d *Decoder) check(err error) {
	if d.err == nil && err != nil {
		d.err = errors.WithStack(err)
	}
}

// consumed accounts for n bytes of a successful read.
func (d *Decoder) consumed(n int) {
	if d.err == nil {
		d.remaining -= n
	}
}

func (d *Decoder) Uint() uint64 {
	if d.err != nil {
		return 0
	}
	v, err := d.buf.DecodeVarint()
	d.check(err)
	d.consumed(proto.SizeVarint(v))
	return v
}

func (d *Decoder) Int() int64 {
	if d.err != nil {
		return 0
	}
	v, err := d.buf.DecodeZigzag64()
	d.check(err)
	x := int64(v)
	d.consumed(proto.SizeVarint(uint64(x<<1) ^ uint64(x>>63)))
	return x
}

func (d *Decoder) Bool() bool {
	return d.Uint() != 0
}

func (d *Decoder) Double() float64 {
	if d.err != nil {
		return 0
	}
	v, err := d.buf.DecodeFixed64()
	d.check(err)
	d.consumed(8)
	return math.Float64frombits(v)
}

func (d *Decoder) String() string {
	if d.err != nil {
		return ""
	}
	s, err := d.buf.DecodeStringBytes()
	d.check(err)
	d.consumed(proto.SizeVarint(uint64(len(s))) + len(s))
	return s
}

func (d *Decoder) Bytes() []byte {
	if d.err != nil {
		return nil
	}
	b, err := d.buf.DecodeRawBytes(true)
	d.check(err)
	d.consumed(proto.SizeVarint(uint64(len(b))) + len(b))
	return b
}

// Len reads the length of a sequence. Every element takes at least one byte, so a length above the number of unread
// bytes is an error.
func (d *Decoder) Len() int {
	n := d.Uint()
	if n > uint64(d.remaining) {
		d.check(errors.Errorf("sequence length %d exceeds the %d unread bytes", n, d.remaining))
		return 0
	}
	return int(n)
}

func (d *Decoder) Ints() []int {
	n := d.Len()
	if n == 0 {
		return nil
	}
	var rv []int
	for i := 0; i < n && d.err == nil; i++ {
		rv = append(rv, int(d.Int()))
	}
	return rv
}

func (d *Decoder) Key() keys.Key {
	n := d.Len()
	rv := keys.Key{}
	for i := 0; i < n && d.err == nil; i++ {
		rv = append(rv, d.value())
	}
	return rv
}

func (d *Decoder) value() keys.Value {
	t := keys.ValueType(d.Uint())
	switch t {
	case keys.MinType, keys.NullType, keys.MaxType:
		return keys.Value{Type: t}
	case keys.Int64Type:
		return keys.Int64Value(d.Int())
	case keys.Uint64Type:
		return keys.Uint64Value(d.Uint())
	case keys.DoubleType:
		return keys.DoubleValue(d.Double())
	case keys.BooleanType:
		return keys.BoolValue(d.Bool())
	case keys.StringType:
		return keys.StringValue(d.interner.Intern(d.String()))
	default:
		d.check(errors.Errorf("unknown key value type %d", t))
		return keys.Value{}
	}
}

func (d *Decoder) Limit() chunk.Limit {
	var l chunk.Limit
	if d.Bool() {
		l.Key = d.Key()
	}
	if d.Bool() {
		l.HasRowIndex = true
		l.RowIndex = d.Int()
	}
	return l
}

// Chunk reads a chunk reference written by Encoder.Chunk.
func (d *Decoder) Chunk() *chunk.InputChunk {
	index := d.Int()
	if index == -1 || d.err != nil {
		return nil
	}
	if index < 0 || index >= int64(len(d.chunks)) {
		d.check(errors.Errorf("chunk reference %d is outside of the chunk table of %d chunks", index, len(d.chunks)))
		return nil
	}
	return d.chunks[index]
}

func (d *Decoder) Slice() *chunk.Slice {
	s := &chunk.Slice{
		Chunk:      d.Chunk(),
		LowerLimit: d.Limit(),
		UpperLimit: d.Limit(),
	}
	if d.Bool() {
		rowCount := d.Int()
		dataSize := d.Int()
		s.OverrideSize(rowCount, dataSize)
	}
	if s.Chunk == nil {
		d.check(errors.New("chunk slice without a chunk"))
	}
	return s
}

func (d *Decoder) DataSlice() *chunk.DataSlice {
	n := d.Len()
	ds := &chunk.DataSlice{}
	for i := 0; i < n && d.err == nil; i++ {
		ds.ChunkSlices = append(ds.ChunkSlices, d.Slice())
	}
	ds.LowerLimit = d.Limit()
	ds.UpperLimit = d.Limit()
	ds.TableIndex = int(d.Int())
	ds.Versioned = d.Bool()
	ds.Tag = int(d.Int())
	return ds
}

func (d *Decoder) Stripe() *chunk.Stripe {
	if !d.Bool() {
		return nil
	}
	s := &chunk.Stripe{Foreign: d.Bool()}
	n := d.Len()
	for i := 0; i < n && d.err == nil; i++ {
		s.DataSlices = append(s.DataSlices, d.DataSlice())
	}
	return s
}

func (d *Decoder) StripeList() *chunk.StripeList {
	l := &chunk.StripeList{IsApproximate: d.Bool()}
	n := d.Len()
	for i := 0; i < n && d.err == nil; i++ {
		if s := d.Stripe(); s != nil {
			l.AddStripe(s)
		}
	}
	return l
}

func (d *Decoder) limitPtr() *chunk.Limit {
	if d.Uint() == 0 {
		return nil
	}
	flags := d.Uint()
	l := &chunk.Limit{}
	if flags&1 != 0 {
		l.Key = d.Key()
	}
	if flags&2 != 0 {
		l.HasRowIndex = true
		l.RowIndex = d.Int()
	}
	return l
}

func (d *Decoder) inputChunk() *chunk.InputChunk {
	c := &chunk.InputChunk{}
	id, err := uuid.FromBytes(d.Bytes())
	if d.err == nil && err != nil {
		d.check(err)
	}
	c.ID = id
	c.TableIndex = int(d.Int())
	c.TableRowIndex = d.Int()
	c.RowCount = d.Int()
	c.CompressedDataSize = d.Int()
	c.UncompressedDataSize = d.Int()
	if d.Bool() {
		c.BoundaryKeys = &chunk.BoundaryKeys{MinKey: d.Key(), MaxKey: d.Key()}
	}
	c.LowerLimit = d.limitPtr()
	c.UpperLimit = d.limitPtr()
	return c
}
