package snapshot

import (
	"strings"
	"testing"

	"github.com/gogo/protobuf/proto"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
	"github.com/G-Research/chunkpool/internal/chunkpool/testfixtures"
	"github.com/G-Research/chunkpool/internal/common/compress"
	"github.com/G-Research/chunkpool/internal/common/poolerrors"
)

var k = testfixtures.K

func testStripeList() *chunk.StripeList {
	tables := testfixtures.NewTables([]bool{false, true}, nil, []bool{false, true})
	a := tables.CreateChunk(keys.Key{keys.StringValue("a"), keys.Int64Value(-3)}, keys.Key{keys.StringValue("z")}, 0)
	b := tables.CreateChunk(k(1), k(9), 1, testfixtures.WithLimits(k(2), nil))
	c := tables.CreateChunk(keys.Key{keys.DoubleValue(0.5), keys.NullValue()}, keys.Key{keys.BoolValue(true)}, 0)

	pieces := testfixtures.SliceUnversionedChunk(a, []keys.Key{{keys.StringValue("m")}}, []int64{100, 924}, []int64{400, 600})
	primary := chunk.NewStripe(chunk.NewUnversionedDataSlice(pieces[0]), chunk.NewUnversionedDataSlice(pieces[1]))
	primary.DataSlices[0].Tag = 3
	rowSlice := chunk.NewRowSlice(c, 10, 20, 77)
	primary.DataSlices = append(primary.DataSlices, chunk.NewUnversionedDataSlice(rowSlice))

	foreign := tables.Stripe(b)
	foreign.DataSlices[0].Tag = 5

	list := &chunk.StripeList{IsApproximate: true}
	list.AddStripe(primary)
	list.AddStripe(foreign)
	return list
}

func TestStripeList_RoundTrip(t *testing.T) {
	tests := map[string]struct {
		codec compress.Codec
	}{
		"none": {codec: compress.None},
		"zlib": {codec: compress.Zlib},
		"zstd": {codec: compress.Zstd},
		"lz4":  {codec: compress.Lz4},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			expected := testStripeList()
			e := NewEncoder()
			e.String("pool")
			e.StripeList(expected)
			e.Ints([]int{4, -1, 7})
			data, err := e.Finish(tc.codec)
			if !assert.NoError(t, err) {
				return
			}

			d, err := NewDecoder(data, 16)
			if !assert.NoError(t, err) {
				return
			}
			assert.Len(t, d.Chunks(), 3)
			assert.Equal(t, "pool", d.String())
			actual := d.StripeList()
			assert.Equal(t, []int{4, -1, 7}, d.Ints())
			require.NoError(t, d.Err())

			assert.Empty(t, cmp.Diff(expected, actual, cmp.AllowUnexported(chunk.Slice{})))
			// Both pieces of the first chunk refer to one restored instance.
			first := actual.Stripes[0].DataSlices
			assert.Same(t, first[0].ChunkSlices[0].Chunk, first[1].ChunkSlices[0].Chunk)
		})
	}
}

func TestEncoder_IsDeterministic(t *testing.T) {
	list := testStripeList()
	encode := func() []byte {
		e := NewEncoder()
		e.StripeList(list)
		data, err := e.Finish(compress.None)
		require.NoError(t, err)
		return data
	}
	assert.Equal(t, encode(), encode())
}

func TestNewDecoder_Errors(t *testing.T) {
	valid := func() []byte {
		e := NewEncoder()
		e.StripeList(testStripeList())
		data, err := e.Finish(compress.None)
		require.NoError(t, err)
		return data
	}

	t.Run("missing magic", func(t *testing.T) {
		_, err := NewDecoder([]byte("nope"), 16)
		var target *poolerrors.ErrInvalidArgument
		assert.ErrorAs(t, err, &target)
	})
	t.Run("unsupported version", func(t *testing.T) {
		header := proto.NewBuffer([]byte(magic))
		require.NoError(t, header.EncodeVarint(Version+1))
		data := append(header.Bytes(), byte(compress.None))
		_, err := NewDecoder(data, 16)
		var target *poolerrors.ErrUnsupportedSnapshotVersion
		if assert.ErrorAs(t, err, &target) {
			assert.Equal(t, Version+1, target.Version)
		}
	})
	t.Run("unknown codec", func(t *testing.T) {
		data := valid()
		data[len(magic)+1] = 200
		_, err := NewDecoder(data, 16)
		assert.Error(t, err)
	})
	t.Run("truncated body", func(t *testing.T) {
		data := valid()
		d, err := NewDecoder(data[:len(data)-3], 16)
		if err != nil {
			// The cut may fall inside the chunk table.
			return
		}
		d.StripeList()
		assert.Error(t, d.Err())
	})
	t.Run("sequence longer than the unread bytes", func(t *testing.T) {
		e := NewEncoder()
		e.String(strings.Repeat("x", 100))
		e.Len(60)
		e.Int(1)
		data, err := e.Finish(compress.None)
		require.NoError(t, err)

		d, err := NewDecoder(data, 16)
		require.NoError(t, err)
		assert.Len(t, d.String(), 100)
		assert.Equal(t, 0, d.Len())
		if assert.Error(t, d.Err()) {
			assert.Contains(t, d.Err().Error(), "exceeds the 1 unread bytes")
		}
	})
}
