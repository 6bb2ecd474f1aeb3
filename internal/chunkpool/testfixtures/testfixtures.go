// Package testfixtures builds tables, chunks and slices for tests of the sorted pool and its components, and checks
// the structural properties every set of jobs must have.
package testfixtures

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
)

const (
	DefaultChunkSize     = 1024
	DefaultChunkRowCount = 1000
)

// K is shorthand for an integer key.
var K = keys.FromInts

// Tables describes the input tables of a test and assigns table row indexes to the chunks created in them.
type Tables struct {
	Streams   chunk.StreamDirectory
	rowCounts []int64
}

// NewTables describes len(isForeign) tables. Missing entries of isTeleportable and isVersioned are false.
func NewTables(isForeign, isTeleportable, isVersioned []bool) *Tables {
	t := &Tables{
		Streams:   make(chunk.StreamDirectory, len(isForeign)),
		rowCounts: make([]int64, len(isForeign)),
	}
	for i := range isForeign {
		t.Streams[i] = chunk.StreamDescriptor{
			IsPrimary:      !isForeign[i],
			IsTeleportable: i < len(isTeleportable) && isTeleportable[i],
			IsVersioned:    i < len(isVersioned) && isVersioned[i],
		}
	}
	return t
}

// PrimaryTables describes n unversioned, non-teleportable primary tables.
func PrimaryTables(n int) *Tables {
	return NewTables(make([]bool, n), nil, nil)
}

type ChunkOption func(c *chunk.InputChunk)

// WithSize sets both the compressed and the uncompressed size of the chunk.
func WithSize(dataSize int64) ChunkOption {
	return func(c *chunk.InputChunk) {
		c.CompressedDataSize = dataSize
		c.UncompressedDataSize = dataSize
	}
}

func WithRowCount(rowCount int64) ChunkOption {
	return func(c *chunk.InputChunk) {
		c.RowCount = rowCount
	}
}

// WithLimits sets read limits on the chunk. Nil keys leave that side unlimited.
func WithLimits(lower, upper keys.Key) ChunkOption {
	return func(c *chunk.InputChunk) {
		if lower != nil {
			l := chunk.KeyLimit(lower)
			c.LowerLimit = &l
		}
		if upper != nil {
			l := chunk.KeyLimit(upper)
			c.UpperLimit = &l
		}
	}
}

// CreateChunk creates a chunk with boundary keys [minKey, maxKey] at the end of the table.
func (t *Tables) CreateChunk(minKey, maxKey keys.Key, tableIndex int, opts ...ChunkOption) *chunk.InputChunk {
	c := &chunk.InputChunk{
		ID:                   uuid.New(),
		TableIndex:           tableIndex,
		RowCount:             DefaultChunkRowCount,
		CompressedDataSize:   DefaultChunkSize,
		UncompressedDataSize: DefaultChunkSize,
		BoundaryKeys:         &chunk.BoundaryKeys{MinKey: minKey, MaxKey: maxKey},
	}
	for _, opt := range opts {
		opt(c)
	}
	if tableIndex < len(t.rowCounts) {
		c.TableRowIndex = t.rowCounts[tableIndex]
		t.rowCounts[tableIndex] += c.RowCount
	}
	return c
}

// DataSlice wraps the whole chunk into a data slice with limits inferred from its boundary keys. Chunks of
// versioned tables get versioned data slices.
func (t *Tables) DataSlice(c *chunk.InputChunk) *chunk.DataSlice {
	var ds *chunk.DataSlice
	if t.Streams.Get(c.TableIndex).IsVersioned {
		ds = chunk.NewVersionedDataSlice(c.TableIndex, []*chunk.Slice{chunk.NewSlice(c)}, limit(c.LowerLimit), limit(c.UpperLimit))
	} else {
		ds = chunk.NewUnversionedDataSlice(chunk.NewSlice(c))
	}
	if err := ds.InferLimitsFromBoundaryKeys(); err != nil {
		panic(err)
	}
	return ds
}

// Stripe wraps each chunk into a data slice of one stripe.
func (t *Tables) Stripe(chunks ...*chunk.InputChunk) *chunk.Stripe {
	stripe := chunk.NewStripe()
	for _, c := range chunks {
		stripe.DataSlices = append(stripe.DataSlices, t.DataSlice(c))
	}
	stripe.Foreign = len(chunks) > 0 && !t.Streams.Get(chunks[0].TableIndex).IsPrimary
	return stripe
}

func limit(l *chunk.Limit) chunk.Limit {
	if l == nil {
		return chunk.Limit{}
	}
	return *l
}

// SliceUnversionedChunk cuts the chunk at the given keys and assigns the given sizes and row counts to the pieces.
// sizes and rowCounts must have one more element than points.
func SliceUnversionedChunk(c *chunk.InputChunk, points []keys.Key, sizes, rowCounts []int64) []*chunk.Slice {
	whole := chunk.NewSlice(c)
	if err := whole.InferLimitsFromBoundaryKeys(); err != nil {
		panic(err)
	}
	pieces, err := whole.SplitByKeys(points)
	if err != nil {
		panic(err)
	}
	if len(sizes) != len(pieces) || len(rowCounts) != len(pieces) {
		panic(errors.Errorf("expected %d sizes and row counts, got %d and %d", len(pieces), len(sizes), len(rowCounts)))
	}
	for i, p := range pieces {
		p.OverrideSize(rowCounts[i], sizes[i])
	}
	return pieces
}
