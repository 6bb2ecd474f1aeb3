package chunk

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
	"github.com/G-Research/chunkpool/internal/common/poolerrors"
)

// NoTag marks a data slice that has not been registered with a pool.
const NoTag = -1

// DataSlice is the unit placed into stripes. An unversioned data slice wraps exactly one chunk slice; a versioned
// one coalesces the chunk slices of several overlapping chunks that must be read together.
type DataSlice struct {
	ChunkSlices []*Slice
	// Effective limits of the data slice as a whole.
	LowerLimit Limit
	UpperLimit Limit
	TableIndex int
	Versioned  bool
	// Tag is the input cookie of the stripe this data slice was added with, or NoTag.
	Tag int
}

func NewUnversionedDataSlice(s *Slice) *DataSlice {
	return &DataSlice{
		ChunkSlices: []*Slice{s},
		LowerLimit:  s.LowerLimit,
		UpperLimit:  s.UpperLimit,
		TableIndex:  s.Chunk.TableIndex,
		Tag:         NoTag,
	}
}

func NewVersionedDataSlice(tableIndex int, chunkSlices []*Slice, lower, upper Limit) *DataSlice {
	return &DataSlice{
		ChunkSlices: chunkSlices,
		LowerLimit:  lower,
		UpperLimit:  upper,
		TableIndex:  tableIndex,
		Versioned:   true,
		Tag:         NoTag,
	}
}

// Copy returns a copy of the data slice that can be modified without affecting the original.
func (d *DataSlice) Copy() *DataSlice {
	rv := *d
	rv.ChunkSlices = slices.Clone(d.ChunkSlices)
	return &rv
}

// Narrow returns a copy restricted to [lower, upper). Nil keys are ignored.
func (d *DataSlice) Narrow(lower, upper keys.Key) *DataSlice {
	rv := *d
	rv.ChunkSlices = make([]*Slice, len(d.ChunkSlices))
	for i, s := range d.ChunkSlices {
		rv.ChunkSlices[i] = s.Narrow(lower, upper)
	}
	rv.LowerLimit.MergeLowerKey(lower)
	rv.UpperLimit.MergeUpperKey(upper)
	return &rv
}

// LowerKey returns the inclusive lower key of the data slice. Limits must have been inferred.
func (d *DataSlice) LowerKey() keys.Key {
	return d.LowerLimit.Key
}

// UpperKey returns the exclusive upper key of the data slice. Limits must have been inferred.
func (d *DataSlice) UpperKey() keys.Key {
	return d.UpperLimit.Key
}

// IsSingleKey returns true if every row of the data slice has the same key prefix of the given length.
func (d *DataSlice) IsSingleKey(prefixLength int) bool {
	lower := keys.Prefix(d.LowerKey(), prefixLength)
	upper := keys.TruncateUpper(d.UpperKey(), prefixLength)
	return !keys.Less(keys.Successor(lower), upper)
}

func (d *DataSlice) DataSize() int64 {
	var rv int64
	for _, s := range d.ChunkSlices {
		rv += s.DataSize()
	}
	return rv
}

func (d *DataSlice) RowCount() int64 {
	var rv int64
	for _, s := range d.ChunkSlices {
		rv += s.RowCount()
	}
	return rv
}

func (d *DataSlice) ChunkCount() int {
	return len(d.ChunkSlices)
}

// SingleChunk returns the only chunk of an unversioned data slice.
func (d *DataSlice) SingleChunk() (*InputChunk, error) {
	if d.Versioned || len(d.ChunkSlices) != 1 {
		return nil, errors.WithStack(&poolerrors.ErrInvalidArgument{
			Name:    "DataSlice",
			Value:   len(d.ChunkSlices),
			Message: "expected an unversioned data slice with a single chunk",
		})
	}
	return d.ChunkSlices[0].Chunk, nil
}

// IsWholeChunk returns true if the data slice is a single chunk slice covering everything its chunk allows, both by
// row index and by key.
func (d *DataSlice) IsWholeChunk() bool {
	return d.HasAllRows() && !d.ChunkSlices[0].NarrowedByKey()
}

// HasAllRows returns true if the data slice is a single chunk slice with the row range and statistics of its whole
// chunk. Its key limits may still be narrower than the chunk.
func (d *DataSlice) HasAllRows() bool {
	if d.Versioned || len(d.ChunkSlices) != 1 {
		return false
	}
	s := d.ChunkSlices[0]
	return !s.SizeOverridden() && s.LowerRowIndex() == s.Chunk.LowerRowIndex() && s.UpperRowIndex() == s.Chunk.UpperRowIndex()
}

// InferLimitsFromBoundaryKeys narrows the key limits of every chunk slice and of the data slice itself to the
// boundary keys of the underlying chunks.
func (d *DataSlice) InferLimitsFromBoundaryKeys() error {
	var minKey, maxKey keys.Key
	for _, s := range d.ChunkSlices {
		if err := s.InferLimitsFromBoundaryKeys(); err != nil {
			return err
		}
		bk := s.Chunk.BoundaryKeys
		if minKey == nil || keys.Less(bk.MinKey, minKey) {
			minKey = bk.MinKey
		}
		if maxKey == nil || keys.Less(maxKey, bk.MaxKey) {
			maxKey = bk.MaxKey
		}
	}
	if minKey != nil {
		d.LowerLimit.MergeLowerKey(minKey)
		d.UpperLimit.MergeUpperKey(keys.Successor(maxKey))
	}
	return nil
}

// SortDataSlices orders the data slices of one stripe as they must be read: unversioned slices of different
// chunks by the chunk's position in its table, slices of one chunk by row index and then by key. Versioned slices
// are ordered by key.
func SortDataSlices(dataSlices []*DataSlice) {
	slices.SortStableFunc(dataSlices, func(a, b *DataSlice) bool {
		return dataSliceLess(a, b)
	})
}

func dataSliceLess(a, b *DataSlice) bool {
	if a.Versioned || b.Versioned {
		return keys.Less(a.LowerKey(), b.LowerKey())
	}
	ca, cb := a.ChunkSlices[0], b.ChunkSlices[0]
	if ca.Chunk != cb.Chunk {
		if ca.Chunk.TableRowIndex != cb.Chunk.TableRowIndex {
			return ca.Chunk.TableRowIndex < cb.Chunk.TableRowIndex
		}
		return keys.Less(a.LowerKey(), b.LowerKey())
	}
	if ca.LowerLimit.HasRowIndex && cb.LowerLimit.HasRowIndex && ca.LowerLimit.RowIndex != cb.LowerLimit.RowIndex {
		return ca.LowerLimit.RowIndex < cb.LowerLimit.RowIndex
	}
	return keys.Less(a.LowerKey(), b.LowerKey())
}
