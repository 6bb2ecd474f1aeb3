package chunk

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
	"github.com/G-Research/chunkpool/internal/common/poolerrors"
	"github.com/G-Research/chunkpool/internal/common/util"
)

// Slice is a contiguous sub-range of exactly one input chunk. Unless the size has been overridden, a slice reports
// the statistics of its whole chunk.
type Slice struct {
	Chunk      *InputChunk
	LowerLimit Limit
	UpperLimit Limit

	sizeOverridden bool
	dataSize       int64
	rowCount       int64
}

// NewSlice returns a slice covering everything the chunk's own read limits allow.
func NewSlice(c *InputChunk) *Slice {
	s := &Slice{Chunk: c}
	if c.LowerLimit != nil {
		s.LowerLimit = *c.LowerLimit
	}
	if c.UpperLimit != nil {
		s.UpperLimit = *c.UpperLimit
	}
	return s
}

// NewSliceWithKeys returns a whole chunk slice further narrowed to [lower, upper). Nil keys are ignored.
func NewSliceWithKeys(c *InputChunk, lower, upper keys.Key) *Slice {
	s := NewSlice(c)
	s.LowerLimit.MergeLowerKey(lower)
	s.UpperLimit.MergeUpperKey(upper)
	return s
}

// NewRowSlice returns a slice covering rows [lowerRowIndex, upperRowIndex) of the chunk with an explicit data size.
func NewRowSlice(c *InputChunk, lowerRowIndex, upperRowIndex, dataSize int64) *Slice {
	s := NewSlice(c)
	s.LowerLimit.MergeLowerRowIndex(lowerRowIndex)
	s.UpperLimit.MergeUpperRowIndex(upperRowIndex)
	s.OverrideSize(s.UpperLimit.RowIndex-s.LowerLimit.RowIndex, dataSize)
	return s
}

func (s *Slice) OverrideSize(rowCount, dataSize int64) {
	s.sizeOverridden = true
	s.rowCount = rowCount
	s.dataSize = dataSize
}

func (s *Slice) SizeOverridden() bool {
	return s.sizeOverridden
}

func (s *Slice) DataSize() int64 {
	if s.sizeOverridden {
		return s.dataSize
	}
	return s.Chunk.UncompressedDataSize
}

func (s *Slice) RowCount() int64 {
	if s.sizeOverridden {
		return s.rowCount
	}
	return s.Chunk.RowCount
}

func (s *Slice) LowerRowIndex() int64 {
	if s.LowerLimit.HasRowIndex {
		return s.LowerLimit.RowIndex
	}
	return 0
}

func (s *Slice) UpperRowIndex() int64 {
	if s.UpperLimit.HasRowIndex {
		return s.UpperLimit.RowIndex
	}
	return s.Chunk.RowCount
}

// Copy returns a copy of the slice referring to the same chunk.
func (s *Slice) Copy() *Slice {
	rv := *s
	return &rv
}

// WithChunk returns a copy of the slice referring to c instead.
func (s *Slice) WithChunk(c *InputChunk) *Slice {
	rv := *s
	rv.Chunk = c
	return &rv
}

// Narrow returns a copy of the slice restricted to [lower, upper). Nil keys are ignored. Statistics are
// kept as they are since the share of data inside the new key range is unknown.
func (s *Slice) Narrow(lower, upper keys.Key) *Slice {
	rv := *s
	rv.LowerLimit.MergeLowerKey(lower)
	rv.UpperLimit.MergeUpperKey(upper)
	return &rv
}

// NarrowedByKey returns true if the key limits of the slice exclude part of what the chunk's own read limits and
// boundary keys allow.
func (s *Slice) NarrowedByKey() bool {
	var lower, upper Limit
	if s.Chunk.LowerLimit != nil {
		lower = *s.Chunk.LowerLimit
	}
	if s.Chunk.UpperLimit != nil {
		upper = *s.Chunk.UpperLimit
	}
	if bk := s.Chunk.BoundaryKeys; bk != nil {
		lower.MergeLowerKey(bk.MinKey)
		upper.MergeUpperKey(keys.Successor(bk.MaxKey))
	}
	if s.LowerLimit.Key != nil && (lower.Key == nil || keys.Less(lower.Key, s.LowerLimit.Key)) {
		return true
	}
	return s.UpperLimit.Key != nil && (upper.Key == nil || keys.Less(s.UpperLimit.Key, upper.Key))
}

func (s *Slice) withRows(lowerRowIndex, upperRowIndex, dataSize int64) *Slice {
	rv := *s
	rv.LowerLimit.RowIndex = lowerRowIndex
	rv.LowerLimit.HasRowIndex = true
	rv.UpperLimit.RowIndex = upperRowIndex
	rv.UpperLimit.HasRowIndex = true
	rv.OverrideSize(upperRowIndex-lowerRowIndex, dataSize)
	return &rv
}

// SliceEvenly cuts the slice by row index into pieces of roughly sliceDataSize bytes or sliceRowCount rows,
// whichever produces more pieces. Data size is apportioned by row share and the rounding remainder is added to the
// first piece.
func (s *Slice) SliceEvenly(sliceDataSize, sliceRowCount int64) []*Slice {
	if sliceDataSize <= 0 || sliceRowCount <= 0 {
		panic(fmt.Sprintf("invalid slice targets dataSize=%d rowCount=%d", sliceDataSize, sliceRowCount))
	}
	lowerRowIndex := s.LowerRowIndex()
	upperRowIndex := s.UpperRowIndex()
	rowCount := upperRowIndex - lowerRowIndex

	count := util.Max(s.DataSize()/sliceDataSize, rowCount/sliceRowCount)
	count = util.Max(util.Min(count, rowCount), 1)

	dataSize := s.DataSize()
	var apportioned int64
	result := make([]*Slice, 0, count)
	for i := int64(0); i < count; i++ {
		sliceLowerRowIndex := lowerRowIndex + rowCount*i/count
		sliceUpperRowIndex := lowerRowIndex + rowCount*(i+1)/count
		if sliceLowerRowIndex < sliceUpperRowIndex {
			size := dataSize * (sliceUpperRowIndex - sliceLowerRowIndex) / util.Max(rowCount, 1)
			apportioned += size
			result = append(result, s.withRows(sliceLowerRowIndex, sliceUpperRowIndex, size))
		}
	}
	if len(result) > 0 {
		result[0].dataSize += dataSize - apportioned
	}
	return result
}

// SplitByRows cuts the slice at the supplied row offsets, relative to its first row, into len(offsets)+1 contiguous
// pieces. Data size is apportioned by row share and the rounding remainder is added to the first piece.
func (s *Slice) SplitByRows(offsets []int64) ([]*Slice, error) {
	lowerRowIndex := s.LowerRowIndex()
	rowCount := s.UpperRowIndex() - lowerRowIndex
	bounds := make([]int64, 0, len(offsets)+2)
	bounds = append(bounds, 0)
	for _, offset := range offsets {
		if offset <= bounds[len(bounds)-1] || offset >= rowCount {
			return nil, errors.WithStack(&poolerrors.ErrInvalidArgument{
				Name:    "offsets",
				Value:   offsets,
				Message: fmt.Sprintf("offsets must be increasing and inside (0, %d)", rowCount),
			})
		}
		bounds = append(bounds, offset)
	}
	bounds = append(bounds, rowCount)

	dataSize := s.DataSize()
	pieces := make([]*Slice, 0, len(bounds)-1)
	var apportioned int64
	for i := 0; i+1 < len(bounds); i++ {
		size := dataSize * (bounds[i+1] - bounds[i]) / util.Max(rowCount, 1)
		apportioned += size
		pieces = append(pieces, s.withRows(lowerRowIndex+bounds[i], lowerRowIndex+bounds[i+1], size))
	}
	pieces[0].dataSize += dataSize - apportioned
	return pieces, nil
}

// SplitByKeys cuts the slice at the supplied keys into len(splitKeys)+1 contiguous pieces with equal shares of the
// statistics. The rounding remainder is added to the first piece.
func (s *Slice) SplitByKeys(splitKeys []keys.Key) ([]*Slice, error) {
	if s.LowerLimit.Key == nil || s.UpperLimit.Key == nil {
		return nil, errors.WithStack(&poolerrors.ErrMissingBoundaryKeys{ChunkId: s.Chunk.ID})
	}
	bounds := make([]keys.Key, 0, len(splitKeys)+2)
	bounds = append(bounds, s.LowerLimit.Key)
	for _, k := range splitKeys {
		if !keys.Less(bounds[len(bounds)-1], k) || !keys.Less(k, s.UpperLimit.Key) {
			return nil, errors.WithStack(&poolerrors.ErrInvalidArgument{
				Name:    "splitKeys",
				Value:   k,
				Message: fmt.Sprintf("split keys must be increasing and inside (%v, %v)", s.LowerLimit.Key, s.UpperLimit.Key),
			})
		}
		bounds = append(bounds, k)
	}
	bounds = append(bounds, s.UpperLimit.Key)

	n := int64(len(bounds) - 1)
	dataSize, rowCount := s.DataSize(), s.RowCount()
	pieces := make([]*Slice, 0, n)
	for i := 0; i+1 < len(bounds); i++ {
		piece := *s
		piece.LowerLimit.Key = bounds[i]
		piece.UpperLimit.Key = bounds[i+1]
		piece.OverrideSize(rowCount/n, dataSize/n)
		pieces = append(pieces, &piece)
	}
	pieces[0].rowCount += rowCount - n*(rowCount/n)
	pieces[0].dataSize += dataSize - n*(dataSize/n)
	return pieces, nil
}

// InferLimitsFromBoundaryKeys narrows the key limits of the slice to the boundary keys of its chunk.
func (s *Slice) InferLimitsFromBoundaryKeys() error {
	bk := s.Chunk.BoundaryKeys
	if bk == nil {
		return errors.WithStack(&poolerrors.ErrMissingBoundaryKeys{ChunkId: s.Chunk.ID})
	}
	s.LowerLimit.MergeLowerKey(bk.MinKey)
	s.UpperLimit.MergeUpperKey(keys.Successor(bk.MaxKey))
	return nil
}

func (s *Slice) String() string {
	return fmt.Sprintf("{Chunk: %s, Lower: %v, Upper: %v}", s.Chunk.ID, s.LowerLimit, s.UpperLimit)
}
