// Package chunk models sorted input chunks and the slices, data slices and stripes built from them.
package chunk

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
	"github.com/G-Research/chunkpool/internal/common/poolerrors"
)

// BoundaryKeys are the inclusive minimum and maximum keys stored in a chunk.
type BoundaryKeys struct {
	MinKey keys.Key
	MaxKey keys.Key
}

// Limit bounds a range of a chunk by key, by row index or by both. A nil Key means the limit has no key component.
// Lower limits are inclusive and upper limits are exclusive.
type Limit struct {
	Key         keys.Key
	RowIndex    int64
	HasRowIndex bool
}

func KeyLimit(k keys.Key) Limit {
	return Limit{Key: k}
}

func RowLimit(rowIndex int64) Limit {
	return Limit{RowIndex: rowIndex, HasRowIndex: true}
}

// IsTrivial returns true if the limit does not restrict anything.
func (l Limit) IsTrivial() bool {
	return l.Key == nil && !l.HasRowIndex
}

func (l *Limit) MergeLowerKey(k keys.Key) {
	if k == nil {
		return
	}
	if l.Key == nil || keys.Less(l.Key, k) {
		l.Key = k
	}
}

func (l *Limit) MergeUpperKey(k keys.Key) {
	if k == nil {
		return
	}
	if l.Key == nil || keys.Less(k, l.Key) {
		l.Key = k
	}
}

func (l *Limit) MergeLowerRowIndex(rowIndex int64) {
	if !l.HasRowIndex || rowIndex > l.RowIndex {
		l.RowIndex = rowIndex
		l.HasRowIndex = true
	}
}

func (l *Limit) MergeUpperRowIndex(rowIndex int64) {
	if !l.HasRowIndex || rowIndex < l.RowIndex {
		l.RowIndex = rowIndex
		l.HasRowIndex = true
	}
}

func (l Limit) Equal(other Limit) bool {
	if (l.Key == nil) != (other.Key == nil) {
		return false
	}
	if l.Key != nil && !keys.Equal(l.Key, other.Key) {
		return false
	}
	if l.HasRowIndex != other.HasRowIndex {
		return false
	}
	return !l.HasRowIndex || l.RowIndex == other.RowIndex
}

func (l Limit) String() string {
	if l.HasRowIndex {
		return fmt.Sprintf("{Key: %v, RowIndex: %d}", l.Key, l.RowIndex)
	}
	return fmt.Sprintf("{Key: %v}", l.Key)
}

// InputChunk is one physical sorted chunk. The pool reads its attributes but never modifies them.
type InputChunk struct {
	ID uuid.UUID
	// Index of the input stream the chunk belongs to.
	TableIndex int
	// Index of the first row of the chunk within its table.
	TableRowIndex        int64
	RowCount             int64
	CompressedDataSize   int64
	UncompressedDataSize int64
	BoundaryKeys         *BoundaryKeys
	// Optional read limits narrowing the chunk.
	LowerLimit *Limit
	UpperLimit *Limit
}

// IsCompleteChunk returns true if the whole chunk is to be read.
func (c *InputChunk) IsCompleteChunk() bool {
	return (c.LowerLimit == nil || c.LowerLimit.IsTrivial()) && (c.UpperLimit == nil || c.UpperLimit.IsTrivial())
}

// IsLargeCompleteChunk returns true if the whole chunk is to be read and it is at least minSize bytes compressed.
func (c *InputChunk) IsLargeCompleteChunk(minSize int64) bool {
	return c.IsCompleteChunk() && c.CompressedDataSize >= minSize
}

// LowerRowIndex returns the first row of the chunk that is to be read.
func (c *InputChunk) LowerRowIndex() int64 {
	if c.LowerLimit != nil && c.LowerLimit.HasRowIndex {
		return c.LowerLimit.RowIndex
	}
	return 0
}

// UpperRowIndex returns one past the last row of the chunk that is to be read.
func (c *InputChunk) UpperRowIndex() int64 {
	if c.UpperLimit != nil && c.UpperLimit.HasRowIndex {
		return c.UpperLimit.RowIndex
	}
	return c.RowCount
}

// LowerKey returns the inclusive lower key of the data to be read.
func (c *InputChunk) LowerKey() (keys.Key, error) {
	if c.LowerLimit != nil && c.LowerLimit.Key != nil {
		return c.LowerLimit.Key, nil
	}
	if c.BoundaryKeys == nil {
		return nil, errors.WithStack(&poolerrors.ErrMissingBoundaryKeys{ChunkId: c.ID})
	}
	return c.BoundaryKeys.MinKey, nil
}

// UpperKey returns the exclusive upper key of the data to be read.
func (c *InputChunk) UpperKey() (keys.Key, error) {
	if c.UpperLimit != nil && c.UpperLimit.Key != nil {
		return c.UpperLimit.Key, nil
	}
	if c.BoundaryKeys == nil {
		return nil, errors.WithStack(&poolerrors.ErrMissingBoundaryKeys{ChunkId: c.ID})
	}
	return keys.Successor(c.BoundaryKeys.MaxKey), nil
}

// Copy returns a new instance describing the same chunk, as produced when a chunk is fetched again.
func (c *InputChunk) Copy() *InputChunk {
	rv := *c
	if c.BoundaryKeys != nil {
		bk := *c.BoundaryKeys
		rv.BoundaryKeys = &bk
	}
	if c.LowerLimit != nil {
		l := *c.LowerLimit
		rv.LowerLimit = &l
	}
	if c.UpperLimit != nil {
		l := *c.UpperLimit
		rv.UpperLimit = &l
	}
	return &rv
}

// Validate returns every problem found with the chunk's attributes.
func (c *InputChunk) Validate() error {
	var result *multierror.Error
	if c.RowCount < 0 {
		result = multierror.Append(result, &poolerrors.ErrInvalidArgument{
			Name: "RowCount", Value: c.RowCount, Message: fmt.Sprintf("chunk %s", c.ID),
		})
	}
	if c.CompressedDataSize < 0 || c.UncompressedDataSize < 0 {
		result = multierror.Append(result, &poolerrors.ErrInvalidArgument{
			Name: "DataSize", Value: c.UncompressedDataSize, Message: fmt.Sprintf("chunk %s has negative size", c.ID),
		})
	}
	if c.TableIndex < 0 {
		result = multierror.Append(result, &poolerrors.ErrInvalidArgument{
			Name: "TableIndex", Value: c.TableIndex, Message: fmt.Sprintf("chunk %s", c.ID),
		})
	}
	if c.BoundaryKeys == nil {
		result = multierror.Append(result, &poolerrors.ErrMissingBoundaryKeys{ChunkId: c.ID})
	} else if keys.Less(c.BoundaryKeys.MaxKey, c.BoundaryKeys.MinKey) {
		result = multierror.Append(result, &poolerrors.ErrInvalidArgument{
			Name:    "BoundaryKeys",
			Value:   c.BoundaryKeys.MaxKey,
			Message: fmt.Sprintf("chunk %s has max key below min key %v", c.ID, c.BoundaryKeys.MinKey),
		})
	}
	if c.LowerRowIndex() > c.UpperRowIndex() {
		result = multierror.Append(result, &poolerrors.ErrInvalidArgument{
			Name: "UpperLimit", Value: c.UpperRowIndex(), Message: fmt.Sprintf("chunk %s has empty row range", c.ID),
		})
	}
	return result.ErrorOrNil()
}

// EquivalentChunks returns true if a and b describe the same data, even if they are different instances.
func EquivalentChunks(a, b *InputChunk) bool {
	if a == b {
		return true
	}
	if a.TableIndex != b.TableIndex ||
		a.TableRowIndex != b.TableRowIndex ||
		a.RowCount != b.RowCount ||
		a.CompressedDataSize != b.CompressedDataSize ||
		a.UncompressedDataSize != b.UncompressedDataSize {
		return false
	}
	if (a.BoundaryKeys == nil) != (b.BoundaryKeys == nil) {
		return false
	}
	if a.BoundaryKeys != nil &&
		(!keys.Equal(a.BoundaryKeys.MinKey, b.BoundaryKeys.MinKey) || !keys.Equal(a.BoundaryKeys.MaxKey, b.BoundaryKeys.MaxKey)) {
		return false
	}
	return equalLimitPtr(a.LowerLimit, b.LowerLimit) && equalLimitPtr(a.UpperLimit, b.UpperLimit)
}

func equalLimitPtr(a, b *Limit) bool {
	if a == nil || b == nil {
		return (a == nil || a.IsTrivial()) && (b == nil || b.IsTrivial())
	}
	return a.Equal(*b)
}
