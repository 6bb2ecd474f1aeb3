// Package slicing cuts the data slices of a sorted pool into pieces small enough to build jobs from.
package slicing

import (
	"github.com/pkg/errors"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/configuration"
	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
	"github.com/G-Research/chunkpool/internal/common/poolcontext"
	"github.com/G-Research/chunkpool/internal/common/poolerrors"
)

// Coordinator decides how every data slice is sliced and drives a single fetcher for the chunks that need it.
//
// A data slice is kept as it is if there is no fetcher factory, if it is small enough, if all of its rows share one
// key prefix, or if it does not cover all rows of one unversioned chunk. Otherwise it is sliced by row index locally,
// or by key through the fetcher when SliceByKeys is set. Fetched slices are narrowed to the key range of the data
// slice they replace.
type Coordinator struct {
	config  configuration.PoolConfig
	factory FetcherFactory
}

// NewCoordinator returns a coordinator creating fetchers with factory, which may be nil.
func NewCoordinator(config configuration.PoolConfig, factory FetcherFactory) *Coordinator {
	return &Coordinator{
		config:  config,
		factory: factory,
	}
}

// Slice returns the pieces of dataSlices in input order. The pieces of one chunk are in physical order and keep the
// table index and tag of the data slice they were cut from. Data slices must have inferred limits.
func (c *Coordinator) Slice(ctx *poolcontext.Context, dataSlices []*chunk.DataSlice) ([]*chunk.DataSlice, error) {
	pieces := make([][]*chunk.DataSlice, len(dataSlices))
	var fetcher Fetcher
	fetched := make(map[*chunk.InputChunk]bool)
	var fetchedIndexes []int
	for i, ds := range dataSlices {
		if ds.LowerKey() == nil || ds.UpperKey() == nil {
			return nil, errors.WithStack(&poolerrors.ErrMissingBoundaryKeys{ChunkId: ds.ChunkSlices[0].Chunk.ID})
		}
		if !c.needsSlicing(ds) {
			pieces[i] = []*chunk.DataSlice{ds}
			continue
		}
		if !c.config.SliceByKeys {
			pieces[i] = wrap(ds, ds.ChunkSlices[0].SliceEvenly(int64(c.config.InputSliceDataSize), int64(c.config.InputSliceRowCount)))
			continue
		}
		fetchedIndexes = append(fetchedIndexes, i)
		inputChunk := ds.ChunkSlices[0].Chunk
		if fetched[inputChunk] {
			continue
		}
		if fetcher == nil {
			fetcher = c.factory.CreateFetcher()
		}
		fetcher.AddChunk(inputChunk)
		fetched[inputChunk] = true
	}

	if fetcher != nil {
		ctx.Log.Infof("fetching slices of %d chunks", len(fetched))
		if err := fetcher.Fetch(ctx); err != nil {
			return nil, errors.WithMessage(err, "fetching chunk slices")
		}
		byChunk := make(map[*chunk.InputChunk][]*chunk.Slice, len(fetched))
		for _, s := range fetcher.GetChunkSlices() {
			if !fetched[s.Chunk] {
				return nil, errors.Errorf("fetcher returned a slice of chunk %s which was not requested", s.Chunk.ID)
			}
			byChunk[s.Chunk] = append(byChunk[s.Chunk], s)
		}
		checked := make(map[*chunk.InputChunk][]*chunk.Slice, len(fetched))
		for _, i := range fetchedIndexes {
			ds := dataSlices[i]
			inputChunk := ds.ChunkSlices[0].Chunk
			slices, ok := checked[inputChunk]
			if !ok {
				var err error
				if slices, err = checkFetchedSlices(inputChunk, byChunk[inputChunk]); err != nil {
					return nil, err
				}
				checked[inputChunk] = slices
			}
			narrowed := narrowSlices(slices, ds)
			if len(narrowed) == 0 {
				pieces[i] = []*chunk.DataSlice{ds}
				continue
			}
			pieces[i] = wrap(ds, narrowed)
		}
	}

	var rv []*chunk.DataSlice
	var sliceCount int64
	for _, p := range pieces {
		rv = append(rv, p...)
		for _, ds := range p {
			sliceCount += int64(ds.ChunkCount())
		}
	}
	if sliceCount > c.config.MaxTotalSliceCount {
		return nil, errors.WithStack(&poolerrors.ErrSliceLimitExceeded{Actual: sliceCount, Limit: c.config.MaxTotalSliceCount})
	}
	return rv, nil
}

func (c *Coordinator) needsSlicing(ds *chunk.DataSlice) bool {
	if c.factory == nil {
		return false
	}
	if ds.Versioned || !ds.HasAllRows() {
		return false
	}
	if ds.DataSize() <= int64(c.config.InputSliceDataSize) {
		return false
	}
	return !ds.IsSingleKey(c.config.PrimaryPrefixLength)
}

// checkFetchedSlices sorts the slices of one chunk and verifies that no rows were lost.
func checkFetchedSlices(c *chunk.InputChunk, slices []*chunk.Slice) ([]*chunk.Slice, error) {
	expectedRows := c.UpperRowIndex() - c.LowerRowIndex()
	if len(slices) == 0 {
		return nil, errors.WithStack(&poolerrors.ErrRowCountMismatch{ChunkId: c.ID, Expected: expectedRows, Actual: 0})
	}
	wrapped := make([]*chunk.DataSlice, len(slices))
	for i, s := range slices {
		if err := s.InferLimitsFromBoundaryKeys(); err != nil {
			return nil, err
		}
		wrapped[i] = chunk.NewUnversionedDataSlice(s)
	}
	chunk.SortDataSlices(wrapped)

	hasKeyLimits := (c.LowerLimit != nil && c.LowerLimit.Key != nil) || (c.UpperLimit != nil && c.UpperLimit.Key != nil)
	var actualRows int64
	rv := make([]*chunk.Slice, len(wrapped))
	for i, ds := range wrapped {
		rv[i] = ds.ChunkSlices[0]
		actualRows += rv[i].RowCount()
	}
	if !hasKeyLimits && actualRows != expectedRows {
		return nil, errors.WithStack(&poolerrors.ErrRowCountMismatch{ChunkId: c.ID, Expected: expectedRows, Actual: actualRows})
	}
	return rv, nil
}

// narrowSlices restricts the slices fetched for a whole chunk to the key range of one of its data slices and drops
// the ones left empty.
func narrowSlices(slices []*chunk.Slice, ds *chunk.DataSlice) []*chunk.Slice {
	rv := make([]*chunk.Slice, 0, len(slices))
	for _, s := range slices {
		if !keys.Less(s.LowerLimit.Key, ds.LowerKey()) && !keys.Less(ds.UpperKey(), s.UpperLimit.Key) {
			rv = append(rv, s)
			continue
		}
		narrowed := s.Narrow(ds.LowerKey(), ds.UpperKey())
		if keys.Less(narrowed.LowerLimit.Key, narrowed.UpperLimit.Key) {
			rv = append(rv, narrowed)
		}
	}
	return rv
}

// wrap turns the slices cut from parent into data slices that inherit its table and tag.
func wrap(parent *chunk.DataSlice, slices []*chunk.Slice) []*chunk.DataSlice {
	rv := make([]*chunk.DataSlice, len(slices))
	for i, s := range slices {
		ds := chunk.NewUnversionedDataSlice(s)
		ds.TableIndex = parent.TableIndex
		ds.Tag = parent.Tag
		rv[i] = ds
	}
	return rv
}
