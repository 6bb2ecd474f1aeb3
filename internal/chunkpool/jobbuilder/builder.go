// Package jobbuilder partitions the primary data slices of a sorted pool into jobs and attaches the matching
// foreign data slices to each of them.
package jobbuilder

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
	"github.com/G-Research/chunkpool/internal/common/poolerrors"
)

// Job is the input of one job produced by the builder.
type Job struct {
	StripeList *chunk.StripeList
	// Truncated key range covered by the primary data slices of the job.
	LowerKey keys.Key
	UpperKey keys.Key
	// Number of primary data slices in the job.
	PrimarySliceCount int
}

// InputCookies returns the distinct tags of the data slices of the job in increasing order.
func (j *Job) InputCookies() []int {
	seen := make(map[int]bool)
	var rv []int
	for _, s := range j.StripeList.Stripes {
		for _, ds := range s.DataSlices {
			if ds.Tag != chunk.NoTag && !seen[ds.Tag] {
				seen[ds.Tag] = true
				rv = append(rv, ds.Tag)
			}
		}
	}
	slices.Sort(rv)
	return rv
}

type Builder struct {
	options Options
	streams chunk.StreamDirectory
	log     *logrus.Entry
}

func NewBuilder(options Options, streams chunk.StreamDirectory, log *logrus.Entry) *Builder {
	return &Builder{
		options: options,
		streams: streams,
		log:     log,
	}
}

// Build cuts primary into jobs by sweeping over its truncated key range. No job spans the key range of a
// teleported chunk. Every job gets the foreign data slices that intersect its key range. Build does not modify its
// arguments.
func (b *Builder) Build(primary, foreign []*chunk.DataSlice, teleported []*chunk.InputChunk) ([]*Job, error) {
	for _, ds := range append(slices.Clone(primary), foreign...) {
		if ds.LowerKey() == nil || ds.UpperKey() == nil {
			return nil, errors.WithStack(&poolerrors.ErrMissingBoundaryKeys{ChunkId: chunkId(ds)})
		}
	}

	s := &sweep{
		options: b.options,
		streams: b.streams,
		foreign: newForeignIndex(foreign, b.options.ForeignPrefixLength),
	}
	for _, ds := range b.sliceManiacs(primary) {
		s.addPrimary(ds)
	}
	for _, c := range teleported {
		if c.BoundaryKeys == nil {
			return nil, errors.WithStack(&poolerrors.ErrMissingBoundaryKeys{ChunkId: c.ID})
		}
		s.addPivots(c.BoundaryKeys)
	}
	jobs := s.run()

	b.log.Debugf(
		"built %d jobs from %d primary and %d foreign data slices around %d teleported chunks",
		len(jobs), len(primary), len(foreign), len(teleported),
	)
	return jobs, nil
}

// sliceManiacs cuts single-key chunks that are too large for one job by row index. With the key guarantee
// such chunks must stay together and are left as they are.
func (b *Builder) sliceManiacs(primary []*chunk.DataSlice) []*chunk.DataSlice {
	if b.options.KeyGuarantee {
		return primary
	}
	rv := make([]*chunk.DataSlice, 0, len(primary))
	for _, ds := range primary {
		if ds.Versioned || !ds.HasAllRows() || !ds.IsSingleKey(b.options.PrimaryPrefixLength) ||
			(ds.DataSize() <= b.options.InputSliceDataSize && ds.RowCount() <= b.options.InputSliceRowCount) {
			rv = append(rv, ds)
			continue
		}
		for _, s := range ds.ChunkSlices[0].SliceEvenly(b.options.InputSliceDataSize, b.options.InputSliceRowCount) {
			piece := chunk.NewUnversionedDataSlice(s)
			piece.TableIndex = ds.TableIndex
			piece.Tag = ds.Tag
			rv = append(rv, piece)
		}
	}
	return rv
}

func chunkId(ds *chunk.DataSlice) uuid.UUID {
	if len(ds.ChunkSlices) == 0 {
		return uuid.Nil
	}
	return ds.ChunkSlices[0].Chunk.ID
}
