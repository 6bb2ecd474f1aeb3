// Package teleport decides which whole input chunks can bypass the jobs of a sorted pool.
package teleport

import (
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/configuration"
	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
	"github.com/G-Research/chunkpool/internal/common/poolerrors"
)

// Detector finds teleport chunks among the primary data slices of a pool.
//
// A candidate is a whole, unversioned chunk of a teleportable primary table that is at least MinTeleportChunkSize
// bytes compressed. Key ranges are compared after truncation to PrimaryPrefixLength columns. With the key guarantee
// enabled a candidate must not share any key with another primary slice. Otherwise it may share one key with another
// slice provided that key is on the boundary of both ranges.
type Detector struct {
	streams      chunk.StreamDirectory
	prefixLength int
	minSize      configuration.Size
	keyGuarantee bool
}

func NewDetector(config configuration.PoolConfig, streams chunk.StreamDirectory) *Detector {
	return &Detector{
		streams:      streams,
		prefixLength: config.PrimaryPrefixLength,
		minSize:      config.MinTeleportChunkSize,
		keyGuarantee: config.EnableKeyGuarantee,
	}
}

// Enabled returns false if no chunk can ever be teleported.
func (d *Detector) Enabled() bool {
	return !d.minSize.IsInfinite() && !d.streams.HasForeign()
}

type interval struct {
	// Index into the slice passed to Detect.
	index int
	lower keys.Key
	upper keys.Key
}

// Detect returns the data slices whose chunks are teleported, ordered by truncated lower key and then by their
// position in dataSlices. Data slices of foreign tables are ignored.
func (d *Detector) Detect(dataSlices []*chunk.DataSlice) ([]*chunk.DataSlice, error) {
	if !d.Enabled() {
		return nil, nil
	}

	intervals := make([]interval, 0, len(dataSlices))
	var candidates []interval
	for i, ds := range dataSlices {
		if !d.streams.Get(ds.TableIndex).IsPrimary {
			continue
		}
		if ds.LowerKey() == nil || ds.UpperKey() == nil {
			return nil, errors.WithStack(&poolerrors.ErrMissingBoundaryKeys{ChunkId: firstChunkId(ds)})
		}
		iv := interval{
			index: i,
			lower: keys.Prefix(ds.LowerKey(), d.prefixLength),
			upper: keys.TruncateUpper(ds.UpperKey(), d.prefixLength),
		}
		intervals = append(intervals, iv)

		c, ok := d.candidate(ds)
		if !ok {
			continue
		}
		if c.BoundaryKeys == nil {
			return nil, errors.WithStack(&poolerrors.ErrMissingBoundaryKeys{ChunkId: c.ID})
		}
		candidates = append(candidates, interval{
			index: i,
			lower: keys.Prefix(c.BoundaryKeys.MinKey, d.prefixLength),
			// Inclusive for candidates.
			upper: keys.Prefix(c.BoundaryKeys.MaxKey, d.prefixLength),
		})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	slices.SortStableFunc(intervals, func(a, b interval) bool {
		return keys.Less(a.lower, b.lower)
	})
	// prefixMaxUpper[i] is the largest upper bound among intervals[0..i].
	prefixMaxUpper := make([]keys.Key, len(intervals))
	for i, iv := range intervals {
		prefixMaxUpper[i] = iv.upper
		if i > 0 {
			prefixMaxUpper[i] = keys.Max(prefixMaxUpper[i-1], iv.upper)
		}
	}

	var teleported []interval
	for _, c := range candidates {
		if !d.conflicts(c, intervals, prefixMaxUpper) {
			teleported = append(teleported, c)
		}
	}
	slices.SortStableFunc(teleported, func(a, b interval) bool {
		return keys.Less(a.lower, b.lower)
	})

	rv := make([]*chunk.DataSlice, len(teleported))
	for i, iv := range teleported {
		rv[i] = dataSlices[iv.index]
	}
	log.Debugf("%d of %d candidate chunks can be teleported", len(rv), len(candidates))
	return rv, nil
}

func (d *Detector) candidate(ds *chunk.DataSlice) (*chunk.InputChunk, bool) {
	stream := d.streams.Get(ds.TableIndex)
	if !stream.IsTeleportable || stream.IsVersioned || ds.Versioned || !ds.IsWholeChunk() {
		return nil, false
	}
	c, err := ds.SingleChunk()
	if err != nil {
		return nil, false
	}
	return c, c.IsLargeCompleteChunk(int64(d.minSize))
}

func (d *Detector) conflicts(c interval, intervals []interval, prefixMaxUpper []keys.Key) bool {
	// Intervals starting below the candidate can only reach into it from the left. In merge mode they may end
	// right after the candidate's first key.
	below := sort.Search(len(intervals), func(i int) bool {
		return !keys.Less(intervals[i].lower, c.lower)
	})
	if below > 0 {
		bound := c.lower
		if !d.keyGuarantee {
			bound = keys.Successor(c.lower)
		}
		if keys.Less(bound, prefixMaxUpper[below-1]) {
			return true
		}
	}
	for i := below; i < len(intervals) && !keys.Less(c.upper, intervals[i].lower); i++ {
		other := intervals[i]
		if other.index == c.index {
			continue
		}
		if d.conflict(c, other) {
			return true
		}
	}
	return false
}

// conflict checks a candidate [c.lower, c.upper] against a slice [s.lower, s.upper).
func (d *Detector) conflict(c, s interval) bool {
	if d.keyGuarantee {
		return !keys.Less(c.upper, s.lower) && keys.Less(c.lower, s.upper)
	}
	overlapLower := keys.Max(c.lower, s.lower)
	overlapUpper := keys.Min(keys.Successor(c.upper), s.upper)
	if !keys.Less(overlapLower, overlapUpper) {
		return false
	}
	if keys.Less(keys.Successor(overlapLower), overlapUpper) {
		return true
	}
	k := overlapLower
	interiorToCandidate := keys.Less(c.lower, k) && keys.Less(k, c.upper)
	interiorToSlice := keys.Less(s.lower, k) && keys.Less(keys.Successor(k), s.upper)
	return interiorToCandidate || interiorToSlice
}

func firstChunkId(ds *chunk.DataSlice) uuid.UUID {
	if len(ds.ChunkSlices) == 0 {
		return uuid.Nil
	}
	return ds.ChunkSlices[0].Chunk.ID
}

// Chunks returns the chunks of teleported data slices.
func Chunks(teleported []*chunk.DataSlice) []*chunk.InputChunk {
	rv := make([]*chunk.InputChunk, 0, len(teleported))
	for _, ds := range teleported {
		rv = append(rv, ds.ChunkSlices[0].Chunk)
	}
	return rv
}
