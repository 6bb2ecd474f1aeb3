package slicing

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/configuration"
	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
	"github.com/G-Research/chunkpool/internal/common/poolcontext"
	"github.com/G-Research/chunkpool/internal/common/util"
)

// SliceRequest holds the targets a source slices chunks to.
type SliceRequest struct {
	DataSize int64
	RowCount int64
	// Number of key columns split keys are truncated to.
	PrefixLength int
	// If true slices are cut at key boundaries, otherwise by row index.
	SliceByKeys bool
}

func SliceRequestFromConfig(config configuration.PoolConfig) SliceRequest {
	return SliceRequest{
		DataSize:     int64(config.InputSliceDataSize),
		RowCount:     int64(config.InputSliceRowCount),
		PrefixLength: config.PrimaryPrefixLength,
		SliceByKeys:  config.SliceByKeys,
	}
}

// SliceSource slices a single chunk. Implementations must be safe for concurrent use.
type SliceSource interface {
	SliceChunk(ctx *poolcontext.Context, c *chunk.InputChunk, request SliceRequest) ([]*chunk.Slice, error)
}

// RowSource slices chunks evenly by row index.
type RowSource struct{}

func (RowSource) SliceChunk(_ *poolcontext.Context, c *chunk.InputChunk, request SliceRequest) ([]*chunk.Slice, error) {
	s := chunk.NewSlice(c)
	if err := s.InferLimitsFromBoundaryKeys(); err != nil {
		return nil, err
	}
	return s.SliceEvenly(request.DataSize, request.RowCount), nil
}

// SampleSource slices chunks at key boundaries chosen from per-chunk key samples, as collected by a chunk's writer.
type SampleSource struct {
	mu      sync.RWMutex
	samples map[uuid.UUID][]keys.Key
}

func NewSampleSource() *SampleSource {
	return &SampleSource{samples: make(map[uuid.UUID][]keys.Key)}
}

// AddSamples registers key samples for a chunk. Samples need not be sorted.
func (s *SampleSource) AddSamples(chunkId uuid.UUID, samples []keys.Key) {
	sorted := slices.Clone(samples)
	slices.SortFunc(sorted, keys.Less)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[chunkId] = sorted
}

func (s *SampleSource) SliceChunk(_ *poolcontext.Context, c *chunk.InputChunk, request SliceRequest) ([]*chunk.Slice, error) {
	whole := chunk.NewSlice(c)
	if err := whole.InferLimitsFromBoundaryKeys(); err != nil {
		return nil, err
	}
	pieceCount := util.DivCeil(whole.DataSize(), util.Max(request.DataSize, 1))
	if pieceCount <= 1 {
		return []*chunk.Slice{whole}, nil
	}

	s.mu.RLock()
	samples := s.samples[c.ID]
	s.mu.RUnlock()

	// Candidate split keys are sample prefixes strictly inside the slice. Cutting at a prefix keeps every key
	// prefix in one piece.
	var candidates []keys.Key
	for _, sample := range samples {
		k := keys.Prefix(sample, request.PrefixLength)
		if !keys.Less(whole.LowerLimit.Key, k) || !keys.Less(k, whole.UpperLimit.Key) {
			continue
		}
		if len(candidates) > 0 && keys.Equal(candidates[len(candidates)-1], k) {
			continue
		}
		candidates = append(candidates, k)
	}
	if len(candidates) == 0 {
		return []*chunk.Slice{whole}, nil
	}

	splitCount := util.Min(pieceCount-1, int64(len(candidates)))
	splitKeys := make([]keys.Key, 0, splitCount)
	for i := int64(1); i <= splitCount; i++ {
		k := candidates[int64(len(candidates))*i/(splitCount+1)]
		if len(splitKeys) == 0 || keys.Less(splitKeys[len(splitKeys)-1], k) {
			splitKeys = append(splitKeys, k)
		}
	}
	return whole.SplitByKeys(splitKeys)
}

// CachingSource remembers the slices of recently sliced chunks. Chunks are identified by id, so a re-fetched
// instance of a chunk is served from the cache.
type CachingSource struct {
	source SliceSource
	cache  *cache.Cache
}

func NewCachingSource(source SliceSource, ttl time.Duration) *CachingSource {
	return &CachingSource{
		source: source,
		cache:  cache.New(ttl, 2*ttl),
	}
}

func (s *CachingSource) SliceChunk(ctx *poolcontext.Context, c *chunk.InputChunk, request SliceRequest) ([]*chunk.Slice, error) {
	key := cacheKey(c, request)
	if cached, ok := s.cache.Get(key); ok {
		if cachedSlices, ok := cached.([]*chunk.Slice); ok {
			return withChunk(cachedSlices, c), nil
		}
	}
	result, err := s.source.SliceChunk(ctx, c, request)
	if err != nil {
		return nil, errors.WithMessagef(err, "slicing chunk %s", c.ID)
	}
	s.cache.SetDefault(key, withChunk(result, c))
	return result, nil
}

// cacheKey identifies the data of a chunk instance together with the request.
func cacheKey(c *chunk.InputChunk, request SliceRequest) string {
	var lower, upper chunk.Limit
	if c.LowerLimit != nil {
		lower = *c.LowerLimit
	}
	if c.UpperLimit != nil {
		upper = *c.UpperLimit
	}
	var bounds string
	if c.BoundaryKeys != nil {
		bounds = fmt.Sprintf("%v..%v", c.BoundaryKeys.MinKey, c.BoundaryKeys.MaxKey)
	}
	return fmt.Sprintf(
		"%s/%s/%v/%v/%d/%d/%d/%d/%t",
		c.ID, bounds, lower, upper, c.RowCount, request.DataSize, request.RowCount, request.PrefixLength, request.SliceByKeys,
	)
}

func withChunk(in []*chunk.Slice, c *chunk.InputChunk) []*chunk.Slice {
	rv := make([]*chunk.Slice, len(in))
	for i, s := range in {
		rv[i] = s.WithChunk(c)
	}
	return rv
}
