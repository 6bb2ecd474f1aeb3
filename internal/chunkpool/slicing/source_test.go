package slicing

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/configuration"
	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
	"github.com/G-Research/chunkpool/internal/chunkpool/metrics"
	"github.com/G-Research/chunkpool/internal/common/poolcontext"
)

var k = keys.FromInts

func testChunk(minKey, maxKey keys.Key, dataSize, rowCount int64) *chunk.InputChunk {
	return &chunk.InputChunk{
		ID:                   uuid.New(),
		RowCount:             rowCount,
		CompressedDataSize:   dataSize,
		UncompressedDataSize: dataSize,
		BoundaryKeys:         &chunk.BoundaryKeys{MinKey: minKey, MaxKey: maxKey},
	}
}

// flakySource fails the first failures calls for every chunk and then delegates to RowSource.
type flakySource struct {
	failures int
	mu       sync.Mutex
	calls    map[uuid.UUID]int
}

var errFlaky = errors.New("node unavailable")

func (s *flakySource) SliceChunk(ctx *poolcontext.Context, c *chunk.InputChunk, request SliceRequest) ([]*chunk.Slice, error) {
	s.mu.Lock()
	s.calls[c.ID]++
	n := s.calls[c.ID]
	s.mu.Unlock()
	if n <= s.failures {
		return nil, errFlaky
	}
	return RowSource{}.SliceChunk(ctx, c, request)
}

func TestRowSource(t *testing.T) {
	c := testChunk(k(0), k(99), 1000, 100)
	slices, err := RowSource{}.SliceChunk(poolcontext.Background(), c, SliceRequest{DataSize: 250, RowCount: 1 << 40})
	if !assert.NoError(t, err) {
		return
	}
	require.Len(t, slices, 4)
	for i, s := range slices {
		assert.Equal(t, int64(i*25), s.LowerRowIndex())
		assert.Equal(t, int64(25), s.RowCount())
		assert.Equal(t, int64(250), s.DataSize())
		assert.Equal(t, k(0), s.LowerLimit.Key)
	}
	assert.NoError(t, chunk.CheckTiling(c, slices))
}

func TestSampleSource(t *testing.T) {
	tests := map[string]struct {
		dataSize      int64
		withSamples   bool
		expectedLower []keys.Key
	}{
		"split at evenly chosen samples": {
			dataSize:      250,
			withSamples:   true,
			expectedLower: []keys.Key{k(0), k(25), k(50), k(75)},
		},
		"small chunk is not split": {
			dataSize:      1000,
			withSamples:   true,
			expectedLower: []keys.Key{k(0)},
		},
		"no samples": {
			dataSize:      250,
			withSamples:   false,
			expectedLower: []keys.Key{k(0)},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := testChunk(k(0), k(99), 1000, 100)
			source := NewSampleSource()
			if tc.withSamples {
				samples := make([]keys.Key, 100)
				for i := range samples {
					samples[i] = k(int64(i), 7)
				}
				rand.New(rand.NewSource(42)).Shuffle(len(samples), func(i, j int) {
					samples[i], samples[j] = samples[j], samples[i]
				})
				source.AddSamples(c.ID, samples)
			}

			slices, err := source.SliceChunk(
				poolcontext.Background(),
				c,
				SliceRequest{DataSize: tc.dataSize, RowCount: 1 << 40, PrefixLength: 1, SliceByKeys: true},
			)
			if !assert.NoError(t, err) {
				return
			}
			lowers := make([]keys.Key, len(slices))
			for i, s := range slices {
				lowers[i] = s.LowerLimit.Key
			}
			assert.Equal(t, tc.expectedLower, lowers)
			assert.Equal(t, keys.Successor(k(99)), slices[len(slices)-1].UpperLimit.Key)

			var rows int64
			for _, s := range slices {
				rows += s.RowCount()
			}
			assert.Equal(t, int64(100), rows)
		})
	}
}

func TestCachingSource_ServesEquivalentChunks(t *testing.T) {
	inner := &flakySource{calls: make(map[uuid.UUID]int)}
	source := NewCachingSource(inner, time.Minute)
	request := SliceRequest{DataSize: 250, RowCount: 1 << 40, PrefixLength: 1}

	c := testChunk(k(0), k(99), 1000, 100)
	first, err := source.SliceChunk(poolcontext.Background(), c, request)
	if !assert.NoError(t, err) {
		return
	}
	refetched := c.Copy()
	second, err := source.SliceChunk(poolcontext.Background(), refetched, request)
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, 1, inner.calls[c.ID])
	require.Len(t, second, len(first))
	for i := range second {
		assert.Same(t, refetched, second[i].Chunk)
		assert.Equal(t, first[i].LowerRowIndex(), second[i].LowerRowIndex())
	}

	// A different request is a different cache entry.
	request.DataSize = 500
	third, err := source.SliceChunk(poolcontext.Background(), c, request)
	if !assert.NoError(t, err) {
		return
	}
	assert.Len(t, third, 2)
	assert.Equal(t, 2, inner.calls[c.ID])
}

func TestSourceFetcher_Retries(t *testing.T) {
	tests := map[string]struct {
		failures    int
		attempts    uint
		expectError bool
	}{
		"no failures": {
			failures: 0,
			attempts: 1,
		},
		"recovers after retry": {
			failures: 2,
			attempts: 3,
		},
		"gives up": {
			failures:    2,
			attempts:    2,
			expectError: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			source := &flakySource{failures: tc.failures, calls: make(map[uuid.UUID]int)}
			fetcher := NewSourceFetcher(
				source,
				SliceRequest{DataSize: 500, RowCount: 1 << 40},
				configuration.FetcherConfig{Concurrency: 2, Attempts: tc.attempts},
				metrics.New(),
			)
			chunks := []*chunk.InputChunk{
				testChunk(k(0), k(9), 1000, 100),
				testChunk(k(10), k(19), 1000, 100),
				testChunk(k(20), k(29), 400, 40),
			}
			for _, c := range chunks {
				fetcher.AddChunk(c)
			}

			err := fetcher.Fetch(poolcontext.Background())
			if tc.expectError {
				assert.ErrorIs(t, err, errFlaky)
				return
			}
			if !assert.NoError(t, err) {
				return
			}
			slices := fetcher.GetChunkSlices()
			require.Len(t, slices, 5)
			assert.Same(t, chunks[0], slices[0].Chunk)
			assert.Same(t, chunks[1], slices[2].Chunk)
			assert.Same(t, chunks[2], slices[4].Chunk)
			for _, c := range chunks {
				assert.Equal(t, tc.failures+1, source.calls[c.ID])
			}
		})
	}
}

func TestSourceFetcherFactory_CreatesIndependentFetchers(t *testing.T) {
	config := configuration.Default()
	config.InputSliceDataSize = 500
	config.Fetcher.CacheTTL = time.Minute
	factory := NewSourceFetcherFactory(RowSource{}, config, metrics.New())

	c := testChunk(k(0), k(9), 1000, 100)
	first := factory.CreateFetcher()
	first.AddChunk(c)
	require.NoError(t, first.Fetch(poolcontext.Background()))

	second := factory.CreateFetcher()
	require.NoError(t, second.Fetch(poolcontext.Background()))
	assert.Len(t, first.GetChunkSlices(), 2)
	assert.Empty(t, second.GetChunkSlices())
}
