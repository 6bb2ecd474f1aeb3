package slicing

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/configuration"
	"github.com/G-Research/chunkpool/internal/chunkpool/metrics"
	"github.com/G-Research/chunkpool/internal/common/poolcontext"
)

const retryDelay = 50 * time.Millisecond

// Fetcher turns whole chunks into chunk slices. Chunks are added with AddChunk, then Fetch is called exactly once
// and finally GetChunkSlices is called exactly once.
type Fetcher interface {
	AddChunk(c *chunk.InputChunk)
	// Fetch blocks until every added chunk has been sliced.
	Fetch(ctx *poolcontext.Context) error
	// GetChunkSlices returns the slices of all added chunks, in any order.
	GetChunkSlices() []*chunk.Slice
}

// FetcherFactory creates a new fetcher every time the pool builds jobs.
type FetcherFactory interface {
	CreateFetcher() Fetcher
}

type FetcherFactoryFunc func() Fetcher

func (f FetcherFactoryFunc) CreateFetcher() Fetcher {
	return f()
}

// TrivialFetcher returns every chunk as a single slice.
type TrivialFetcher struct {
	chunks []*chunk.InputChunk
}

func (f *TrivialFetcher) AddChunk(c *chunk.InputChunk) {
	f.chunks = append(f.chunks, c)
}

func (f *TrivialFetcher) Fetch(_ *poolcontext.Context) error {
	return nil
}

func (f *TrivialFetcher) GetChunkSlices() []*chunk.Slice {
	rv := make([]*chunk.Slice, len(f.chunks))
	for i, c := range f.chunks {
		rv[i] = chunk.NewSlice(c)
	}
	return rv
}

func NewTrivialFetcherFactory() FetcherFactory {
	return FetcherFactoryFunc(func() Fetcher {
		return &TrivialFetcher{}
	})
}

// SourceFetcher slices chunks by querying a SliceSource, with bounded concurrency and retries.
type SourceFetcher struct {
	source      SliceSource
	request     SliceRequest
	concurrency int
	attempts    uint
	metrics     *metrics.PoolMetrics

	chunks []*chunk.InputChunk
	slices []*chunk.Slice
}

func NewSourceFetcher(source SliceSource, request SliceRequest, config configuration.FetcherConfig, metrics *metrics.PoolMetrics) *SourceFetcher {
	return &SourceFetcher{
		source:      source,
		request:     request,
		concurrency: config.Concurrency,
		attempts:    config.Attempts,
		metrics:     metrics,
	}
}

// NewSourceFetcherFactory returns a factory of fetchers slicing chunks to the targets of config. If
// config.Fetcher.CacheTTL is set, results are cached across fetchers.
func NewSourceFetcherFactory(source SliceSource, config configuration.PoolConfig, metrics *metrics.PoolMetrics) FetcherFactory {
	if config.Fetcher.CacheTTL > 0 {
		source = NewCachingSource(source, config.Fetcher.CacheTTL)
	}
	request := SliceRequestFromConfig(config)
	return FetcherFactoryFunc(func() Fetcher {
		return NewSourceFetcher(source, request, config.Fetcher, metrics)
	})
}

func (f *SourceFetcher) AddChunk(c *chunk.InputChunk) {
	f.chunks = append(f.chunks, c)
}

func (f *SourceFetcher) Fetch(ctx *poolcontext.Context) error {
	done := f.metrics.StartFetch(len(f.chunks))
	defer done()

	results := make([][]*chunk.Slice, len(f.chunks))
	g, gctx := poolcontext.ErrGroup(ctx)
	g.SetLimit(f.concurrency)
	for i, c := range f.chunks {
		i, c := i, c
		g.Go(func() error {
			return retry.Do(
				func() error {
					slices, err := f.source.SliceChunk(gctx, c, f.request)
					if err != nil {
						return err
					}
					results[i] = slices
					return nil
				},
				retry.Context(gctx),
				retry.Attempts(f.attempts),
				retry.Delay(retryDelay),
				retry.LastErrorOnly(true),
				retry.RetryIf(func(err error) bool {
					return !errors.Is(err, context.Canceled)
				}),
				retry.OnRetry(func(n uint, err error) {
					f.metrics.ReportFetchRetry()
					gctx.Log.WithField("chunkId", c.ID).WithError(err).Warnf("slicing chunk failed on attempt %d", n+1)
				}),
			)
		})
	}
	if err := g.Wait(); err != nil {
		return errors.WithMessagef(err, "failed to slice %d chunks", len(f.chunks))
	}

	f.slices = f.slices[:0]
	for _, slices := range results {
		f.slices = append(f.slices, slices...)
	}
	return nil
}

func (f *SourceFetcher) GetChunkSlices() []*chunk.Slice {
	return f.slices
}
