package testfixtures

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/common/poolcontext"
)

// MockFetcher returns preregistered slices. Adding a chunk that was not registered makes Fetch fail.
type MockFetcher struct {
	slices     map[*chunk.InputChunk][]*chunk.Slice
	added      []*chunk.InputChunk
	unexpected []*chunk.InputChunk
	fetches    int
}

func NewMockFetcher() *MockFetcher {
	return &MockFetcher{slices: make(map[*chunk.InputChunk][]*chunk.Slice)}
}

func (f *MockFetcher) RegisterSliceableChunk(c *chunk.InputChunk, slices []*chunk.Slice) {
	f.slices[c] = slices
}

// RegisterTriviallySliceableChunk registers the chunk to be returned as one slice.
func (f *MockFetcher) RegisterTriviallySliceableChunk(c *chunk.InputChunk) {
	s := chunk.NewSlice(c)
	if err := s.InferLimitsFromBoundaryKeys(); err != nil {
		panic(err)
	}
	f.slices[c] = []*chunk.Slice{s}
}

func (f *MockFetcher) AddChunk(c *chunk.InputChunk) {
	if _, ok := f.slices[c]; !ok {
		f.unexpected = append(f.unexpected, c)
		return
	}
	f.added = append(f.added, c)
}

func (f *MockFetcher) Fetch(_ *poolcontext.Context) error {
	f.fetches++
	if len(f.unexpected) > 0 {
		return errors.Errorf("chunk %s was not registered with the mock fetcher", f.unexpected[0].ID)
	}
	return nil
}

func (f *MockFetcher) GetChunkSlices() []*chunk.Slice {
	var rv []*chunk.Slice
	for _, c := range f.added {
		rv = append(rv, f.slices[c]...)
	}
	return rv
}

// Added returns the chunks passed to AddChunk that were registered.
func (f *MockFetcher) Added() []*chunk.InputChunk {
	return f.added
}

// AssertExpectations checks that only registered chunks were added and that they were fetched.
func (f *MockFetcher) AssertExpectations(t *testing.T) bool {
	ok := assert.Empty(t, f.unexpected, "unregistered chunks were added")
	if len(f.added) > 0 {
		ok = assert.Equal(t, 1, f.fetches, "expected exactly one fetch") && ok
	}
	return ok
}

// MockFetchers hands out prepared mock fetchers in order. Once they are exhausted it hands out fresh ones that have
// no registered chunks.
type MockFetchers struct {
	prepared []*MockFetcher
	used     int
}

// PrepareNew returns the fetcher that the next unused call to Next will return.
func (m *MockFetchers) PrepareNew() *MockFetcher {
	f := NewMockFetcher()
	m.prepared = append(m.prepared, f)
	return f
}

func (m *MockFetchers) Next() *MockFetcher {
	if m.used >= len(m.prepared) {
		m.PrepareNew()
	}
	f := m.prepared[m.used]
	m.used++
	return f
}

// Used returns the number of fetchers handed out.
func (m *MockFetchers) Used() int {
	return m.used
}

func (m *MockFetchers) AssertExpectations(t *testing.T) bool {
	ok := true
	for _, f := range m.prepared {
		ok = f.AssertExpectations(t) && ok
	}
	return ok
}
