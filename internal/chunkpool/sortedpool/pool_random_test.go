package sortedpool

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/testfixtures"
)

// randomKey returns a random element of set, or false if it is empty. Keys are sorted first so that a seed always
// produces the same sequence of operations.
func randomKey(r *rand.Rand, set map[int]bool) (int, bool) {
	if len(set) == 0 {
		return 0, false
	}
	keys := maps.Keys(set)
	slices.Sort(keys)
	return keys[r.Intn(len(keys))], true
}

// allStripeLists returns the inputs of every valid job the pool has built, whatever its state.
func allStripeLists(p *Pool) []*chunk.StripeList {
	var rv []*chunk.StripeList
	for _, job := range p.Jobs() {
		if !job.Invalidated {
			rv = append(rv, p.mapStripeList(job.StripeList))
		}
	}
	return rv
}

// activeChunks returns the chunk instances the inputs of the pool currently refer to.
func activeChunks(p *Pool) []*chunk.InputChunk {
	var rv []*chunk.InputChunk
	for _, in := range p.inputs {
		for _, ds := range p.mapStripe(in.Stripe).DataSlices {
			for _, s := range ds.ChunkSlices {
				rv = append(rv, s.Chunk)
			}
		}
	}
	return rv
}

func TestPool_RandomOperations(t *testing.T) {
	const chunkCount = 50
	for seed := int64(0); seed < 15; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			r := rand.New(rand.NewSource(seed))
			config := testConfig()
			config.DataSizePerJob = testfixtures.DefaultChunkSize
			tables := testfixtures.PrimaryTables(1)

			p := newTestPool(t, config, tables)
			chunks := make(map[int]*chunk.InputChunk, chunkCount)
			inputCookieById := make(map[string]int, chunkCount)
			// Input side.
			resumed := make(map[int]bool)
			suspended := make(map[int]bool)
			// Output side, by input cookie.
			pending := make(map[int]bool)
			started := make(map[int]bool)
			completed := make(map[int]bool)
			outputCookies := make(map[int]int)

			for i := int64(0); i < chunkCount; i++ {
				c := tables.CreateChunk(k(2*i), k(2*i+1), 0)
				cookie := addChunks(t, p, tables, c)[0]
				chunks[cookie] = c
				inputCookieById[c.ID.String()] = cookie
				resumed[cookie] = true
				pending[cookie] = true
			}
			finish(t, p)
			require.Equal(t, chunkCount, p.GetPendingJobCount())
			checkEverything(t, p, tables, allStripeLists(p), activeChunks(p))

			for step := 0; len(completed) < chunkCount; step++ {
				require.Less(t, step, 100_000, "pool did not complete")
				require.False(t, p.IsCompleted())

				switch dice := r.Intn(100); {
				case dice == 0:
					p = persistAndRestore(t, p, nil)
				case dice < 30:
					if cookie, ok := randomKey(r, resumed); ok {
						require.NoError(t, p.Suspend(cookie))
						delete(resumed, cookie)
						suspended[cookie] = true
					}
				case dice < 60:
					if cookie, ok := randomKey(r, suspended); ok {
						// A refetched chunk is a new instance describing the same data.
						chunks[cookie] = chunks[cookie].Copy()
						require.NoError(t, p.Resume(cookie, tables.Stripe(chunks[cookie])))
						delete(suspended, cookie)
						resumed[cookie] = true
						checkEverything(t, p, tables, allStripeLists(p), activeChunks(p))
					}
				case dice < 70:
					outputCookie := p.Extract("")
					if outputCookie == NullCookie {
						for cookie := range pending {
							assert.True(t, suspended[cookie], "input %d is pending and resumed but no job was extracted", cookie)
						}
						continue
					}
					list, err := p.GetStripeList(outputCookie)
					require.NoError(t, err)
					require.Len(t, list.Stripes, 1)
					require.Len(t, list.Stripes[0].DataSlices, 1)
					id := list.Stripes[0].DataSlices[0].ChunkSlices[0].Chunk.ID.String()
					cookie, ok := inputCookieById[id]
					require.True(t, ok)
					require.True(t, pending[cookie])
					require.False(t, suspended[cookie])
					delete(pending, cookie)
					started[cookie] = true
					outputCookies[cookie] = outputCookie
				case dice < 80:
					if cookie, ok := randomKey(r, started); ok {
						require.NoError(t, p.Completed(outputCookies[cookie], CompletedJobSummary{}))
						delete(started, cookie)
						completed[cookie] = true
					}
				case dice < 90:
					if cookie, ok := randomKey(r, started); ok {
						require.NoError(t, p.Aborted(outputCookies[cookie], AbortScheduling))
						delete(started, cookie)
						pending[cookie] = true
					}
				default:
					if cookie, ok := randomKey(r, started); ok {
						require.NoError(t, p.Failed(outputCookies[cookie]))
						delete(started, cookie)
						pending[cookie] = true
					}
				}
			}
			assert.True(t, p.IsCompleted())
			assert.Equal(t, chunkCount, p.Progress().Completed)
			assert.Empty(t, p.GetTeleportChunks())
			checkEverything(t, p, tables, allStripeLists(p), activeChunks(p))
			assert.Len(t, activeChunks(p), chunkCount)
		})
	}
}
