package jobbuilder

import (
	"sort"

	"golang.org/x/exp/slices"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
)

// foreignIndex answers which foreign data slices intersect a key range, after truncating both to the foreign
// prefix length.
type foreignIndex struct {
	prefixLength int
	// Sorted by truncated lower key.
	byLower []foreignEntry
	// Truncated upper keys in increasing order.
	uppers []keys.Key
	// lowerSizes[i] is the total size of byLower[:i]; upperSizes likewise for uppers.
	lowerSizes []int64
	upperSizes []int64
}

type foreignEntry struct {
	dataSlice *chunk.DataSlice
	lower     keys.Key
	upper     keys.Key
}

func newForeignIndex(dataSlices []*chunk.DataSlice, prefixLength int) *foreignIndex {
	f := &foreignIndex{prefixLength: prefixLength}
	f.byLower = make([]foreignEntry, len(dataSlices))
	for i, ds := range dataSlices {
		f.byLower[i] = foreignEntry{
			dataSlice: ds,
			lower:     keys.Prefix(ds.LowerKey(), prefixLength),
			upper:     keys.TruncateUpper(ds.UpperKey(), prefixLength),
		}
	}
	slices.SortStableFunc(f.byLower, func(a, b foreignEntry) bool {
		return keys.Less(a.lower, b.lower)
	})

	byUpper := slices.Clone(f.byLower)
	slices.SortStableFunc(byUpper, func(a, b foreignEntry) bool {
		return keys.Less(a.upper, b.upper)
	})
	f.uppers = make([]keys.Key, len(byUpper))
	f.lowerSizes = make([]int64, len(byUpper)+1)
	f.upperSizes = make([]int64, len(byUpper)+1)
	for i := range byUpper {
		f.uppers[i] = byUpper[i].upper
		f.lowerSizes[i+1] = f.lowerSizes[i] + f.byLower[i].dataSlice.DataSize()
		f.upperSizes[i+1] = f.upperSizes[i] + byUpper[i].dataSlice.DataSize()
	}
	return f
}

func (f *foreignIndex) window(lower, upper keys.Key) (keys.Key, keys.Key) {
	return keys.Prefix(lower, f.prefixLength), keys.TruncateUpper(upper, f.prefixLength)
}

// estimate returns the number and total size of foreign data slices intersecting [lower, upper).
func (f *foreignIndex) estimate(lower, upper keys.Key) (int, int64) {
	if len(f.byLower) == 0 {
		return 0, 0
	}
	lo, hi := f.window(lower, upper)
	started := sort.Search(len(f.byLower), func(i int) bool {
		return !keys.Less(f.byLower[i].lower, hi)
	})
	ended := sort.Search(len(f.uppers), func(i int) bool {
		return keys.Less(lo, f.uppers[i])
	})
	if ended > started {
		return 0, 0
	}
	return started - ended, f.lowerSizes[started] - f.upperSizes[ended]
}

// attach returns the foreign data slices intersecting [lower, upper), narrowed to the truncated range.
func (f *foreignIndex) attach(lower, upper keys.Key) []*chunk.DataSlice {
	lo, hi := f.window(lower, upper)
	var rv []*chunk.DataSlice
	for _, e := range f.byLower {
		if !keys.Less(e.lower, hi) {
			break
		}
		if keys.Less(lo, e.upper) {
			rv = append(rv, e.dataSlice.Narrow(lo, hi))
		}
	}
	return rv
}
