package jobbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
	"github.com/G-Research/chunkpool/internal/chunkpool/testfixtures"
)

func TestForeignIndex(t *testing.T) {
	tables := testfixtures.NewTables([]bool{true}, nil, nil)
	var dataSlices []*chunk.DataSlice
	for _, bounds := range [][2]int64{{0, 3}, {4, 11}, {20, 30}, {25, 26}} {
		c := tables.CreateChunk(k(bounds[0], 5), k(bounds[1], 5), 0, testfixtures.WithSize(100*bounds[0]+1))
		dataSlices = append(dataSlices, tables.DataSlice(c))
	}
	index := newForeignIndex(dataSlices, 1)

	tests := map[string]struct {
		lower         keys.Key
		upper         keys.Key
		expectedCount int
		expectedSize  int64
	}{
		"before everything": {
			lower: k(-10),
			upper: k(-5),
		},
		"touching the first upper bound": {
			lower:         k(3, 9),
			upper:         k(4),
			expectedCount: 1,
			expectedSize:  1,
		},
		"inside the second slice": {
			lower:         k(5),
			upper:         k(6),
			expectedCount: 1,
			expectedSize:  401,
		},
		"spanning the last two": {
			lower:         k(12),
			upper:         k(26),
			expectedCount: 2,
			expectedSize:  2001 + 2501,
		},
		"everything": {
			lower:         k(0),
			upper:         keys.Infinite(),
			expectedCount: 4,
			expectedSize:  1 + 401 + 2001 + 2501,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			count, size := index.estimate(tc.lower, tc.upper)
			assert.Equal(t, tc.expectedCount, count)
			assert.Equal(t, tc.expectedSize, size)
			assert.Len(t, index.attach(tc.lower, tc.upper), tc.expectedCount)
		})
	}
}
