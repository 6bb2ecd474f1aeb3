package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMin(t *testing.T) {
	assert.Equal(t, 2, Min(2, 3))
	assert.Equal(t, 2, Min(3, 2))
	assert.Equal(t, 2, Min(2, 2))
}

func TestMax(t *testing.T) {
	assert.Equal(t, int64(3), Max[int64](2, 3))
	assert.Equal(t, int64(3), Max[int64](3, 2))
	assert.Equal(t, int64(3), Max[int64](3, 3))
}

func TestDivCeil(t *testing.T) {
	tests := map[string]struct {
		a, b     int64
		expected int64
	}{
		"exact":   {a: 100, b: 10, expected: 10},
		"rounded": {a: 101, b: 10, expected: 11},
		"zero":    {a: 0, b: 7, expected: 0},
		"smaller": {a: 3, b: 7, expected: 1},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, DivCeil(tc.a, tc.b))
		})
	}
}

func TestSaturatingAdd(t *testing.T) {
	assert.Equal(t, int64(5), SaturatingAdd(2, 3))
	assert.Equal(t, int64(math.MaxInt64), SaturatingAdd(math.MaxInt64, 1))
	assert.Equal(t, int64(math.MaxInt64), SaturatingAdd(math.MaxInt64-1, math.MaxInt64))
}
