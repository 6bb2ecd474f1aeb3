package util

import (
	"math"

	"golang.org/x/exp/constraints"
)

func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// DivCeil returns ceil(a / b) for non-negative a and positive b.
func DivCeil(a, b int64) int64 {
	return (a + b - 1) / b
}

// SaturatingAdd adds two non-negative values, clamping at math.MaxInt64 rather than overflowing.
func SaturatingAdd(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
