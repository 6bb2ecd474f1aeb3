// Package keys implements comparison and interval primitives over composite sort keys.
//
// A Key is treated as an immutable value: functions in this package never modify their arguments and
// callers must not modify keys once they have been handed to a chunk or slice.
package keys

import (
	"strings"

	"github.com/pkg/errors"
)

type Key []Value

// Compare compares keys lexicographically over their common prefix. If the common prefix is equal the shorter
// key is less.
func Compare(a, b Key) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := CompareValues(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func Equal(a, b Key) bool {
	return Compare(a, b) == 0
}

func Less(a, b Key) bool {
	return Compare(a, b) < 0
}

func Min(a, b Key) Key {
	if Compare(a, b) <= 0 {
		return a
	}
	return b
}

func Max(a, b Key) Key {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}

// Successor returns the smallest key greater than every key that has k as a prefix.
func Successor(k Key) Key {
	rv := make(Key, len(k), len(k)+1)
	copy(rv, k)
	return append(rv, MaxValue())
}

// Prefix returns the first n components of k, or k itself if it is shorter.
func Prefix(k Key, n int) Key {
	if len(k) <= n {
		return k
	}
	return k[:n:n]
}

// PrefixSuccessor returns Successor(Prefix(k, n)).
func PrefixSuccessor(k Key, n int) Key {
	return Successor(Prefix(k, n))
}

// TruncateUpper converts an exclusive upper bound into an exclusive upper bound at prefix granularity: the result
// is the smallest n-component bound that is not less than k.
func TruncateUpper(k Key, n int) Key {
	if len(k) > n {
		return PrefixSuccessor(k, n)
	}
	return k
}

// Widen pads k with nulls up to n components.
func Widen(k Key, n int) Key {
	if len(k) >= n {
		return k
	}
	rv := make(Key, n)
	copy(rv, k)
	for i := len(k); i < n; i++ {
		rv[i] = NullValue()
	}
	return rv
}

// Clone returns a copy of k that does not share a backing array.
func Clone(k Key) Key {
	if k == nil {
		return nil
	}
	rv := make(Key, len(k))
	copy(rv, k)
	return rv
}

// Empty returns the minimal key, which is less than every non-empty key.
func Empty() Key {
	return Key{}
}

// Infinite returns a key greater than every key that does not itself start with a Max sentinel.
func Infinite() Key {
	return Key{MaxValue()}
}

func (k Key) String() string {
	parts := make([]string, len(k))
	for i, v := range k {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// FromInts builds a key of Int64 values.
func FromInts(values ...int64) Key {
	rv := make(Key, len(values))
	for i, v := range values {
		rv[i] = Int64Value(v)
	}
	return rv
}

// FromInterfaces builds a key from untyped values as produced by YAML and JSON decoders.
func FromInterfaces(values []interface{}) (Key, error) {
	rv := make(Key, len(values))
	for i, raw := range values {
		switch v := raw.(type) {
		case nil:
			rv[i] = NullValue()
		case int:
			rv[i] = Int64Value(int64(v))
		case int64:
			rv[i] = Int64Value(v)
		case uint64:
			rv[i] = Uint64Value(v)
		case float64:
			rv[i] = DoubleValue(v)
		case bool:
			rv[i] = BoolValue(v)
		case string:
			rv[i] = StringValue(v)
		default:
			return nil, errors.Errorf("unsupported key component %v of type %T at position %d", raw, raw, i)
		}
	}
	return rv, nil
}
