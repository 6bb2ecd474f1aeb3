package stringinterner

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// StringInterner makes equal key strings share one backing array. Keys decoded from snapshots and manifests repeat
// the same values many times, e.g. every slice of a maniac chunk. Only the most recently interned strings are kept.
type StringInterner struct {
	lru *lru.Cache
}

// New return a new *StringInterner backed by a LRU of the given size. It panics if cacheSize is zero.
func New(cacheSize uint32) *StringInterner {
	lru, err := lru.New(int(cacheSize))
	if err != nil {
		panic(errors.WithStack(err).Error())
	}
	return &StringInterner{lru: lru}
}

// Intern returns the cached string equal to s, caching s if there is none.
func (interner *StringInterner) Intern(s string) string {
	if existing, ok, _ := interner.lru.PeekOrAdd(s, s); ok {
		return existing.(string)
	}
	return s
}

func (interner *StringInterner) Len() int {
	return interner.lru.Len()
}
