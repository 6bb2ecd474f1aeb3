package stringinterner

import (
	"reflect"
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestIntern_ReturnsCachedInstance(t *testing.T) {
	interner := New(2)
	first := interner.Intern(strings.Repeat("a", 3))
	second := interner.Intern(strings.Repeat("a", 3))
	assert.Equal(t, first, second)
	assert.Equal(t, dataPointer(first), dataPointer(second))
	assert.Equal(t, 1, interner.Len())
}

func TestIntern_EvictsLeastRecentlyUsed(t *testing.T) {
	interner := New(2)
	interner.Intern("a")
	interner.Intern("b")
	interner.Intern("c")
	assert.Equal(t, 2, interner.Len())
}

func TestNew_PanicsOnZeroSize(t *testing.T) {
	assert.Panics(t, func() { New(0) })
}

func dataPointer(s string) uintptr {
	return (*reflect.StringHeader)(unsafe.Pointer(&s)).Data
}
