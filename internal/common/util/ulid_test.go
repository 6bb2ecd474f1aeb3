package util

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID_IsSortableAndLowercase(t *testing.T) {
	first := NewULID()
	second := NewULID()
	assert.Len(t, first, 26)
	assert.Less(t, first, second)
	assert.Equal(t, strings.ToLower(first), first)
}

func TestULIDTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	created, err := ULIDTime(NewULID())
	require.NoError(t, err)
	assert.True(t, created.After(before))
	assert.False(t, created.After(time.Now().Add(time.Second)))

	_, err = ULIDTime("not-an-id")
	assert.Error(t, err)
}
