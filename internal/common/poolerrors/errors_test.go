package poolerrors

import (
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsFatal(t *testing.T) {
	tests := map[string]struct {
		err  error
		want bool
	}{
		"ErrSliceLimitExceeded":            {&ErrSliceLimitExceeded{Actual: 9, Limit: 6}, true},
		"ErrMissingBoundaryKeys":           {&ErrMissingBoundaryKeys{ChunkId: uuid.New()}, true},
		"ErrRowCountMismatch":              {&ErrRowCountMismatch{ChunkId: uuid.New()}, true},
		"wrapped => ErrSliceLimitExceeded": {errors.WithMessage(&ErrSliceLimitExceeded{}, "foo"), true},
		"ErrInvalidState":                  {&ErrInvalidState{Operation: "Add", State: "finished"}, false},
		"ErrNotFound":                      {&ErrNotFound{}, false},
		"pkg.Error":                        {errors.New("foo"), false},
		"nil":                              {nil, false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsFatal(tc.err))
		})
	}
}

func TestErrorMessagesNameTheResource(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	tests := map[string]struct {
		err  error
		want string
	}{
		"NotFound with type": {
			err:  &ErrNotFound{Type: "output cookie", Value: "3"},
			want: `resource "3" of type "output cookie" does not exist`,
		},
		"AlreadyExists with message": {
			err:  &ErrAlreadyExists{Value: "1", Message: "cookie is already suspended"},
			want: `resource "1" already exists; cookie is already suspended`,
		},
		"MissingBoundaryKeys": {
			err:  &ErrMissingBoundaryKeys{ChunkId: id},
			want: "chunk 6ba7b810-9dad-11d1-80b4-00c04fd430c8 has no boundary keys",
		},
		"RowCountMismatch": {
			err:  &ErrRowCountMismatch{ChunkId: id, Expected: 10, Actual: 7},
			want: "slices of chunk 6ba7b810-9dad-11d1-80b4-00c04fd430c8 contain 7 rows; expected 10",
		},
		"OutputInvalidated": {
			err:  &ErrOutputInvalidated{InputCookie: 4, Reason: "data changed"},
			want: "pool output invalidated after input cookie 4 changed: data changed",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}
