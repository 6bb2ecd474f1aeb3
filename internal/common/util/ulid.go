package util

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid"
	"github.com/pkg/errors"
)

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewULID returns a lower case ULID. Ids created by one process sort in creation order.
func NewULID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Now(), ulidEntropy).String())
}

// ULIDTime returns the creation time encoded in an id returned by NewULID.
func ULIDTime(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(strings.ToUpper(id))
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parsing ulid %q", id)
	}
	return ulid.Time(parsed.Time()), nil
}
