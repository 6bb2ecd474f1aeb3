package common

import (
	gocontext "context"
	"time"

	"github.com/G-Research/chunkpool/internal/common/poolcontext"
)

// ContextWithDefaultTimeout bounds command line operations that may wait on a slice source.
func ContextWithDefaultTimeout() (*poolcontext.Context, gocontext.CancelFunc) {
	return poolcontext.WithTimeout(poolcontext.Background(), time.Minute)
}
