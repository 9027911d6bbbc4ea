// Package keys generates engine-assigned document keys: a nanosecond
// timestamp prefix, a per-process counter and a random suffix, sufficiently unique without
// per-put probing of the btree (spec §9 design note).
package keys

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var counter uint64

// Generate returns an opaque, sufficiently-unique key: a nanosecond
// timestamp, a per-process monotonic counter (to break ties within the
// same nanosecond), and a short uuid suffix for cross-process uniqueness
// when a persistent backing is shared across restarts.
func Generate() string {
	n := atomic.AddUint64(&counter, 1)
	return fmt.Sprintf("%020d-%06d-%s", time.Now().UnixNano(), n, uuid.NewString()[:8])
}
