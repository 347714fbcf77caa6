// Package ids generates the ULIDs busflow stamps on bridge messages and
// uses to name ephemeral request/reply inbox subjects. ULIDs sort by
// creation time, so inbox subjects and message UUIDs line up with the
// order they were minted.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// The monotonic reader is not safe for concurrent use; publishes and
// requests mint IDs from many goroutines.
var (
	mu     sync.Mutex
	source = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// IDs minted within the same millisecond remain strictly increasing.
func CreateULID() string {
	mu.Lock()
	defer mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), source).String()
}
