// Package ids generates the identifiers stamped on published events.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID for the current instant.
func CreateULID() string {
	return CreateULIDAt(time.Now())
}

// CreateULIDAt returns a ULID whose timestamp component is t. IDs created
// within the same millisecond are strictly increasing.
func CreateULIDAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Timestamp extracts the creation time embedded in a ULID string.
func Timestamp(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
