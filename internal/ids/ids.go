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

// NewRequestID returns a time-ordered identifier for correlating request logs.
func NewRequestID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// ValidRequestID reports whether s looks like an id produced by NewRequestID.
func ValidRequestID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
