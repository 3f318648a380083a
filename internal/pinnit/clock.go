package pinnit

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so reconciliation is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator produces the random suffix of new pin IDs.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces a short suffix taken from a random UUID.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:9]
}
