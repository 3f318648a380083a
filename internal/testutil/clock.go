package testutil

import (
	"strconv"
	"sync"
	"time"

	"pinnit-go/internal/pinnit"
)

var (
	_ pinnit.Clock       = (*StubClock)(nil)
	_ pinnit.IDGenerator = (*StubIDGenerator)(nil)
)

// StubClock is a pinnit.Clock that only moves when told to.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock creates a StubClock reading t.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock at 2024-01-15 10:30:00 UTC, so pin
// timestamps in tests are stable.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Pins added afterwards sort first.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// StubIDGenerator hands out pin ID suffixes "id-1", "id-2", ...
type StubIDGenerator struct {
	mu sync.Mutex
	n  int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "id-" + strconv.Itoa(g.n)
}
