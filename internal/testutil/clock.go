package testutil

import (
	"strconv"
	"sync"
	"time"
)

// LibraryEpoch is the instant every FixedClock starts at. Collision
// suffixes in trash and restore names are its epoch milliseconds,
// 1705314600000.
var LibraryEpoch = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// StubClock is a shelf.Clock that only moves when told to.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock at LibraryEpoch.
func FixedClock() *StubClock {
	return NewStubClock(LibraryEpoch)
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward, e.g. past a token's expiry.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Stamp is the epoch-millisecond suffix a name collision gets right now.
func (c *StubClock) Stamp() string {
	return strconv.FormatInt(c.Now().UnixMilli(), 10)
}

// StubIDGenerator hands out remote file and folder ids "file-1", "file-2"
// and so on.
type StubIDGenerator struct {
	mu   sync.Mutex
	next int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return "file-" + strconv.Itoa(g.next)
}
