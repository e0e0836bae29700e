// Package feed keeps the most recent status updates for the status page,
// which polls them over HTTP.
package feed

import (
	"sync"
	"time"
)

// DefaultSize is the number of updates retained when none is configured.
const DefaultSize = 100

// Update is one status entry.
type Update struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Project   string    `json:"project,omitempty"`
	Data      any       `json:"data"`
}

// Feed is a fixed-size ring of updates; the oldest entry is overwritten once
// the ring is full.
type Feed struct {
	mu   sync.Mutex
	buf  []Update
	next int
	full bool
	now  func() time.Time
}

// New creates a feed retaining size updates (DefaultSize if size < 1).
func New(size int) *Feed {
	if size < 1 {
		size = DefaultSize
	}
	return &Feed{buf: make([]Update, size), now: time.Now}
}

// Publish appends an update stamped with the current time.
func (f *Feed) Publish(kind, project string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buf[f.next] = Update{Timestamp: f.now(), Kind: kind, Project: project, Data: data}
	f.next = (f.next + 1) % len(f.buf)
	if f.next == 0 {
		f.full = true
	}
}

// List returns the retained updates, oldest first.
func (f *Feed) List() []Update {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.full {
		return append([]Update{}, f.buf[:f.next]...)
	}
	out := make([]Update, 0, len(f.buf))
	out = append(out, f.buf[f.next:]...)
	return append(out, f.buf[:f.next]...)
}

// Len returns the number of retained updates.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return len(f.buf)
	}
	return f.next
}
