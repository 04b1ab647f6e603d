// internal/location/location.go

// Package location tracks device-reported coordinate fixes and answers
// single-shot fix requests with a bounded wait, as the SOS path requires.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/kidwatch/internal/types"
)

// ErrNoFix means no sufficiently fresh fix could be obtained within the
// caller's deadline.
var ErrNoFix = errors.New("no location fix")

// Fix is a single coordinate fix for a child.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	At        time.Time `json:"at"`
}

// Provider yields a single coordinate fix for a child, waiting no longer
// than the context allows.
type Provider interface {
	Fix(ctx context.Context, childID types.ChildID) (Fix, error)
}

// Registry is a Provider fed by device location reports. A Fix call returns
// the last report if it is fresh enough, otherwise waits for the next report
// until the context expires.
type Registry struct {
	maxAge time.Duration

	mu      sync.Mutex
	fixes   map[types.ChildID]Fix
	waiters map[types.ChildID][]chan Fix
}

// NewRegistry creates a Registry that considers reports older than maxAge
// stale.
func NewRegistry(maxAge time.Duration) *Registry {
	if maxAge <= 0 {
		maxAge = 2 * time.Minute
	}
	return &Registry{
		maxAge:  maxAge,
		fixes:   make(map[types.ChildID]Fix),
		waiters: make(map[types.ChildID][]chan Fix),
	}
}

// Report records a device-reported fix and wakes any waiting Fix calls.
func (r *Registry) Report(childID types.ChildID, latitude, longitude float64) {
	fix := Fix{Latitude: latitude, Longitude: longitude, At: time.Now()}

	r.mu.Lock()
	r.fixes[childID] = fix
	waiting := r.waiters[childID]
	delete(r.waiters, childID)
	r.mu.Unlock()

	for _, ch := range waiting {
		ch <- fix
	}
}

// Fix returns a fresh coordinate fix for the child, waiting for a new device
// report if the last one is stale. Returns ErrNoFix (wrapped) when the
// context expires first.
func (r *Registry) Fix(ctx context.Context, childID types.ChildID) (Fix, error) {
	r.mu.Lock()
	if fix, ok := r.fixes[childID]; ok && time.Since(fix.At) <= r.maxAge {
		r.mu.Unlock()
		return fix, nil
	}
	ch := make(chan Fix, 1)
	r.waiters[childID] = append(r.waiters[childID], ch)
	r.mu.Unlock()

	select {
	case fix := <-ch:
		return fix, nil
	case <-ctx.Done():
		r.dropWaiter(childID, ch)
		return Fix{}, fmt.Errorf("%w: %v", ErrNoFix, ctx.Err())
	}
}

// dropWaiter removes an abandoned waiter channel.
func (r *Registry) dropWaiter(childID types.ChildID, ch chan Fix) {
	r.mu.Lock()
	defer r.mu.Unlock()
	waiting := r.waiters[childID]
	for i, w := range waiting {
		if w == ch {
			r.waiters[childID] = append(waiting[:i], waiting[i+1:]...)
			break
		}
	}
	if len(r.waiters[childID]) == 0 {
		delete(r.waiters, childID)
	}
}

// Compile-time interface compliance check.
var _ Provider = (*Registry)(nil)
