// Package segment provides the shared registry of per-segment binary locks
// that keeps two trains from occupying the same stretch of track.
package segment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/anggasct/tracklock/pkg/topology"
)

// Owner identifies the agent holding a segment
type Owner string

var (
	// ErrUnknownSegment is returned when a segment outside the layout is requested
	ErrUnknownSegment = errors.New("unknown segment")

	// ErrAcquireAborted is returned when a blocking acquire is cancelled before the lock is granted
	ErrAcquireAborted = errors.New("segment acquire aborted")
)

// Stats counts lock activity for a single segment
type Stats struct {
	Grants    int `json:"grants"`
	Contended int `json:"contended"`
	Releases  int `json:"releases"`
}

type waiter struct {
	owner   Owner
	granted chan struct{}
}

// slot pairs the segment semaphore with its holder. While waiters are queued
// the semaphore stays acquired and Release hands ownership to the head of the
// queue, so the holder never reads as empty during a hand-off.
type slot struct {
	sem     *semaphore.Weighted
	holder  Owner
	waiters []*waiter
	stats   Stats
}

// handOff passes the held semaphore to the longest waiter, or frees it.
// Callers hold the registry mutex.
func (s *slot) handOff() {
	if len(s.waiters) == 0 {
		s.holder = ""
		s.sem.Release(1)
		return
	}
	next := s.waiters[0]
	s.waiters = s.waiters[1:]
	s.holder = next.owner
	s.stats.Grants++
	close(next.granted)
}

func (s *slot) dequeue(w *waiter) bool {
	for i, queued := range s.waiters {
		if queued == w {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Registry holds one binary lock per segment. It is safe for concurrent use.
type Registry struct {
	mutex sync.Mutex
	slots map[topology.Segment]*slot
}

// NewRegistry creates a registry with a free lock for every segment of the layout
func NewRegistry() *Registry {
	r := &Registry{
		slots: make(map[topology.Segment]*slot),
	}
	for _, seg := range topology.Segments() {
		r.slots[seg] = &slot{sem: semaphore.NewWeighted(1)}
	}
	return r
}

// Acquire blocks until seg is granted to owner. Acquiring a segment the owner
// already holds is a no-op. If ctx ends first the lock is not taken.
func (r *Registry) Acquire(ctx context.Context, seg topology.Segment, owner Owner) error {
	r.mutex.Lock()
	s, ok := r.slots[seg]
	if !ok {
		r.mutex.Unlock()
		return fmt.Errorf("%w: %v", ErrUnknownSegment, seg)
	}
	if s.holder == owner {
		r.mutex.Unlock()
		return nil
	}
	if s.sem.TryAcquire(1) {
		s.holder = owner
		s.stats.Grants++
		r.mutex.Unlock()
		return nil
	}
	s.stats.Contended++
	w := &waiter{owner: owner, granted: make(chan struct{})}
	s.waiters = append(s.waiters, w)
	r.mutex.Unlock()

	select {
	case <-w.granted:
		return nil
	case <-ctx.Done():
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if !s.dequeue(w) {
		// granted while cancelling; pass it on
		s.stats.Releases++
		s.handOff()
	}
	return fmt.Errorf("%w: %s waiting for %s: %w", ErrAcquireAborted, owner, seg, ctx.Err())
}

// TryAcquire grants seg to owner only if it is free right now. It reports
// true when the owner holds the segment afterwards.
func (r *Registry) TryAcquire(seg topology.Segment, owner Owner) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s, ok := r.slots[seg]
	if !ok {
		return false
	}
	if s.holder == owner {
		return true
	}
	if !s.sem.TryAcquire(1) {
		return false
	}
	s.holder = owner
	s.stats.Grants++
	return true
}

// Release frees seg if owner holds it and wakes the longest waiter. It
// reports whether anything was released.
func (r *Registry) Release(seg topology.Segment, owner Owner) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s, ok := r.slots[seg]
	if !ok || s.holder == "" || s.holder != owner {
		return false
	}
	s.stats.Releases++
	s.handOff()
	return true
}

// Holder returns the current owner of seg
func (r *Registry) Holder(seg topology.Segment) (Owner, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s, ok := r.slots[seg]
	if !ok || s.holder == "" {
		return "", false
	}
	return s.holder, true
}

// Snapshot returns the holder of every held segment
func (r *Registry) Snapshot() map[topology.Segment]Owner {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	result := make(map[topology.Segment]Owner)
	for seg, s := range r.slots {
		if s.holder != "" {
			result[seg] = s.holder
		}
	}
	return result
}

// Stats returns lock counters for every segment
func (r *Registry) Stats() map[topology.Segment]Stats {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	result := make(map[topology.Segment]Stats, len(r.slots))
	for seg, s := range r.slots {
		result[seg] = s.stats
	}
	return result
}
