package router

import (
	"sync"

	"github.com/mjaros/go-can-router/internal/can"
)

const nilIdx = int32(-1)

// store is the fixed-capacity route store: a doubly linked list threaded
// through a pre-allocated slot arena, with freed slots kept on a free list.
// Append and handle-based removal are O(1); no operation allocates after
// construction and no operation moves a live slot, so slot indices held by
// bindings stay valid across unrelated inserts and removals.
//
// The store is guarded by its own RWMutex rather than leaving mutation
// ordering to caller discipline: dispatch scans under the read lock and
// registration mutates under the write lock, so routes may be added or
// canceled while frames are being dispatched from the RX goroutine.
type store struct {
	mu    sync.RWMutex
	slots []slot
	free  int32
	head  int32
	tail  int32
	count int
}

type slot struct {
	route Route
	prev  int32
	next  int32
	used  bool
}

func newStore(capacity int) *store {
	s := &store{
		slots: make([]slot, capacity),
		free:  nilIdx,
		head:  nilIdx,
		tail:  nilIdx,
	}
	// Thread all slots onto the free list.
	for i := capacity - 1; i >= 0; i-- {
		s.slots[i].prev = nilIdx
		s.slots[i].next = s.free
		s.free = int32(i)
	}
	return s
}

// pushBack appends rt at the tail, returning the slot index, or false when
// the arena is exhausted.
func (s *store) pushBack(rt Route) (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.free
	if idx == nilIdx {
		return nilIdx, false
	}
	sl := &s.slots[idx]
	s.free = sl.next
	sl.route = rt
	sl.used = true
	sl.prev = s.tail
	sl.next = nilIdx
	if s.tail != nilIdx {
		s.slots[s.tail].next = idx
	} else {
		s.head = idx
	}
	s.tail = idx
	s.count++
	return idx, true
}

// remove unlinks the slot at idx and returns it to the free list. Reports
// whether the slot was live.
func (s *store) remove(idx int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || int(idx) >= len(s.slots) {
		return false
	}
	sl := &s.slots[idx]
	if !sl.used {
		return false
	}
	if sl.prev != nilIdx {
		s.slots[sl.prev].next = sl.next
	} else {
		s.head = sl.next
	}
	if sl.next != nilIdx {
		s.slots[sl.next].prev = sl.prev
	} else {
		s.tail = sl.prev
	}
	sl.used = false
	sl.route = Route{}
	sl.prev = nilIdx
	sl.next = s.free
	s.free = idx
	s.count--
	return true
}

// dispatch scans routes in insertion order and invokes the handler of the
// first route whose identifier matches. The handler value is copied out and
// the read lock released before the call, so handlers may register or cancel
// routes without deadlocking. Reports whether a route matched.
func (s *store) dispatch(fr can.Frame) bool {
	id := fr.ID()
	s.mu.RLock()
	for idx := s.head; idx != nilIdx; idx = s.slots[idx].next {
		if s.slots[idx].route.ID == id {
			h := s.slots[idx].route.Handler
			s.mu.RUnlock()
			if h != nil {
				h(fr)
			}
			return true
		}
	}
	s.mu.RUnlock()
	return false
}

// snapshot copies out the live routes in insertion order.
func (s *store) snapshot() []Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Route, 0, s.count)
	for idx := s.head; idx != nilIdx; idx = s.slots[idx].next {
		out = append(out, s.slots[idx].route)
	}
	return out
}

func (s *store) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func (s *store) capacity() int { return len(s.slots) }
