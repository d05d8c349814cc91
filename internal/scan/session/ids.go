package session

import "sync"

// IDAllocator hands out session ids. An id is never handed out twice by the
// same allocator.
type IDAllocator struct {
	mu   sync.Mutex
	next int
}

// NewIDAllocator starts numbering at 1.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{next: 1}
}

// Next returns a fresh id.
func (a *IDAllocator) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.next
	a.next++
	return id
}

// AdvancePast makes sure the next id is greater than max. The counter only
// ever moves forward: when ids above max were already handed out it is left
// alone, so loading older records never reissues an id.
func (a *IDAllocator) AdvancePast(max int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next <= max {
		a.next = max + 1
	}
}

// Peek returns the id Next would hand out without consuming it.
func (a *IDAllocator) Peek() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}
