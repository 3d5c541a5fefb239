package bufferpool

import (
	"sync"

	"github.com/clockbuf/clockbuf/internal/block"
)

// residentIndex maps a resident block's identity to the frame holding
// it. It is its own small mutex rather than reusing a striped latch:
// lookups and updates here are O(1) map operations, not the
// scan/flush/read work the block and file latches guard.
type residentIndex struct {
	mu sync.RWMutex
	m  map[block.ID]*Frame
}

func newResidentIndex(capacity int) *residentIndex {
	return &residentIndex{m: make(map[block.ID]*Frame, capacity)}
}

func (r *residentIndex) get(id block.ID) (*Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.m[id]
	return f, ok
}

func (r *residentIndex) put(id block.ID, f *Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[id] = f
}

func (r *residentIndex) remove(id block.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, id)
}
