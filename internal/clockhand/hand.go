// Package clockhand holds the single cursor a clock/second-chance
// replacement scanner sweeps around its frame ring.
package clockhand

import "go.uber.org/atomic"

// Hand is the scanner's cursor. It is read and written far more often
// than it is contended on, so it is a plain atomic integer rather than
// something guarded by a mutex: a stale read only costs a slightly
// different sweep starting point, never a correctness violation.
type Hand struct {
	pos atomic.Int32
}

func New() *Hand {
	return &Hand{}
}

func (h *Hand) Load() int {
	return int(h.pos.Load())
}

func (h *Hand) Store(v int) {
	h.pos.Store(int32(v))
}
