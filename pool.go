// Package bufferpool is a fixed-size database buffer pool: a bounded
// set of in-memory frames backed by durable block storage, reclaimed
// with a clock (second-chance) scanner under striped per-block and
// per-file latches instead of one pool-wide mutex.
package bufferpool

import (
	"log/slog"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/clockbuf/clockbuf/internal/block"
	"github.com/clockbuf/clockbuf/internal/clockhand"
	"github.com/clockbuf/clockbuf/internal/latch"
	"github.com/clockbuf/clockbuf/internal/wal"
)

var logPrefix = "bufferpool: "

// Pool is a fixed-size buffer pool. There is deliberately no pool-wide
// mutex: concurrent pins on different blocks proceed in parallel,
// serialized only where they actually contend — on a block's striped
// latch, on a file's striped latch, and on the one frame a swap
// touches.
type Pool struct {
	store block.Store
	log   wal.LogFlusher

	frames []*Frame
	index  *residentIndex
	hand   *clockhand.Hand

	blockLatches *latch.Table
	fileLatches  *latch.Table

	numAvailable atomic.Int64

	// pinStats packs the hit-rate window into one word: the high 32 bits
	// count total Pin/PinNew calls, the low 32 bits count misses. They
	// are read and reset together with a single atomic op so a request
	// straddling a HitRate() call can never have its total land in one
	// window and its miss in the next.
	pinStats atomic.Uint64
}

const pinStatsMissUnit = 1
const pinStatsTotalUnit = 1 << 32

func splitPinStats(v uint64) (total, miss int64) {
	return int64(v >> 32), int64(v & 0xffffffff)
}

// New builds a Pool with cfg.NumBuffers frames, all initially free.
func New(cfg Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		store:        cfg.Store,
		log:          cfg.Log,
		frames:       make([]*Frame, cfg.NumBuffers),
		index:        newResidentIndex(cfg.NumBuffers),
		hand:         clockhand.New(),
		blockLatches: latch.New(cfg.BlockStripes),
		fileLatches:  latch.New(cfg.FileStripes),
	}
	for i := range p.frames {
		p.frames[i] = newFrame(block.PageSize)
	}
	p.numAvailable.Store(int64(cfg.NumBuffers))
	return p, nil
}

// Pin returns the frame holding block id, loading it from the store if
// it is not already resident. The returned frame is pinned; the caller
// must Unpin it when done.
func (p *Pool) Pin(id block.ID) (*Frame, error) {
	p.pinStats.Add(pinStatsTotalUnit)

	for {
		bi := p.blockLatches.Index(id.String())
		p.blockLatches.Lock(bi)

		if f, ok := p.index.get(id); ok {
			f.swapLock.Lock()
			p.blockLatches.Unlock(bi)

			if f.id != id {
				// Another goroutine's swap raced us between the index
				// lookup and taking the frame's swap lock. Retry.
				f.swapLock.Unlock()
				continue
			}
			if f.pinCount == 0 {
				p.numAvailable.Dec()
			}
			f.pin()
			f.swapLock.Unlock()
			slog.Debug(logPrefix+"pin hit", "block", id.String())
			return f, nil
		}

		p.pinStats.Add(pinStatsMissUnit)
		victim, ok := p.scan()
		if !ok {
			p.blockLatches.Unlock(bi)
			return nil, ErrNoVictimFrame
		}

		oldID := victim.id
		if !oldID.Zero() {
			if err := victim.flush(p.store, p.log); err != nil {
				victim.swapLock.Unlock()
				p.blockLatches.Unlock(bi)
				return nil, err
			}
			p.index.remove(oldID)
		}

		if err := victim.assignToBlock(p.store, id); err != nil {
			victim.swapLock.Unlock()
			p.blockLatches.Unlock(bi)
			return nil, err
		}

		p.index.put(id, victim)
		p.numAvailable.Dec()
		victim.pin()
		victim.swapLock.Unlock()
		p.blockLatches.Unlock(bi)
		slog.Debug(logPrefix+"pin miss", "block", id.String())
		return victim, nil
	}
}

// PinNew appends a new block to file, formats it with format, and
// returns it pinned. The file's striped latch serializes concurrent
// appends to the same file.
func (p *Pool) PinNew(file string, format PageFormatter) (*Frame, error) {
	p.pinStats.Add(pinStatsTotalUnit)

	fi := p.fileLatches.Index(file)
	p.fileLatches.Lock(fi)
	defer p.fileLatches.Unlock(fi)

	victim, ok := p.scan()
	if !ok {
		return nil, ErrNoVictimFrame
	}

	oldID := victim.id
	if !oldID.Zero() {
		if err := victim.flush(p.store, p.log); err != nil {
			victim.swapLock.Unlock()
			return nil, err
		}
		p.index.remove(oldID)
	}

	newID, err := victim.assignToNew(p.store, file, format)
	if err != nil {
		victim.swapLock.Unlock()
		return nil, err
	}

	p.index.put(newID, victim)
	p.numAvailable.Dec()
	victim.pin()
	victim.swapLock.Unlock()
	slog.Debug(logPrefix+"pin new", "block", newID.String())
	return victim, nil
}

// Unpin releases one pin on each of frames. It panics if any frame was
// not pinned — that is a programmer error in the caller, not a
// recoverable runtime condition.
func (p *Pool) Unpin(frames ...*Frame) {
	for _, f := range frames {
		f.swapLock.Lock()
		f.unpin()
		if f.pinCount == 0 {
			p.numAvailable.Inc()
		}
		f.swapLock.Unlock()
	}
}

// FlushAll flushes every dirty resident frame, collecting and returning
// every error encountered rather than stopping at the first.
func (p *Pool) FlushAll() error {
	var errs error
	for _, f := range p.frames {
		f.swapLock.Lock()
		err := f.flush(p.store, p.log)
		f.swapLock.Unlock()
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Available returns the number of frames currently unpinned.
func (p *Pool) Available() int {
	return int(p.numAvailable.Load())
}

// HitRate returns the fraction of Pin/PinNew calls since the last
// HitRate call that did not miss: Pin calls that found their block
// already resident, plus every PinNew call, which counts toward the
// total but never as a miss. Reading it
// resets the counters, so it measures the interval since the previous
// read rather than a lifetime average.
func (p *Pool) HitRate() float64 {
	total, miss := splitPinStats(p.pinStats.Swap(0))
	if total == 0 {
		return 1
	}
	return 1 - float64(miss)/float64(total)
}

// peekHitRate reports the same ratio as HitRate without resetting the
// counters, for background samplers (e.g. StartObserver) that must not
// steal the window out from under callers of the public HitRate API.
func (p *Pool) peekHitRate() float64 {
	total, miss := splitPinStats(p.pinStats.Load())
	if total == 0 {
		return 1
	}
	return 1 - float64(miss)/float64(total)
}

// scan runs the replacement scanner: starting just past the hand, it
// walks the ring once looking for a frame that is unpinned and was not
// recently touched, skipping any frame it cannot immediately lock. It
// returns that frame still locked, or false if the sweep found none.
func (p *Pool) scan() (*Frame, bool) {
	n := len(p.frames)
	start := (p.hand.Load() + 1) % n
	idx := start

	for i := 0; i < n; i++ {
		f := p.frames[idx]
		if f.swapLock.TryLock() {
			if f.pinCount == 0 {
				if !f.checkRecentAndReset() {
					p.hand.Store(idx)
					return f, true
				}
			}
			f.swapLock.Unlock()
		}
		idx++
		if idx == n {
			idx = 0
		}
	}
	return nil, false
}
