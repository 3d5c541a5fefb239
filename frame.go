package bufferpool

import (
	"sync"

	"github.com/clockbuf/clockbuf/internal/block"
	"github.com/clockbuf/clockbuf/internal/wal"
)

// Frame is one fixed-size slot of the pool: a page buffer plus the
// bookkeeping needed to pin it, evict it, and flush it back to disk.
//
// swapLock is the per-frame latch the pool takes before touching any of
// a frame's fields. Holders acquire block/file latches before swapLock,
// never the reverse, and the replacement scanner only ever tries
// swapLock with TryLock so it can never block behind a pinned frame.
type Frame struct {
	page []byte

	id       block.ID
	pinCount int32
	dirty    bool
	recent   bool
	lsn      uint64

	swapLock sync.Mutex
}

func newFrame(pageSize int) *Frame {
	return &Frame{page: make([]byte, pageSize)}
}

// Page exposes the frame's byte buffer. Callers may read and write it
// only while holding a pin on this frame; the pool does not itself
// synchronize access to the bytes.
func (f *Frame) Page() []byte { return f.page }

func (f *Frame) BlockID() block.ID { return f.id }

func (f *Frame) IsDirty() bool {
	f.swapLock.Lock()
	defer f.swapLock.Unlock()
	return f.dirty
}

func (f *Frame) IsPinned() bool {
	f.swapLock.Lock()
	defer f.swapLock.Unlock()
	return f.pinCount > 0
}

// MarkDirty records that the page has been written to under lsn, the
// write-ahead log record that covers the write. A later flush will not
// write the page back until the log has been flushed through lsn.
func (f *Frame) MarkDirty(lsn uint64) {
	f.swapLock.Lock()
	defer f.swapLock.Unlock()
	f.dirty = true
	if lsn > f.lsn {
		f.lsn = lsn
	}
}

func (f *Frame) pin() {
	f.pinCount++
	f.recent = true
}

func (f *Frame) unpin() {
	if f.pinCount <= 0 {
		panic("bufferpool: unpin of a frame with no pins held")
	}
	f.pinCount--
}

func (f *Frame) checkRecentAndReset() bool {
	r := f.recent
	f.recent = false
	return r
}

// assignToBlock loads block id's bytes into the frame and adopts its
// identity. The caller must have already flushed and evicted whatever
// block the frame previously held.
func (f *Frame) assignToBlock(store block.Store, id block.ID) error {
	if err := store.ReadBlock(id, f.page); err != nil {
		f.id = block.ID{}
		return err
	}
	f.id = id
	f.dirty = false
	f.recent = false
	f.lsn = 0
	return nil
}

// assignToNew appends a new block to file, formats it, and adopts its
// identity. The new block is dirty from the moment it is created: it
// exists only in memory until the next flush.
func (f *Frame) assignToNew(store block.Store, file string, format PageFormatter) (block.ID, error) {
	id, err := store.AppendBlock(file)
	if err != nil {
		f.id = block.ID{}
		return block.ID{}, err
	}
	for i := range f.page {
		f.page[i] = 0
	}
	if format != nil {
		format(f.page)
	}
	f.id = id
	f.dirty = true
	f.recent = false
	return id, nil
}

// flush writes the frame's page back to store if dirty, flushing the
// log through the frame's LSN first. A non-dirty or identity-less frame
// is a no-op.
func (f *Frame) flush(store block.Store, log wal.LogFlusher) error {
	if !f.dirty || f.id.Zero() {
		return nil
	}
	if err := log.FlushThrough(f.lsn); err != nil {
		return err
	}
	if err := store.WriteBlock(f.id, f.page); err != nil {
		return err
	}
	f.dirty = false
	return nil
}
