package bufferpool

import (
	"github.com/clockbuf/clockbuf/internal/block"
	"github.com/clockbuf/clockbuf/internal/wal"
)

// PageFormatter initializes a freshly appended, all-zero block's bytes
// in place (a heap page header, a directory slot, whatever the caller's
// layer puts on a brand-new page).
type PageFormatter func(page []byte)

// Config parameterizes a Pool. It is a plain struct rather than a
// builder or option-func chain. NumBuffers, Store and Log are required;
// only the stripe counts have a default.
type Config struct {
	// NumBuffers is the fixed number of frames the pool holds for its
	// whole lifetime. Must be >= 2.
	NumBuffers int

	// Store is the durable backing store frames are read from and
	// flushed to.
	Store block.Store

	// Log is asked to flush through a page's LSN before that page is
	// written back (write-ahead logging).
	Log wal.LogFlusher

	// BlockStripes and FileStripes size the striped latch tables used
	// to serialize per-block and per-file operations. Zero falls back
	// to latch.DefaultStripes.
	BlockStripes int
	FileStripes  int
}

func (c Config) validate() error {
	if c.NumBuffers < 2 {
		return ErrBadConfig
	}
	if c.Store == nil || c.Log == nil {
		return ErrBadConfig
	}
	return nil
}
