package bufferpool

import "errors"

var (
	// ErrNoVictimFrame is returned when a pin or pin-new call finds no
	// unpinned, non-recent frame during one full sweep of the ring.
	ErrNoVictimFrame = errors.New("bufferpool: no victim frame available (all pinned or recently used)")

	// ErrBadConfig is returned by New when the supplied Config cannot
	// back a working pool.
	ErrBadConfig = errors.New("bufferpool: invalid config")
)
