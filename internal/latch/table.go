// Package latch implements a fixed-size table of striped mutexes, used to
// serialize operations keyed by a string (a block identity or a file name)
// without paying for one mutex per key and without a single pool-wide lock.
package latch

import (
	"sync"

	"github.com/OneOfOne/xxhash"
)

// DefaultStripes is a prime bucket count, chosen so that keys whose hashes
// share small common factors still spread across the table.
const DefaultStripes = 1009

// Table is a fixed array of mutexes. Two keys that hash to the same bucket
// contend even if they are unrelated; that's the accepted cost of striping.
type Table struct {
	mus []sync.Mutex
}

// New builds a table with n stripes. n <= 0 falls back to DefaultStripes.
func New(n int) *Table {
	if n <= 0 {
		n = DefaultStripes
	}
	return &Table{mus: make([]sync.Mutex, n)}
}

// Index maps key to a stripe index. Callers lock/unlock by index so they
// can hash once and hold the same stripe across a read-then-maybe-write.
func (t *Table) Index(key string) int {
	h := xxhash.New64()
	_, _ = h.Write([]byte(key))
	return int(h.Sum64() % uint64(len(t.mus)))
}

func (t *Table) Lock(i int)   { t.mus[i].Lock() }
func (t *Table) Unlock(i int) { t.mus[i].Unlock() }

func (t *Table) Len() int { return len(t.mus) }
