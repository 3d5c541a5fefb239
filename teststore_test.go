package bufferpool

import (
	"errors"
	"sync"

	"github.com/clockbuf/clockbuf/internal/block"
	"github.com/clockbuf/clockbuf/internal/wal"
)

var errInjected = errors.New("bufferpool: injected test failure")

// flakyStore wraps a real block.Store and lets tests force ReadBlock,
// WriteBlock, or AppendBlock to fail for chosen identities/files, and
// counts reads per block so single-loader races can be asserted on.
type flakyStore struct {
	block.Store

	mu          sync.Mutex
	failRead    map[block.ID]bool
	failWrite   map[block.ID]bool
	failAppend  map[string]bool
	readCounts  map[block.ID]int
}

func newFlakyStore(underlying block.Store) *flakyStore {
	return &flakyStore{
		Store:      underlying,
		failRead:   make(map[block.ID]bool),
		failWrite:  make(map[block.ID]bool),
		failAppend: make(map[string]bool),
		readCounts: make(map[block.ID]int),
	}
}

func (s *flakyStore) ReadBlock(id block.ID, dst []byte) error {
	s.mu.Lock()
	s.readCounts[id]++
	fail := s.failRead[id]
	s.mu.Unlock()
	if fail {
		return errInjected
	}
	return s.Store.ReadBlock(id, dst)
}

func (s *flakyStore) WriteBlock(id block.ID, src []byte) error {
	s.mu.Lock()
	fail := s.failWrite[id]
	s.mu.Unlock()
	if fail {
		return errInjected
	}
	return s.Store.WriteBlock(id, src)
}

func (s *flakyStore) AppendBlock(file string) (block.ID, error) {
	s.mu.Lock()
	fail := s.failAppend[file]
	s.mu.Unlock()
	if fail {
		return block.ID{}, errInjected
	}
	return s.Store.AppendBlock(file)
}

func (s *flakyStore) readCountOf(id block.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readCounts[id]
}

// flakyLog wraps a wal.LogFlusher and lets tests force FlushThrough to
// fail.
type flakyLog struct {
	underlying wal.LogFlusher
	mu         sync.Mutex
	failAll    bool
}

func newFlakyLog(underlying wal.LogFlusher) *flakyLog {
	return &flakyLog{underlying: underlying}
}

func (l *flakyLog) FlushThrough(lsn uint64) error {
	l.mu.Lock()
	fail := l.failAll
	l.mu.Unlock()
	if fail {
		return errInjected
	}
	return l.underlying.FlushThrough(lsn)
}
