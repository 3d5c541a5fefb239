// Package wal is a minimal write-ahead log: enough for the buffer
// pool to obey flush-before-write (a page's log records must be durable
// before the page itself is written back), without the redo/recovery
// machinery a full log manager would carry.
package wal

import (
	"bufio"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/clockbuf/clockbuf/internal/bx"
)

var (
	ErrBadMagic  = errors.New("wal: bad magic")
	ErrBadCRC    = errors.New("wal: bad crc")
	ErrBadRecord = errors.New("wal: bad record")
	ErrClosed    = errors.New("wal: log is closed")
)

const (
	magicU32   uint32 = 0x434c574c // "CLWL"
	versionU16 uint16 = 1
	recHeader         = 4 + 4 + 4 + 4 + 8 // magic, version, totalLen, crc, lsn
)

// LogFlusher is the only operation the buffer pool needs from a log
// manager: make every record up to and including lsn durable.
type LogFlusher interface {
	FlushThrough(lsn uint64) error
}

var _ LogFlusher = (*Manager)(nil)

// Manager is a LogFlusher backed by a single append-only file.
type Manager struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	lsn     uint64
	flushed uint64
}

func Open(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "wal.log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	m := &Manager{f: f, path: path}
	if last, err := m.scanLastLSN(); err == nil {
		m.lsn = last
		m.flushed = last
	}
	return m, nil
}

func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	return err
}

// Append assigns the next LSN to payload and writes the record. It does
// not make the record durable; call FlushThrough for that.
func (m *Manager) Append(payload []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return 0, ErrClosed
	}

	m.lsn++
	lsn := m.lsn

	totalLen := recHeader + len(payload)
	buf := make([]byte, totalLen)
	off := 0

	bx.PutU32(buf[off:], magicU32)
	off += 4
	bx.PutU32(buf[off:], uint32(versionU16))
	off += 4
	bx.PutU32(buf[off:], uint32(totalLen))
	off += 4
	crcOff := off
	off += 4 // crc placeholder
	bx.PutU64(buf[off:], lsn)
	off += 8
	copy(buf[off:], payload)

	crc := crc32.ChecksumIEEE(buf[crcOff+4:])
	bx.PutU32(buf[crcOff:], crc)

	if _, err := m.f.Write(buf); err != nil {
		m.lsn--
		return 0, err
	}
	return lsn, nil
}

// FlushThrough fsyncs the log file once at least upto has been
// appended. Calls for an lsn already durable are no-ops.
func (m *Manager) FlushThrough(upto uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return ErrClosed
	}
	if upto == 0 || upto <= m.flushed {
		return nil
	}
	if err := m.f.Sync(); err != nil {
		return err
	}
	m.flushed = upto
	return nil
}

func (m *Manager) LastLSN() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lsn
}

func (m *Manager) scanLastLSN() (uint64, error) {
	f, err := os.Open(m.path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 1<<16)
	var last uint64
	for {
		lsn, _, err := readOne(r)
		if err != nil {
			break
		}
		if lsn > last {
			last = lsn
		}
	}
	return last, nil
}

func readOne(r *bufio.Reader) (lsn uint64, payload []byte, err error) {
	var hdr [4]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	if bx.U32(hdr[:]) != magicU32 {
		return 0, nil, ErrBadMagic
	}

	var verB [4]byte
	if _, err = io.ReadFull(r, verB[:]); err != nil {
		return 0, nil, err
	}
	if bx.U32(verB[:]) != uint32(versionU16) {
		return 0, nil, ErrBadRecord
	}

	var lenB [4]byte
	if _, err = io.ReadFull(r, lenB[:]); err != nil {
		return 0, nil, err
	}
	totalLen := int(bx.U32(lenB[:]))
	if totalLen < recHeader {
		return 0, nil, ErrBadRecord
	}

	var crcB [4]byte
	if _, err = io.ReadFull(r, crcB[:]); err != nil {
		return 0, nil, err
	}
	wantCRC := bx.U32(crcB[:])

	rest := make([]byte, totalLen-(4+4+4+4))
	if _, err = io.ReadFull(r, rest); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil, io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	if crc32.ChecksumIEEE(rest) != wantCRC {
		return 0, nil, ErrBadCRC
	}

	lsn = bx.U64(rest[:8])
	payload = rest[8:]
	return lsn, payload, nil
}
