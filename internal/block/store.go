package block

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// PageSize matches the on-disk block size the pool hands out to callers.
	PageSize = 8 * 1024
	// SegmentSize bounds how large a single backing file is allowed to grow
	// before the manager rolls over to Base.N.
	SegmentSize = 1 * 1024 * 1024 * 1024
)

// Store is the durable backing store a buffer pool reads blocks from and
// writes dirty blocks back to. A Store knows nothing about frames, pins,
// or eviction — it only moves fixed-size blocks to and from disk.
type Store interface {
	ReadBlock(id ID, dst []byte) error
	WriteBlock(id ID, src []byte) error
	AppendBlock(file string) (ID, error)
}

var _ Store = (*Manager)(nil)

// Manager is a Store backed by local files, one segment chain per logical
// file name: Base, Base.1, Base.2, ...
type Manager struct {
	dir string
}

func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

func (m *Manager) segmentPath(file string, segNo int32) string {
	name := file
	if segNo > 0 {
		name = fmt.Sprintf("%s.%d", file, segNo)
	}
	return filepath.Join(m.dir, name)
}

func (m *Manager) openSegment(file string, segNo int32) (*os.File, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(m.segmentPath(file, segNo), os.O_RDWR|os.O_CREATE, 0o644)
}

func pagesPerSegment() int32 {
	return SegmentSize / PageSize
}

func locate(num uint32) (segNo int32, offset int64) {
	pps := pagesPerSegment()
	segNo = int32(num) / pps
	within := int32(num) % pps
	return segNo, int64(within) * PageSize
}

func closeFile(f *os.File) {
	if err := f.Close(); err != nil {
		slog.Error("block: close segment", "err", err)
	}
}

func (m *Manager) ReadBlock(id ID, dst []byte) error {
	if len(dst) != PageSize {
		return ErrBadSize
	}
	segNo, off := locate(id.Num)
	f, err := m.openSegment(id.File, segNo)
	if err != nil {
		return err
	}
	defer closeFile(f)

	n, err := f.ReadAt(dst, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	for i := n; i < PageSize; i++ {
		dst[i] = 0
	}
	return nil
}

func (m *Manager) WriteBlock(id ID, src []byte) error {
	if len(src) != PageSize {
		return ErrBadSize
	}
	segNo, off := locate(id.Num)
	f, err := m.openSegment(id.File, segNo)
	if err != nil {
		return err
	}
	defer closeFile(f)

	n, err := f.WriteAt(src, off)
	if err != nil {
		return err
	}
	if n != PageSize {
		return io.ErrShortWrite
	}
	return nil
}

// countBlocks scans existing segments without creating any, unlike
// openSegment. Probing with O_CREATE here would fabricate an empty
// trailing segment on every call and never observe os.IsNotExist.
func (m *Manager) countBlocks(file string) (uint32, error) {
	var total uint32
	for segNo := int32(0); ; segNo++ {
		info, err := os.Stat(m.segmentPath(file, segNo))
		if err != nil {
			if os.IsNotExist(err) {
				break
			}
			return 0, err
		}
		total += uint32(info.Size() / PageSize)
	}
	return total, nil
}

// AppendBlock grows file by one zero-filled block and returns its ID.
// Callers are expected to serialize concurrent appends to the same file
// (the pool does this with its file-striped latches); AppendBlock itself
// holds no lock.
func (m *Manager) AppendBlock(file string) (ID, error) {
	total, err := m.countBlocks(file)
	if err != nil {
		return ID{}, err
	}
	id := ID{File: file, Num: total}
	if err := m.WriteBlock(id, make([]byte, PageSize)); err != nil {
		return ID{}, err
	}
	return id, nil
}
