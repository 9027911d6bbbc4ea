/*
Package backing provides the Block Backing layer: an addressable byte
stream supporting random read/write/seek and a flush durability barrier.

Two concrete implementations are provided: MemoryBacking, a growable
volatile buffer sized as a percentage of available memory, and
FileBacking, a file opened for read/write with an explicit flush barrier.
Both satisfy the same Backing interface so the btree package never needs
to know which one it is writing through.
*/
package backing

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/tendrl-inc-labs/microtetherdb/pkg/mtdberrors"
)

// Backing is the contract the BTree Layer writes through.
type Backing interface {
	// ReadAt reads len(p) bytes starting at offset. Reads past the current
	// size return a short read padded with zeroes, matching sparse-file semantics.
	ReadAt(offset int64, p []byte) error
	// WriteAt writes p at offset, extending the backing if necessary.
	WriteAt(offset int64, p []byte) error
	// Size reports the current logical size of the backing.
	Size() (int64, error)
	// Truncate resizes the backing, growing with zero-fill or shrinking.
	Truncate(size int64) error
	// Flush forces pending writes to reach durable storage. A no-op for
	// MemoryBacking, required for interface parity with FileBacking.
	Flush() error
	// Close releases any resources held by the backing.
	Close() error
}

const (
	minMemoryBackingSize = 1024 // 1 KiB floor per spec §4.1
	defaultRAMPercentage = 25
)

// MemoryBacking is a growable, in-process byte buffer. It is lost on
// process exit and its Flush is a no-op.
type MemoryBacking struct {
	mu   sync.RWMutex
	buf  []byte
	size int64
}

// NewMemoryBacking allocates a MemoryBacking sized to ramPercentage of the
// estimated free memory for the process, clamped to a 1 KiB floor. There is
// no third-party free-memory probe in the dependency set this engine is
// grounded on, so the estimate is derived from runtime.MemStats (see
// DESIGN.md for why this stays on the standard library rather than reaching
// for an OS-specific memory-introspection package).
func NewMemoryBacking(ramPercentage int) *MemoryBacking {
	if ramPercentage <= 0 {
		ramPercentage = defaultRAMPercentage
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	// Sys is the total memory obtained from the OS; it's the best
	// process-local proxy we have for "available memory" without an OS call.
	available := int64(stats.Sys)
	if available <= 0 {
		available = minMemoryBackingSize * 4
	}

	initial := available * int64(ramPercentage) / 100
	if initial < minMemoryBackingSize {
		initial = minMemoryBackingSize
	}

	return &MemoryBacking{buf: make([]byte, initial)}
}

// Len reports the chosen buffer size, matching the "implementation reports
// the chosen size" requirement of spec §4.1.
func (m *MemoryBacking) Len() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.buf))
}

func (m *MemoryBacking) ReadAt(offset int64, p []byte) error {
	if offset < 0 {
		return fmt.Errorf("backing: negative offset: %w", mtdberrors.ErrIO)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range p {
		p[i] = 0
	}
	if offset >= int64(len(m.buf)) {
		return nil
	}
	n := copy(p, m.buf[offset:])
	_ = n
	return nil
}

func (m *MemoryBacking) WriteAt(offset int64, p []byte) error {
	if offset < 0 {
		return fmt.Errorf("backing: negative offset: %w", mtdberrors.ErrIO)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	end := offset + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[offset:end], p)
	if end > m.size {
		m.size = end
	}
	return nil
}

func (m *MemoryBacking) Size() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size, nil
}

func (m *MemoryBacking) Truncate(size int64) error {
	if size < 0 {
		return fmt.Errorf("backing: negative size: %w", mtdberrors.ErrIO)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if size <= int64(len(m.buf)) {
		m.buf = m.buf[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, m.buf)
		m.buf = grown
	}
	m.size = size
	return nil
}

// Flush is a no-op: MemoryBacking has no durability barrier to cross.
func (m *MemoryBacking) Flush() error { return nil }

// Close releases the in-memory buffer.
func (m *MemoryBacking) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf = nil
	return nil
}

// FileBacking is a file opened for read/write. Flush forces the OS buffer
// to the underlying storage via fsync.
type FileBacking struct {
	mu   sync.RWMutex
	f    *os.File
	path string
}

// NewFileBacking opens path for read/write, creating it empty if absent.
func NewFileBacking(path string) (*FileBacking, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("backing: open %s: %w", path, mtdberrors.ErrIO)
	}
	return &FileBacking{f: f, path: path}, nil
}

func (fb *FileBacking) ReadAt(offset int64, p []byte) error {
	fb.mu.RLock()
	defer fb.mu.RUnlock()

	n, err := fb.f.ReadAt(p, offset)
	if err != nil && err != io.EOF {
		return fmt.Errorf("backing: read %s: %w", fb.path, mtdberrors.ErrIO)
	}
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return nil
}

func (fb *FileBacking) WriteAt(offset int64, p []byte) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if _, err := fb.f.WriteAt(p, offset); err != nil {
		return fmt.Errorf("backing: write %s: %w", fb.path, mtdberrors.ErrIO)
	}
	return nil
}

func (fb *FileBacking) Size() (int64, error) {
	fb.mu.RLock()
	defer fb.mu.RUnlock()

	info, err := fb.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("backing: stat %s: %w", fb.path, mtdberrors.ErrIO)
	}
	return info.Size(), nil
}

func (fb *FileBacking) Truncate(size int64) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if err := fb.f.Truncate(size); err != nil {
		return fmt.Errorf("backing: truncate %s: %w", fb.path, mtdberrors.ErrIO)
	}
	return nil
}

// Flush fsyncs the file, the durability barrier for persistent backings.
func (fb *FileBacking) Flush() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if err := fb.f.Sync(); err != nil {
		return fmt.Errorf("backing: sync %s: %w", fb.path, mtdberrors.ErrIO)
	}
	return nil
}

func (fb *FileBacking) Close() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if err := fb.f.Close(); err != nil {
		return fmt.Errorf("backing: close %s: %w", fb.path, mtdberrors.ErrIO)
	}
	return nil
}
