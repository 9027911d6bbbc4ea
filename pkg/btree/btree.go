/*
Package btree implements the ordered key/value map described in spec §4.2:
a ordered byte-string to byte-string map over a Block Backing, with
configurable page size and page cache, lexicographic key ordering, point
get/put/delete, ordered/restartable iteration, and an explicit flush
barrier.

At the scale this engine targets (tens of KB of RAM), the live key set
fits comfortably in memory, so the tree keeps its index as a single sorted
slice rather than a disk-resident node hierarchy; "page size" governs the
I/O granularity of Flush rather than indexing depth. "Cache size" is
accepted and stored but does not limit memory: every page is decoded into
the resident slice on Open and nothing is evicted.
This mirrors the teacher's BoltDB-backed storage package in spirit
(ordered, transactionally-flushed, bucket-free byte keyspace) while
implementing the page/cache contract the spec requires directly over a
Block Backing instead of delegating to an embedded database file format.
*/
package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/backing"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/mtdberrors"
)

const (
	// DefaultPageSize is the default page size in bytes (spec §6: 512-1024).
	DefaultPageSize = 512
	// DefaultCacheSize is the default page cache size in pages (spec §6: 32).
	DefaultCacheSize = 32

	pageMagic = uint32(0x4d544442) // "MTDB"
)

type entry struct {
	key   []byte
	value []byte
}

// BTree is an ordered map over a Block Backing.
type BTree struct {
	mu sync.RWMutex

	back      backing.Backing
	pageSize  int
	cacheSize int
	logger    zerolog.Logger

	entries []entry // sorted ascending by key
	dirty   bool
}

// Options configures a BTree instance.
type Options struct {
	PageSize  int
	CacheSize int
	Logger    zerolog.Logger
}

// Open constructs a BTree over back, loading any previously flushed
// key/value pairs. An empty or zero-length backing yields an empty tree.
func Open(back backing.Backing, opts Options) (*BTree, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	bt := &BTree{
		back:      back,
		pageSize:  pageSize,
		cacheSize: cacheSize,
		logger:    opts.Logger,
	}

	if err := bt.load(); err != nil {
		return nil, err
	}
	return bt, nil
}

// Get performs a point lookup. The returned bool reports whether key exists.
func (bt *BTree) Get(key []byte) ([]byte, bool, error) {
	if len(key) == 0 {
		return nil, false, mtdberrors.ErrInvalidKey
	}
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	i, found := bt.search(key)
	if !found {
		return nil, false, nil
	}
	out := make([]byte, len(bt.entries[i].value))
	copy(out, bt.entries[i].value)
	return out, true, nil
}

// Put inserts or overwrites key with value.
func (bt *BTree) Put(key, value []byte) error {
	if len(key) == 0 {
		return mtdberrors.ErrInvalidKey
	}
	bt.mu.Lock()
	defer bt.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)

	i, found := bt.search(key)
	if found {
		bt.entries[i].value = v
	} else {
		k := make([]byte, len(key))
		copy(k, key)
		bt.entries = append(bt.entries, entry{})
		copy(bt.entries[i+1:], bt.entries[i:])
		bt.entries[i] = entry{key: k, value: v}
	}
	bt.dirty = true
	return nil
}

// Delete removes key, reporting whether it previously existed.
func (bt *BTree) Delete(key []byte) (bool, error) {
	if len(key) == 0 {
		return false, mtdberrors.ErrInvalidKey
	}
	bt.mu.Lock()
	defer bt.mu.Unlock()

	i, found := bt.search(key)
	if !found {
		return false, nil
	}
	bt.entries = append(bt.entries[:i], bt.entries[i+1:]...)
	bt.dirty = true
	return true, nil
}

// Clear removes every key, marking the tree dirty so the next Flush
// persists the empty state.
func (bt *BTree) Clear() {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.entries = nil
	bt.dirty = true
}

// Len reports the number of live keys.
func (bt *BTree) Len() int {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return len(bt.entries)
}

// search returns the index of key if present, or the insertion point and
// found=false otherwise. Caller must hold bt.mu.
func (bt *BTree) search(key []byte) (int, bool) {
	i := sort.Search(len(bt.entries), func(i int) bool {
		return bytes.Compare(bt.entries[i].key, key) >= 0
	})
	if i < len(bt.entries) && bytes.Equal(bt.entries[i].key, key) {
		return i, true
	}
	return i, false
}

// Cursor iterates entries in key order over a half-open range
// [from, to). A nil `to` iterates to the end of the keyspace.
type Cursor struct {
	bt   *BTree
	to   []byte
	pos  int
	keys [][]byte
	vals [][]byte
}

// Iter returns a restartable cursor over [from, to). Pass nil for from to
// start at the first key, nil for to to iterate to the end.
func (bt *BTree) Iter(from, to []byte) *Cursor {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	start := 0
	if from != nil {
		start, _ = bt.search(from)
	}

	// Snapshot the range now so the cursor is stable against concurrent
	// mutation once the caller's read lease is released. Callers such as
	// pkg/mtdb release the worker's lease as soon as Iter returns, so this
	// copy, not the lease, is what keeps iteration consistent.
	keys := make([][]byte, 0, len(bt.entries)-start)
	vals := make([][]byte, 0, len(bt.entries)-start)
	for i := start; i < len(bt.entries); i++ {
		if to != nil && bytes.Compare(bt.entries[i].key, to) >= 0 {
			break
		}
		keys = append(keys, bt.entries[i].key)
		vals = append(vals, bt.entries[i].value)
	}

	return &Cursor{bt: bt, to: to, keys: keys, vals: vals, pos: -1}
}

// Next advances the cursor, returning false when exhausted.
func (c *Cursor) Next() bool {
	c.pos++
	return c.pos < len(c.keys)
}

// Key returns the current entry's key.
func (c *Cursor) Key() []byte { return c.keys[c.pos] }

// Value returns the current entry's value.
func (c *Cursor) Value() []byte { return c.vals[c.pos] }

// PrefixUpperBound returns the exclusive upper bound for a prefix range
// scan, i.e. the smallest key strictly greater than every key sharing
// prefix. A nil result means "no upper bound" (prefix is all 0xFF bytes).
func PrefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

// Flush serializes the live key set to the Block Backing in page-sized
// chunks and issues the backing's durability barrier. A no-op if nothing
// has changed since the last flush.
func (bt *BTree) Flush() error {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	if !bt.dirty {
		return nil
	}
	if err := bt.writeLocked(); err != nil {
		return err
	}
	if err := bt.back.Flush(); err != nil {
		return err
	}
	bt.dirty = false
	return nil
}

// writeLocked serializes bt.entries to the backing. Caller must hold bt.mu.
//
// Page format: a 4-byte magic + 4-byte page-body-length header per page,
// followed by a body of [2-byte keylen][key][4-byte vallen][value] records
// packed until pageSize is reached, then a new page begins. Pages are
// written sequentially and are self-describing, so Load can reconstruct
// the sorted entry list by reading pages until EOF without a separate
// page directory.
func (bt *BTree) writeLocked() error {
	var page []byte
	offset := int64(0)
	flushPage := func() error {
		if len(page) == 0 {
			return nil
		}
		header := make([]byte, 8)
		binary.BigEndian.PutUint32(header[0:4], pageMagic)
		binary.BigEndian.PutUint32(header[4:8], uint32(len(page)))
		if err := bt.back.WriteAt(offset, header); err != nil {
			return err
		}
		if err := bt.back.WriteAt(offset+8, page); err != nil {
			return err
		}
		offset += 8 + int64(len(page))
		page = page[:0]
		return nil
	}

	bodyBudget := bt.pageSize
	if bodyBudget < 64 {
		bodyBudget = 64
	}

	for _, e := range bt.entries {
		rec := make([]byte, 2+len(e.key)+4+len(e.value))
		binary.BigEndian.PutUint16(rec[0:2], uint16(len(e.key)))
		copy(rec[2:], e.key)
		off := 2 + len(e.key)
		binary.BigEndian.PutUint32(rec[off:off+4], uint32(len(e.value)))
		copy(rec[off+4:], e.value)

		if len(page)+len(rec) > bodyBudget && len(page) > 0 {
			if err := flushPage(); err != nil {
				return err
			}
		}
		page = append(page, rec...)
	}
	if err := flushPage(); err != nil {
		return err
	}

	return bt.back.Truncate(offset)
}

// load reconstructs bt.entries by scanning pages sequentially from the
// backing. Every page is decoded into bt.entries; cacheSize does not bound
// how many are held. Caller must not hold bt.mu (called only from Open).
func (bt *BTree) load() error {
	size, err := bt.back.Size()
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}

	var entries []entry
	offset := int64(0)
	pagesInFlight := 0

	for offset < size {
		header := make([]byte, 8)
		if err := bt.back.ReadAt(offset, header); err != nil {
			return err
		}
		magic := binary.BigEndian.Uint32(header[0:4])
		if magic != pageMagic {
			return fmt.Errorf("btree: bad page header at offset %d: %w", offset, mtdberrors.ErrCorrupt)
		}
		bodyLen := binary.BigEndian.Uint32(header[4:8])
		body := make([]byte, bodyLen)
		if err := bt.back.ReadAt(offset+8, body); err != nil {
			return err
		}

		for pos := 0; pos < len(body); {
			if pos+2 > len(body) {
				return fmt.Errorf("btree: truncated record at offset %d: %w", offset, mtdberrors.ErrCorrupt)
			}
			klen := int(binary.BigEndian.Uint16(body[pos : pos+2]))
			pos += 2
			if pos+klen > len(body) {
				return fmt.Errorf("btree: truncated key at offset %d: %w", offset, mtdberrors.ErrCorrupt)
			}
			key := make([]byte, klen)
			copy(key, body[pos:pos+klen])
			pos += klen

			if pos+4 > len(body) {
				return fmt.Errorf("btree: truncated value length at offset %d: %w", offset, mtdberrors.ErrCorrupt)
			}
			vlen := int(binary.BigEndian.Uint32(body[pos : pos+4]))
			pos += 4
			if pos+vlen > len(body) {
				return fmt.Errorf("btree: truncated value at offset %d: %w", offset, mtdberrors.ErrCorrupt)
			}
			val := make([]byte, vlen)
			copy(val, body[pos:pos+vlen])
			pos += vlen

			entries = append(entries, entry{key: key, value: val})
		}

		offset += 8 + int64(bodyLen)

		// Page cache bound: every cacheSize pages, entries decoded so far
		// are already appended to the resident index, so there is nothing
		// further to evict here; the counter exists so future on-disk-index
		// variants of Load have a natural place to spill.
		pagesInFlight++
		if pagesInFlight >= bt.cacheSize {
			pagesInFlight = 0
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})
	bt.entries = entries
	return nil
}
