/*
Package ttlindex implements the in-memory TTL min-heap and its dead-entry
bookkeeping described in spec §4.4: insert is O(log n) (the durable TTL
side entry is written separately by pkg/worker through the btree, next
to each Insert call); cancel is O(1) logical
deletion through a membership set; pop_expired tolerates dead heap entries
by checking liveness on pop.
*/
package ttlindex

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/tendrl-inc-labs/microtetherdb/pkg/mtdberrors"
)

// ReservedPrefix is the single reserved byte that begins every TTL side
// entry key, guaranteeing it can never collide with a user record key
// (spec §6/§9: user keys beginning with this byte are rejected upstream
// by the Façade with ErrInvalidKey).
const ReservedPrefix = 0xFE

const ttlKeyTag = "ttl:"

// SideEntryKey builds the reserved-prefix btree key for key's TTL side entry.
func SideEntryKey(key string) []byte {
	out := make([]byte, 0, 1+len(ttlKeyTag)+len(key))
	out = append(out, ReservedPrefix)
	out = append(out, ttlKeyTag...)
	out = append(out, key...)
	return out
}

// IsReservedKey reports whether a raw btree key begins with the reserved
// TTL-entry prefix, i.e. it is not a valid user-supplied key.
func IsReservedKey(rawKey []byte) bool {
	return len(rawKey) > 0 && rawKey[0] == ReservedPrefix
}

// EncodeExpiry serialises an expiry (epoch seconds) as a fixed 8-byte
// big-endian value, the side-entry's persisted form per spec §6.
func EncodeExpiry(expiry int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(expiry))
	return b
}

// DecodeExpiry is the inverse of EncodeExpiry.
func DecodeExpiry(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("ttlindex: bad side entry length %d: %w", len(b), mtdberrors.ErrCorrupt)
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

type heapEntry struct {
	expiry int64
	key    string
}

type minHeap []heapEntry

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].expiry < h[j].expiry }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)         { *h = append(*h, x.(heapEntry)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Index is the TTL heap plus its dead-entry membership set.
type Index struct {
	mu    sync.Mutex
	h     minHeap
	alive map[string]int64 // key -> its current live expiry; absent or
	// differing expiry means the corresponding heap entry is dead.
	deadCount int
}

// New returns an empty Index.
func New() *Index {
	idx := &Index{alive: make(map[string]int64)}
	heap.Init(&idx.h)
	return idx
}

// Insert records key as expiring at expiry. Re-inserting the same key
// replaces its live TTL; the prior heap entry becomes dead and is skipped
// on pop (spec §4.4 invariant).
func (idx *Index) Insert(key string, expiry int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, existed := idx.alive[key]; existed {
		idx.deadCount++
	}
	idx.alive[key] = expiry
	heap.Push(&idx.h, heapEntry{expiry: expiry, key: key})
	idx.compactIfNeededLocked()
}

// Cancel logically removes key's TTL. O(1): the heap entry is left in
// place and skipped lazily when it reaches the top.
func (idx *Index) Cancel(key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, existed := idx.alive[key]; existed {
		delete(idx.alive, key)
		idx.deadCount++
	}
}

// PopExpired repeatedly examines the heap root; every key whose recorded
// expiry is <= now and is still the live entry for that key is returned.
// Dead entries (cancelled or superseded) are discarded silently.
func (idx *Index) PopExpired(now int64) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var expired []string
	for idx.h.Len() > 0 && idx.h[0].expiry <= now {
		top := heap.Pop(&idx.h).(heapEntry)
		liveExpiry, ok := idx.alive[top.key]
		if !ok || liveExpiry != top.expiry {
			// dead entry: already cancelled or superseded by a later Insert
			idx.deadCount--
			if idx.deadCount < 0 {
				idx.deadCount = 0
			}
			continue
		}
		delete(idx.alive, top.key)
		expired = append(expired, top.key)
	}
	return expired
}

// Clear discards every TTL entry, live or dead.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.h = idx.h[:0]
	idx.alive = make(map[string]int64)
	idx.deadCount = 0
}

// Len reports the number of live (non-dead) TTL entries.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.alive)
}

// ExpiryOf returns key's live expiry and whether it carries a TTL at all.
// A record with no live entry here either has no TTL or was already
// cancelled/deleted.
func (idx *Index) ExpiryOf(key string) (int64, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	expiry, ok := idx.alive[key]
	return expiry, ok
}

// Snapshot returns a copy of the live (key, expiry) pairs, used by tests
// to assert TTL index consistency (spec §8 law 8).
func (idx *Index) Snapshot() map[string]int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	out := make(map[string]int64, len(idx.alive))
	for k, v := range idx.alive {
		out[k] = v
	}
	return out
}

// compactFraction is the dead-entry fraction threshold above which the
// heap is rebuilt to drop dead entries (spec §9 design note).
const compactFraction = 0.5

// compactIfNeededLocked rebuilds the heap from the alive set when dead
// entries exceed compactFraction of the total. Caller must hold idx.mu.
func (idx *Index) compactIfNeededLocked() {
	total := idx.h.Len()
	if total == 0 || float64(idx.deadCount)/float64(total) <= compactFraction {
		return
	}

	fresh := make(minHeap, 0, len(idx.alive))
	for k, exp := range idx.alive {
		fresh = append(fresh, heapEntry{expiry: exp, key: k})
	}
	heap.Init(&fresh)
	idx.h = fresh
	idx.deadCount = 0
}
