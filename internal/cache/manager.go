// Package cache implements the keyed, reference-counted buffer store of
// spec.md §4.1: at most one authoritative buffer per key, read/write
// handles, and approximate-LRU eviction of unreferenced buffers.
package cache

import (
	"sort"
	"sync"

	"github.com/kelindar/bitmap"

	"github.com/omalloc/staticd/internal/metrics"
)

// Manager is the CacheManager of spec.md §3/§4.1. buckets is a fixed-size
// open hash table with separate chaining, sized to maxEntries (the bucket
// count also serving as the hash-table size, per spec.md §4.1's bucket
// allocation rationale).
type Manager struct {
	mu sync.Mutex

	maxMemory     uint64
	maxEntries    int
	maxBufferSize uint64

	usedMemory uint64
	entryCount int
	buckets    [][]*buffer

	// occupied tracks which bucket indices currently hold >=1 live entry,
	// letting eviction and Destroy skip empty chains without scanning them,
	// the same bookkeeping shortcut the teacher's pkg/iobuf/blockfile.go
	// uses bitmap.Bitmap for over byte ranges.
	occupied bitmap.Bitmap

	destroyed bool
}

// NewManager constructs a Manager with the given bounds. maxEntries also
// fixes the bucket-table size.
func NewManager(maxMemory uint64, maxEntries int, maxBufferSize uint64) *Manager {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Manager{
		maxMemory:     maxMemory,
		maxEntries:    maxEntries,
		maxBufferSize: maxBufferSize,
		buckets:       make([][]*buffer, maxEntries),
	}
}

// find returns the first buffer matching key, or nil. Caller must hold mu.
func (m *Manager) find(key string) *buffer {
	idx := bucketFor(key, len(m.buckets))
	for _, b := range m.buckets[idx] {
		if b.meta.key == key {
			return b
		}
	}
	return nil
}

// Create admits a new buffer for key, evicting unreferenced LRU entries if
// necessary. Eviction is all-or-nothing: if insufficient unreferenced
// buffers exist to satisfy the request, nothing is evicted and Create
// fails (spec.md §4.1, §8's admission-atomicity law).
func (m *Manager) Create(key string, size uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		return ErrClosed
	}
	if size > m.maxBufferSize {
		return ErrBufferSizeLimit
	}
	if m.find(key) != nil {
		return ErrDuplicateKey
	}

	if m.usedMemory+size > m.maxMemory {
		need := size - (m.maxMemory - m.usedMemory)
		if !m.evictBytes(need) {
			return ErrMemoryLimitExceeded
		}
	}
	if m.entryCount >= m.maxEntries {
		if !m.evictCount(1) {
			return ErrBufferCountExceeded
		}
	}

	// Reverify after eviction; a caller-visible bound violation here would
	// indicate a bookkeeping defect, not a normal capacity failure.
	if m.usedMemory+size > m.maxMemory {
		return ErrMemoryLimitExceeded
	}

	idx := bucketFor(key, len(m.buckets))
	buf := &buffer{
		data: make([]byte, size),
		meta: newBufferMeta(key, idx),
	}
	m.buckets[idx] = append(m.buckets[idx], buf)
	m.occupied.Set(uint32(idx))
	m.usedMemory += size
	m.entryCount++

	metrics.CacheUsedMemory.Set(float64(m.usedMemory))
	metrics.CacheEntries.Set(float64(m.entryCount))
	return nil
}

// GetReadHandle looks up key and, on a hit, increments its reference count
// and returns a ReadHandle. Returns false on a miss.
func (m *Manager) GetReadHandle(key string) (*ReadHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := m.find(key)
	if buf == nil {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	buf.meta.touch()
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return &ReadHandle{buf: buf}, true
}

// GetWriteHandle is GetReadHandle's write-oriented twin.
func (m *Manager) GetWriteHandle(key string) (*WriteHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := m.find(key)
	if buf == nil {
		return nil, false
	}
	buf.meta.touch()
	return &WriteHandle{buf: buf}, true
}

// ReleaseReadHandle decrements h's reference count. h must not be used
// afterward.
func (m *Manager) ReleaseReadHandle(h *ReadHandle) {
	if h == nil {
		return
	}
	h.buf.meta.release()
}

// ReleaseWriteHandle decrements h's reference count. h must not be used
// afterward.
func (m *Manager) ReleaseWriteHandle(h *WriteHandle) {
	if h == nil {
		return
	}
	h.buf.meta.release()
}

// Delete removes key's entry outright, regardless of LRU order, provided
// it is unreferenced. It implements spec.md §9's "failed reader fill"
// redesign: a cache entry created for a miss that then fails to fill
// should not linger as a permanently empty hit.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := bucketFor(key, len(m.buckets))
	for i, b := range m.buckets[idx] {
		if b.meta.key != key {
			continue
		}
		if b.meta.refs() != 0 {
			return ErrBuffersReferenced
		}
		m.removeAt(idx, i, uint64(len(b.data)))
		return nil
	}
	return ErrKeyNotFound
}

// Destroy refuses while any buffer is still referenced (spec.md §9's
// dangling-handle note), otherwise releases all state.
func (m *Manager) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		return nil
	}

	var stuck bool
	m.occupied.Range(func(idx uint32) {
		for _, b := range m.buckets[idx] {
			if b.meta.refs() > 0 {
				stuck = true
			}
		}
	})
	if stuck {
		return ErrBuffersReferenced
	}

	m.buckets = make([][]*buffer, len(m.buckets))
	m.occupied = bitmap.Bitmap{}
	m.usedMemory = 0
	m.entryCount = 0
	m.destroyed = true
	return nil
}

// evictionCandidate is a snapshot used to decide, then apply, deletions.
type evictionCandidate struct {
	bucket  int
	size    uint64
	lastRef int64
	buf     *buffer
}

// collectUnreferenced snapshots every currently-unreferenced buffer,
// sorted ascending by last_reference_time (spec.md §4.1's eviction
// algorithm, steps 1-2). Caller must hold mu.
func (m *Manager) collectUnreferenced() []evictionCandidate {
	var candidates []evictionCandidate
	m.occupied.Range(func(idx uint32) {
		for _, b := range m.buckets[idx] {
			b.meta.mu.Lock()
			refs := b.meta.refCount
			lastRef := b.meta.lastRef
			b.meta.mu.Unlock()
			if refs == 0 {
				candidates = append(candidates, evictionCandidate{
					bucket:  int(idx),
					size:    uint64(len(b.data)),
					lastRef: lastRef,
					buf:     b,
				})
			}
		}
	})
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].lastRef < candidates[j].lastRef
	})
	return candidates
}

// evictBytes frees at least need bytes of unreferenced buffers, or evicts
// nothing and returns false if the unreferenced set can't cover need.
// Caller must hold mu.
func (m *Manager) evictBytes(need uint64) bool {
	candidates := m.collectUnreferenced()

	var cumulative uint64
	chosen := candidates[:0:0]
	for _, c := range candidates {
		chosen = append(chosen, c)
		cumulative += c.size
		if cumulative >= need {
			break
		}
	}
	if cumulative < need {
		return false
	}
	m.applyEviction(chosen, "memory")
	return true
}

// evictCount frees exactly k unreferenced buffers (fewest-recently-used
// first), or evicts nothing and returns false if fewer than k exist.
// Caller must hold mu.
func (m *Manager) evictCount(k int) bool {
	candidates := m.collectUnreferenced()
	if len(candidates) < k {
		return false
	}
	m.applyEviction(candidates[:k], "count")
	return true
}

// applyEviction re-checks each candidate's reference count under its own
// meta mutex before deleting it (spec.md §4.1's eviction algorithm, step
// 5), since time may have passed since collectUnreferenced snapshotted it.
func (m *Manager) applyEviction(chosen []evictionCandidate, reason string) {
	for _, c := range chosen {
		if c.buf.meta.refs() != 0 {
			continue
		}
		for i, b := range m.buckets[c.bucket] {
			if b == c.buf {
				m.removeAt(c.bucket, i, c.size)
				metrics.CacheEvictions.WithLabelValues(reason).Inc()
				break
			}
		}
	}
}

// removeAt deletes the buffer at buckets[bucket][pos] and updates
// counters. Caller must hold mu.
func (m *Manager) removeAt(bucket, pos int, size uint64) {
	chain := m.buckets[bucket]
	m.buckets[bucket] = append(chain[:pos], chain[pos+1:]...)
	if len(m.buckets[bucket]) == 0 {
		m.occupied.Remove(uint32(bucket))
	}
	m.usedMemory -= size
	m.entryCount--
	metrics.CacheUsedMemory.Set(float64(m.usedMemory))
	metrics.CacheEntries.Set(float64(m.entryCount))
}

// Stats returns a point-in-time view of the manager's counters, useful for
// tests and operational introspection.
func (m *Manager) Stats() (usedMemory uint64, entryCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usedMemory, m.entryCount
}
