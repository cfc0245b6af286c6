package cache

// ReadHandle is a reference-counted, read-only borrow of a cache buffer
// (spec.md §3's ReadHandle). Exactly one Release call is expected per
// handle.
type ReadHandle struct {
	buf *buffer
}

// Key returns the cache key the handle was looked up under.
func (h *ReadHandle) Key() string { return h.buf.meta.key }

// Size returns the buffer's fixed capacity.
func (h *ReadHandle) Size() int { return len(h.buf.data) }

// Used returns the number of valid bytes currently in the buffer. Only
// meaningful while the caller holds RLock/Lock on the buffer (see §5's
// ordering guarantee: bytes and used are only complete once the writer
// lock that filled them has been released).
func (h *ReadHandle) Used() int { return h.buf.used }

// Bytes returns the valid prefix of the buffer. Same locking caveat as Used.
func (h *ReadHandle) Bytes() []byte { return h.buf.data[:h.buf.used] }

// RLock acquires the buffer's shared reader lock.
func (h *ReadHandle) RLock() { h.buf.meta.rw.RLock() }

// RUnlock releases the buffer's shared reader lock.
func (h *ReadHandle) RUnlock() { h.buf.meta.rw.RUnlock() }

// TryRLock acquires the buffer's shared reader lock without blocking,
// reporting whether it succeeded. Callers that must not block while
// holding another lock (e.g. a Worker's own mutex, per spec.md §5's
// locking hierarchy) use this instead of RLock.
func (h *ReadHandle) TryRLock() bool { return h.buf.meta.rw.TryRLock() }

// WriteHandle is a reference-counted, mutable borrow of a cache buffer
// (spec.md §3's WriteHandle).
type WriteHandle struct {
	buf *buffer
}

func (h *WriteHandle) Key() string { return h.buf.meta.key }

func (h *WriteHandle) Size() int { return len(h.buf.data) }

func (h *WriteHandle) Used() int { return h.buf.used }

// SetUsed records how many bytes of Buffer() are valid. Callers must hold
// the write lock across the fill and call SetUsed before Unlock, per
// spec.md §5's "writer lock held across async I/O" rule.
func (h *WriteHandle) SetUsed(n int) { h.buf.used = n }

// Buffer returns the full fixed-size backing array to write into.
func (h *WriteHandle) Buffer() []byte { return h.buf.data }

// Lock acquires the buffer's exclusive writer lock.
func (h *WriteHandle) Lock() { h.buf.meta.rw.Lock() }

// Unlock releases the buffer's exclusive writer lock.
func (h *WriteHandle) Unlock() { h.buf.meta.rw.Unlock() }

// TryLock acquires the buffer's exclusive writer lock without blocking,
// reporting whether it succeeded. See ReadHandle.TryRLock.
func (h *WriteHandle) TryLock() bool { return h.buf.meta.rw.TryLock() }
