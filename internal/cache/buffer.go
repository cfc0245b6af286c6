package cache

import (
	"sync"
	"time"
)

// nowUnix is overridden in tests to control eviction ordering deterministically.
var nowUnix = func() int64 { return time.Now().Unix() }

// bufferMeta is spec.md §3's BufferMeta: the key, precomputed bucket,
// reference count, last-reference timestamp, and the two locks guarding it
// and the bytes it describes.
type bufferMeta struct {
	key     string
	bucket  int
	mu      sync.Mutex   // guards refCount, lastRef
	rw      sync.RWMutex // guards the owning buffer's bytes and used count
	refCount int
	lastRef int64
}

func newBufferMeta(key string, bucket int) *bufferMeta {
	return &bufferMeta{key: key, bucket: bucket, lastRef: nowUnix()}
}

func (m *bufferMeta) touch() {
	m.mu.Lock()
	m.refCount++
	m.lastRef = nowUnix()
	m.mu.Unlock()
}

func (m *bufferMeta) release() {
	m.mu.Lock()
	if m.refCount > 0 {
		m.refCount--
	}
	m.mu.Unlock()
}

func (m *bufferMeta) refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refCount
}

// buffer is spec.md §3's CacheBuffer: a fixed-size byte region with a used
// count and a back-reference to its meta.
type buffer struct {
	data []byte
	used int
	meta *bufferMeta
}
