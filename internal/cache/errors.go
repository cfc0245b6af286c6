package cache

import "errors"

// Sentinel errors returned by Manager operations, matching the error kinds
// enumerated in spec.md §7.
var (
	ErrBufferSizeLimit     = errors.New("cache: size exceeds max_buffer_size")
	ErrMemoryLimitExceeded = errors.New("cache: not enough evictable memory")
	ErrBufferCountExceeded = errors.New("cache: max_entries reached and nothing evictable")
	ErrMemory              = errors.New("cache: allocation failed")

	// ErrDuplicateKey resolves spec.md §9's open design note: a second
	// Create for an existing key is rejected rather than silently
	// double-inserted.
	ErrDuplicateKey = errors.New("cache: key already exists")

	ErrKeyNotFound = errors.New("cache: key not found")

	// ErrBuffersReferenced resolves spec.md §9's dangling-handle note:
	// Destroy refuses while any buffer is still referenced.
	ErrBuffersReferenced = errors.New("cache: buffers still referenced")

	ErrClosed = errors.New("cache: manager destroyed")
)
