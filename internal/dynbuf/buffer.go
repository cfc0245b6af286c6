// Package dynbuf implements the growable, NUL-terminated byte buffer
// (spec.md §3's DynString) used for the raw request buffer and the
// assembled response header.
package dynbuf

// Buffer is a growable byte buffer maintaining data[size] == 0 and
// cap(data) >= size+1 at all times. It never shrinks.
type Buffer struct {
	data []byte
	size int
}

// New returns an empty Buffer with room for at least hint bytes plus the
// terminator.
func New(hint int) *Buffer {
	if hint < 0 {
		hint = 0
	}
	b := &Buffer{data: make([]byte, 1, hint+1)}
	return b
}

// Len returns the current size (excluding the terminator).
func (b *Buffer) Len() int { return b.size }

// Cap returns the current capacity, including room for the terminator.
func (b *Buffer) Cap() int { return cap(b.data) }

// Bytes returns the live bytes (excluding the terminator). The slice is
// only valid until the next mutating call.
func (b *Buffer) Bytes() []byte { return b.data[:b.size] }

// CString returns the live bytes including the trailing NUL.
func (b *Buffer) CString() []byte { return b.data[:b.size+1] }

// grow ensures capacity for at least n additional bytes plus the terminator.
func (b *Buffer) grow(n int) {
	need := b.size + n + 1
	if cap(b.data) >= need {
		return
	}
	newCap := cap(b.data)
	if newCap == 0 {
		newCap = 64
	}
	for newCap < need {
		newCap *= 2
	}
	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
}

// Append adds p to the end of the buffer, growing as needed, and
// re-terminates.
func (b *Buffer) Append(p []byte) {
	b.grow(len(p))
	b.data = b.data[:b.size+len(p)+1]
	copy(b.data[b.size:], p)
	b.size += len(p)
	b.data[b.size] = 0
}

// Set replaces the buffer contents with p.
func (b *Buffer) Set(p []byte) {
	b.size = 0
	b.data = b.data[:1]
	b.data[0] = 0
	b.Append(p)
}

// Prefix inserts p before the current contents.
func (b *Buffer) Prefix(p []byte) {
	old := append([]byte(nil), b.Bytes()...)
	b.Set(p)
	b.Append(old)
}

// Reset empties the buffer without releasing its backing array.
func (b *Buffer) Reset() {
	b.size = 0
	b.data = b.data[:1]
	b.data[0] = 0
}

// String is a convenience accessor for log lines and tests.
func (b *Buffer) String() string { return string(b.Bytes()) }
