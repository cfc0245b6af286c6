package httpconn

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Write writes any unwritten header bytes, then (under the body's read
// lock) any unwritten body bytes, per spec.md §4.3. A single call performs
// at most one write(2) for the header and, once the header is complete, at
// most one for the body; callers loop on WriteOK.
//
// The body lock is acquired with TryRLock, not RLock: Write runs with the
// owning Worker's mutex held (spec.md §4.4's HandleWrite), and the buffer
// may still be held by another connection's in-progress fill (spec.md §9's
// "writer lock held across async I/O"). Blocking here would invert the
// locking hierarchy of spec.md §5 (buffer rw-lock is level 3, Worker
// mutex level 4) and can deadlock the whole worker. When the lock isn't
// free yet, Write reports NONBLOCKED so the caller retries on the next
// readiness pass, the same way it already retries on EAGAIN.
func (r *Request) Write() (WriteResult, error) {
	if r.header == nil {
		return WriteError, errNoResponsePrepared
	}

	headerBytes := r.header.Bytes()
	if r.headerWritten < len(headerBytes) {
		n, err := unix.Write(r.FD, headerBytes[r.headerWritten:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return WriteNonblocked, nil
			}
			return WriteError, err
		}
		r.headerWritten += n
		if r.headerWritten < len(headerBytes) {
			return WriteOK, nil
		}
	}

	if r.body == nil {
		return WriteEnd, nil
	}

	if !r.body.TryRLock() {
		return WriteNonblocked, nil
	}
	defer r.body.RUnlock()

	bodyBytes := r.body.Bytes()
	if r.bodyWritten >= len(bodyBytes) {
		return WriteEnd, nil
	}

	n, err := unix.Write(r.FD, bodyBytes[r.bodyWritten:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return WriteNonblocked, nil
		}
		return WriteError, err
	}
	r.bodyWritten += n
	if r.bodyWritten >= len(bodyBytes) {
		return WriteEnd, nil
	}
	return WriteOK, nil
}

var errNoResponsePrepared = errors.New("httpconn: no response prepared")
