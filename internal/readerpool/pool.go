// Package readerpool implements the FileReaderPool of spec.md §4.2: a
// bounded-queue thread pool that performs blocking file reads off the
// request path and reports results via callback, with cancellation and
// drain/abort shutdown modes.
package readerpool

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/kelindar/bitmap"

	"github.com/omalloc/staticd/internal/log"
	"github.com/omalloc/staticd/internal/metrics"
)

// slot is spec.md §3's PendingFile, owned by one worker goroutine while a
// request is in flight.
type slot struct {
	mu        sync.Mutex
	requestID uuid.UUID
	req       *Request
	file      *os.File
	canceled  bool
	active    bool
}

type pendingRequest struct {
	id  uuid.UUID
	req Request
}

// Pool is the FileReaderPool of spec.md §4.2.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	maxRequests int
	pending     []pendingRequest
	slots       []*slot
	busy        bitmap.Bitmap

	shutdown bool // abrupt: cancel everything, stop accepting
	draining bool // graceful: stop accepting, let in-flight finish

	wg    sync.WaitGroup
	stats *statsTracker
	log   *log.Helper
}

// New starts workerCount reader goroutines bounded to accept at most
// maxRequests pending-or-in-flight requests at a time.
func New(workerCount, maxRequests int) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	p := &Pool{
		maxRequests: maxRequests,
		slots:       make([]*slot, workerCount),
		stats:       newStatsTracker(),
		log:         log.NewHelper(nil),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := range p.slots {
		p.slots[i] = &slot{}
	}

	p.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go p.workerLoop(i)
	}
	return p
}

// pendingTasks is len(pending queue) + busy worker slots, the invariant
// spec.md §3 requires to equal "requests not yet completed/cancelled/failed".
// Caller must hold mu.
func (p *Pool) pendingTasks() int {
	return len(p.pending) + p.busy.Count()
}

// Queue appends req to the pending queue and wakes one worker.
func (p *Pool) Queue(req Request) (uuid.UUID, error) {
	if !req.valid() {
		return uuid.UUID{}, ErrInvalidParameter
	}

	p.mu.Lock()
	if p.shutdown || p.draining {
		p.mu.Unlock()
		return uuid.UUID{}, ErrShutdown
	}
	if p.pendingTasks() >= p.maxRequests {
		p.mu.Unlock()
		return uuid.UUID{}, ErrMaxRequestsExceeded
	}

	id := uuid.New()
	p.pending = append(p.pending, pendingRequest{id: id, req: req})
	p.stats.incrTotal()
	metrics.ReaderPoolPending.Set(float64(p.pendingTasks()))
	p.mu.Unlock()

	p.cond.Signal()
	return id, nil
}

// Cancel cancels id if it is pending or in flight.
func (p *Pool) Cancel(id uuid.UUID) error {
	p.mu.Lock()

	for i, pr := range p.pending {
		if pr.id != id {
			continue
		}
		p.pending = append(p.pending[:i], p.pending[i+1:]...)
		metrics.ReaderPoolPending.Set(float64(p.pendingTasks()))
		p.mu.Unlock()

		// Run the callback on its own goroutine: Cancel may itself be
		// called by code holding a lock the callback needs (e.g. a
		// worker destroying a connection under its own mutex).
		go func() {
			pr.req.Callback(Response{RequestID: id, Path: pr.req.Path, Err: ErrCanceled})
			p.stats.incrCanceled()
		}()
		return nil
	}

	for _, sl := range p.slots {
		sl.mu.Lock()
		if sl.active && sl.requestID == id {
			sl.canceled = true
			f := sl.file
			sl.mu.Unlock()
			p.mu.Unlock()
			// Closing the fd aborts the worker's in-progress blocking read,
			// per spec.md §4.2/§9's fd-close cancellation contract.
			if f != nil {
				_ = f.Close()
			}
			return nil
		}
		sl.mu.Unlock()
	}

	p.mu.Unlock()
	return ErrRequestNotFound
}

// Shutdown cancels every pending and in-flight request, then joins all
// worker goroutines. Abrupt: nothing drains.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.shutdown = true

	drained := p.pending
	p.pending = nil
	metrics.ReaderPoolPending.Set(float64(p.pendingTasks()))

	for _, sl := range p.slots {
		sl.mu.Lock()
		if sl.active {
			sl.canceled = true
			if sl.file != nil {
				_ = sl.file.Close()
			}
		}
		sl.mu.Unlock()
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, pr := range drained {
		pr.req.Callback(Response{RequestID: pr.id, Path: pr.req.Path, Err: ErrCanceled})
		p.stats.incrCanceled()
	}

	p.wg.Wait()
}

// GracefulShutdown stops accepting new requests and waits for every
// pending and in-flight request to finish naturally, then joins.
func (p *Pool) GracefulShutdown() {
	p.mu.Lock()
	p.draining = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	pending := p.pendingTasks()
	p.mu.Unlock()
	return p.stats.snapshot(uint64(pending))
}

func (p *Pool) workerLoop(idx int) {
	defer p.wg.Done()
	sl := p.slots[idx]

	for {
		p.mu.Lock()
		for !p.shutdown && len(p.pending) == 0 {
			if p.draining {
				p.mu.Unlock()
				return
			}
			p.cond.Wait()
		}
		if len(p.pending) == 0 {
			// shutdown (or draining, handled above) with nothing left to do
			p.mu.Unlock()
			return
		}

		pr := p.pending[0]
		p.pending = p.pending[1:]

		sl.mu.Lock()
		sl.requestID = pr.id
		sl.req = &pr.req
		sl.canceled = false
		sl.file = nil
		sl.active = true
		sl.mu.Unlock()
		p.busy.Set(uint32(idx))
		metrics.ReaderPoolPending.Set(float64(p.pendingTasks()))
		p.mu.Unlock()

		resp := p.process(sl, pr.id, pr.req)

		p.mu.Lock()
		switch {
		case resp.Err == nil:
			p.stats.incrCompleted()
		case errors.Is(resp.Err, ErrCanceled):
			p.stats.incrCanceled()
		default:
			p.stats.incrFailed()
		}
		sl.mu.Lock()
		sl.active = false
		sl.req = nil
		sl.file = nil
		sl.mu.Unlock()
		p.busy.Remove(uint32(idx))
		metrics.ReaderPoolPending.Set(float64(p.pendingTasks()))
		p.mu.Unlock()

		pr.req.Callback(resp)
	}
}

// process performs the blocking open/stat/read sequence of spec.md §4.2's
// worker loop, steps 3-5.
func (p *Pool) process(sl *slot, id uuid.UUID, req Request) Response {
	f, err := os.Open(req.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Response{RequestID: id, Path: req.Path, Err: ErrFileNotFound}
		}
		return Response{RequestID: id, Path: req.Path, Err: wrapReadErr(err)}
	}

	sl.mu.Lock()
	if sl.canceled {
		sl.mu.Unlock()
		_ = f.Close()
		return Response{RequestID: id, Path: req.Path, Err: ErrCanceled}
	}
	sl.file = f
	sl.mu.Unlock()

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return Response{RequestID: id, Path: req.Path, Err: wrapReadErr(err)}
	}
	if !fi.Mode().IsRegular() {
		_ = f.Close()
		return Response{RequestID: id, Path: req.Path, Err: ErrFileNotRegular}
	}
	if fi.Size() > int64(req.BufferSize) {
		_ = f.Close()
		return Response{RequestID: id, Path: req.Path, Err: ErrFileTooLarge}
	}

	n, err := io.ReadFull(f, req.Buffer[:fi.Size()])
	_ = f.Close()

	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		sl.mu.Lock()
		canceled := sl.canceled
		sl.mu.Unlock()
		if canceled || errors.Is(err, os.ErrClosed) {
			return Response{RequestID: id, Path: req.Path, Err: ErrCanceled, BytesRead: n}
		}
		return Response{RequestID: id, Path: req.Path, Err: wrapReadErr(err), BytesRead: n}
	}

	return Response{RequestID: id, Path: req.Path, BytesRead: n}
}

func wrapReadErr(err error) error {
	return errors.Join(ErrReadingFile, err)
}
