// Package worker implements the Worker of spec.md §4.4: a per-thread
// event loop that owns a set of connections and drives each through the
// CONNECT -> READ -> (WAITING_FOR_BODY) -> WRITE -> DONE/ERROR state
// machine, dispatching I/O via a readiness mechanism (epoll on Linux).
package worker

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/omalloc/staticd/internal/accesslog"
	"github.com/omalloc/staticd/internal/cache"
	"github.com/omalloc/staticd/internal/filestat"
	"github.com/omalloc/staticd/internal/httpconn"
	"github.com/omalloc/staticd/internal/log"
	"github.com/omalloc/staticd/internal/metrics"
	"github.com/omalloc/staticd/internal/pathutil"
	"github.com/omalloc/staticd/internal/readerpool"
)

// ErrShuttingDown is returned by AddRequest once the worker has begun
// shutting down or is already at capacity.
var ErrShuttingDown = errors.New("worker: shutting down or at capacity")

// readyWaitMicros is the short readiness-wait timeout of spec.md §5
// ("order of microseconds"), bounding how late shutdown is observed.
const readyWaitMicros = 2000

// Config bundles a Worker's fixed dependencies and bounds.
type Config struct {
	StaticRoot  string
	MaxRequests int
	IdleTimeout time.Duration
	Cache       *cache.Manager
	Reader      *readerpool.Pool

	// AccessLog is optional; a nil value disables access logging.
	AccessLog *accesslog.Logger
}

// Worker is spec.md §4.4's per-thread connection driver.
type Worker struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg    Config
	conns  map[int]*conn
	poller poller

	shutdown bool
	draining bool

	started bool
	wg      sync.WaitGroup
	log     *log.Helper
}

// New constructs a Worker. Start must be called to begin its event loop.
func New(cfg Config) (*Worker, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	if cfg.AccessLog == nil {
		cfg.AccessLog = accesslog.Disabled()
	}
	w := &Worker{
		cfg:    cfg,
		conns:  make(map[int]*conn),
		poller: p,
		log:    log.NewHelper(nil),
	}
	w.cond = sync.NewCond(&w.mu)
	return w, nil
}

// AddRequest registers an already-accepted, non-blocking fd for service.
func (w *Worker) AddRequest(fd int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.shutdown || w.draining {
		return ErrShuttingDown
	}
	if len(w.conns) >= w.cfg.MaxRequests {
		return ErrShuttingDown
	}

	w.conns[fd] = newConn(fd)
	metrics.WorkerActiveRequests.Inc()
	w.cond.Signal()
	return nil
}

// Start spawns the worker's event-loop goroutine.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop()
}

// Shutdown abruptly destroys every live connection and joins the loop.
func (w *Worker) Shutdown() {
	w.mu.Lock()
	w.shutdown = true
	for fd, c := range w.conns {
		w.destroyLocked(fd, c)
	}
	w.cond.Broadcast()
	w.mu.Unlock()

	w.wg.Wait()
	_ = w.poller.close()
}

// GracefulShutdown stops accepting new connections and waits for every
// in-flight request to finish naturally before joining.
func (w *Worker) GracefulShutdown() {
	w.mu.Lock()
	w.draining = true
	w.cond.Broadcast()
	w.mu.Unlock()

	w.wg.Wait()
	_ = w.poller.close()
}

func (w *Worker) destroyLocked(fd int, c *conn) {
	_ = w.poller.remove(fd)
	w.logAccess(c)
	metrics.WorkerRequestDuration.WithLabelValues(strconv.Itoa(c.req.Status())).
		Observe(time.Since(c.startedAt).Seconds())
	_ = unix.Close(fd)
	if c.state == StateWaitingForBody {
		_ = w.cfg.Reader.Cancel(c.fillReqID)
		if c.pendingRead != nil {
			w.cfg.Cache.ReleaseReadHandle(c.pendingRead)
			c.pendingRead = nil
		}
	}
	c.req.Release(func(h *cache.ReadHandle) { w.cfg.Cache.ReleaseReadHandle(h) })
	delete(w.conns, fd)
	metrics.WorkerActiveRequests.Dec()
}

// logAccess emits one access-log entry for a connection reaching
// DONE/ERROR. A connection torn down before a request line was ever
// parsed (idle timeout, malformed input) still gets a line with an empty
// method/path, matching the teacher's access log emitting one line per
// accepted connection rather than per successfully-routed request.
func (w *Worker) logAccess(c *conn) {
	method, path := "", ""
	if p := c.req.Parsed(); p != nil {
		method, path = p.Method, p.Path
	}
	w.cfg.AccessLog.Write(accesslog.Entry{
		Method:     method,
		Path:       path,
		Status:     c.req.Status(),
		BytesSent:  int64(c.req.BytesWritten()),
		Duration:   time.Since(c.startedAt),
		RemoteAddr: peerAddr(c.fd),
	})
}

// loop is the per-iteration algorithm of spec.md §4.4.
func (w *Worker) loop() {
	defer w.wg.Done()

	for {
		w.mu.Lock()
		for len(w.conns) == 0 {
			if w.shutdown {
				w.mu.Unlock()
				return
			}
			if w.draining {
				w.mu.Unlock()
				return
			}
			w.cond.Wait()
		}

		// Advance CONNECT -> READ and (re)register readiness interest.
		for fd, c := range w.conns {
			switch c.state {
			case StateConnect:
				c.state = StateRead
				_ = w.poller.add(fd, true, false)
			case StateRead:
				_ = w.poller.modify(fd, true, false)
			case StateWrite:
				_ = w.poller.modify(fd, false, true)
			}
		}
		w.mu.Unlock()

		ready, err := w.poller.wait(readyWaitMicros)
		if err != nil {
			w.log.Errorf("readiness wait failed: %v", err)
			continue
		}

		w.mu.Lock()
		for _, r := range ready {
			c, ok := w.conns[r.fd]
			if !ok {
				continue
			}
			if r.read && c.state == StateRead {
				w.handleRead(c)
			}
			if r.write && c.state == StateWrite {
				w.handleWrite(c)
			}
		}

		now := time.Now()
		for fd, c := range w.conns {
			if c.state == StateDone || c.state == StateError {
				w.destroyLocked(fd, c)
				continue
			}
			if w.cfg.IdleTimeout > 0 && (c.state == StateRead || c.state == StateWrite) &&
				now.Sub(c.lastActivity) > w.cfg.IdleTimeout {
				c.state = StateError
				w.destroyLocked(fd, c)
			}
		}
		w.mu.Unlock()
	}
}

// handleRead is spec.md §4.4's HandleRead. Caller holds mu.
func (w *Worker) handleRead(c *conn) {
	res, err := c.req.Read()
	c.lastActivity = time.Now()

	switch res {
	case httpconn.ReadNonblocked:
		return
	case httpconn.ReadOK:
		// Bytes were appended but the header terminator hasn't arrived
		// yet (routine when headers span more than one read(2)); stay in
		// READ and wait for the next readiness pass, same as NONBLOCKED.
		return
	case httpconn.ReadEnd:
		w.plan(c)
	default:
		_ = err
		c.state = StateError
	}
}

// handleWrite is spec.md §4.4's HandleWrite. Caller holds mu.
func (w *Worker) handleWrite(c *conn) {
	res, err := c.req.Write()
	c.lastActivity = time.Now()

	switch res {
	case httpconn.WriteNonblocked:
		return
	case httpconn.WriteEnd:
		c.state = StateDone
	case httpconn.WriteOK:
		return
	default:
		_ = err
		c.state = StateError
	}
}

// plan is the planning pipeline of spec.md §4.4, run once after the
// request headers are complete. Caller holds mu.
func (w *Worker) plan(c *conn) {
	err := c.req.Parse()
	switch {
	case errors.Is(err, httpconn.ParseErrUnsupportedMethod), errors.Is(err, httpconn.ParseErrUnsupportedVersion):
		c.req.PrepareResponseUnsupportedMethod()
		c.state = StateWrite
		return
	case err != nil:
		c.state = StateError
		return
	}

	parsed := c.req.Parsed()
	if parsed.Path == "/" {
		_ = c.req.ReplacePath("/index.html")
	}
	target := c.req.Parsed().Path

	resolved, err := pathutil.Resolve(w.cfg.StaticRoot, target)
	if err != nil {
		c.req.PrepareResponseForbidden()
		c.state = StateWrite
		return
	}
	// PrefixPath mutates the HttpRequest's own path field to static root +
	// target (uncleaned), per spec.md §4.4 step 3; pathutil.Resolve (not a
	// second string concatenation) is the source of truth used for stat
	// and cache keys, so a traversal attempt never reaches the filesystem.
	_ = c.req.PrefixPath(w.cfg.StaticRoot)

	info, err := filestat.Stat(resolved)
	switch {
	case errors.Is(err, filestat.ErrNotFound):
		c.req.PrepareResponseNotFound()
		c.state = StateWrite
		return
	case errors.Is(err, filestat.ErrNotRegular):
		c.req.PrepareResponseForbidden()
		c.state = StateWrite
		return
	case err != nil:
		c.state = StateError
		return
	}

	c.req.FillResponseHeader(info)

	if parsed.Method == "HEAD" {
		c.req.PrepareResponseOk()
		c.state = StateWrite
		return
	}

	key := resolved
	if h, ok := w.cfg.Cache.GetReadHandle(key); ok {
		c.req.AddBody(h)
		c.req.PrepareResponseOk()
		c.state = StateWrite
		return
	}

	w.beginFill(c, key, resolved, info)
}

// beginFill implements spec.md §4.4 steps 8-9: admit a cache entry for a
// miss, take the writer lock across an asynchronous reader-pool read, and
// transition to WAITING_FOR_BODY. Caller holds mu.
func (w *Worker) beginFill(c *conn, key, resolved string, info filestat.Info) {
	if err := w.cfg.Cache.Create(key, uint64(info.Size)); err != nil && !errors.Is(err, cache.ErrDuplicateKey) {
		c.req.PrepareResponseForbidden()
		c.state = StateWrite
		return
	}

	wh, ok := w.cfg.Cache.GetWriteHandle(key)
	if !ok {
		c.req.PrepareResponseForbidden()
		c.state = StateWrite
		return
	}
	rh, ok := w.cfg.Cache.GetReadHandle(key)
	if !ok {
		w.cfg.Cache.ReleaseWriteHandle(wh)
		c.req.PrepareResponseForbidden()
		c.state = StateWrite
		return
	}

	// TryLock, not Lock: plan runs with the worker mutex held (loop's
	// dispatch section), and some other connection -- on this worker or
	// another -- may already own the writer lock for this exact buffer
	// (a duplicate-key race onto the same cold path, spec.md §9). Lock
	// is level 3 and the Worker mutex is level 4 in spec.md §5's
	// hierarchy, so blocking here while holding the mutex would invert
	// it and can hang the whole worker (the filler's own callback needs
	// the same mutex to release the lock). When the lock isn't free,
	// don't queue a second fill: ride along as a plain reader and let
	// the WRITE side's TryRLock (internal/httpconn/write.go) wait for
	// whichever connection is actually filling it.
	if !wh.TryLock() {
		w.cfg.Cache.ReleaseWriteHandle(wh)
		c.req.AddBody(rh)
		c.req.PrepareResponseOk()
		c.state = StateWrite
		return
	}

	if wh.Used() == int(info.Size) {
		// Another worker already filled this buffer while we were planning.
		wh.Unlock()
		w.cfg.Cache.ReleaseWriteHandle(wh)
		c.req.AddBody(rh)
		c.req.PrepareResponseOk()
		c.state = StateWrite
		return
	}

	c.writeHandle = wh
	c.fillKey = key
	c.pendingRead = rh
	c.state = StateWaitingForBody

	id, err := w.cfg.Reader.Queue(readerpool.Request{
		Path:       resolved,
		Buffer:     wh.Buffer(),
		BufferSize: wh.Size(),
		Callback:   w.fillCallback(c),
	})
	c.fillReqID = id
	if err != nil {
		wh.Unlock()
		w.cfg.Cache.ReleaseWriteHandle(wh)
		w.cfg.Cache.ReleaseReadHandle(rh)
		c.writeHandle = nil
		c.pendingRead = nil
		c.req.PrepareResponseForbidden()
		c.state = StateWrite
	}
}

// peerAddr best-efforts a "host:port" string for fd's remote end. Unix
// socketpairs used in tests, and any non-inet4 peer, yield "".
func peerAddr(fd int) string {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return ""
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		ip := in4.Addr
		return fmt.Sprintf("%d.%d.%d.%d:%d", ip[0], ip[1], ip[2], ip[3], in4.Port)
	}
	return ""
}

// fillCallback is the reader-pool callback of spec.md §4.4. It runs on a
// reader thread, so it must acquire the worker mutex before touching c;
// it never calls back into the reader pool, so it is safe to run with the
// pool mutex already released (see internal/readerpool.Pool.workerLoop).
func (w *Worker) fillCallback(c *conn) readerpool.Callback {
	return func(resp readerpool.Response) {
		w.mu.Lock()
		defer w.mu.Unlock()

		wh := c.writeHandle
		rh := c.pendingRead
		if wh == nil {
			return
		}
		c.writeHandle = nil
		c.pendingRead = nil

		if resp.Err == nil {
			wh.SetUsed(resp.BytesRead)
			wh.Unlock()
			w.cfg.Cache.ReleaseWriteHandle(wh)
			c.req.AddBody(rh)
			c.req.PrepareResponseOk()
			c.state = StateWrite
			return
		}

		wh.Unlock()
		w.cfg.Cache.ReleaseWriteHandle(wh)
		w.cfg.Cache.ReleaseReadHandle(rh)
		_ = w.cfg.Cache.Delete(c.fillKey)
		c.req.PrepareResponseForbidden()
		c.state = StateWrite
	}
}
