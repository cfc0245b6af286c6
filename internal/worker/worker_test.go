package worker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/staticd/internal/cache"
	"github.com/omalloc/staticd/internal/filestat"
	"github.com/omalloc/staticd/internal/httpconn"
	"github.com/omalloc/staticd/internal/pathutil"
	"github.com/omalloc/staticd/internal/readerpool"
)

// testSocketPair mirrors internal/httpconn's socketPair helper: a
// connected, non-blocking fd pair standing in for an accepted client
// connection, so the worker's state machine can be driven directly
// without a real listening socket.
func testSocketPair(t *testing.T) (client, server int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newTestWorker(t *testing.T, root string) *Worker {
	t.Helper()
	pool := readerpool.New(2, 64)
	t.Cleanup(pool.Shutdown)

	w, err := New(Config{
		StaticRoot:  root,
		MaxRequests: 64,
		IdleTimeout: 0,
		Cache:       cache.NewManager(1<<20, 64, 1<<20),
		Reader:      pool,
	})
	require.NoError(t, err)
	return w
}

func sendRequestLine(t *testing.T, fd int, raw string) {
	t.Helper()
	_, err := unix.Write(fd, []byte(raw))
	require.NoError(t, err)
}

func readAll(t *testing.T, fd int, deadline time.Duration) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 4096)
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		n, err := unix.Read(fd, buf)
		if err == nil && n > 0 {
			out = append(out, buf[:n]...)
			continue
		}
		if len(out) > 0 {
			// give the peer a short grace period in case more is in flight
			time.Sleep(5 * time.Millisecond)
			n2, err2 := unix.Read(fd, buf)
			if err2 == nil && n2 > 0 {
				out = append(out, buf[:n2]...)
				continue
			}
			return out
		}
		time.Sleep(2 * time.Millisecond)
	}
	return out
}

func TestPlanServes200ForExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello cache"), 0o644))

	w := newTestWorker(t, dir)
	client, server := testSocketPair(t)

	c := newConn(server)
	sendRequestLine(t, client, "GET /a.txt HTTP/1.1\r\nHost: x\r\n\r\n")

	res, err := c.req.Read()
	require.NoError(t, err)
	require.Equal(t, httpconn.ReadEnd, res)

	w.mu.Lock()
	w.plan(c)
	w.mu.Unlock()

	require.Equal(t, StateWaitingForBody, c.state)

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return c.state == StateWrite
	}, 2*time.Second, 5*time.Millisecond)

	for {
		w.mu.Lock()
		res, err := c.req.Write()
		w.mu.Unlock()
		require.NoError(t, err)
		if res == httpconn.WriteEnd {
			break
		}
	}

	out := readAll(t, client, time.Second)
	assert.Contains(t, string(out), "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, string(out), "Content-Length: 11\r\n")
	assert.Contains(t, string(out), "hello cache")
}

func TestPlanServesCachedHitWithoutReaderPool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("cached"), 0o644))

	w := newTestWorker(t, dir)

	// prime the cache with a first request, draining it to completion.
	client1, server1 := testSocketPair(t)
	c1 := newConn(server1)
	sendRequestLine(t, client1, "GET /b.txt HTTP/1.1\r\n\r\n")
	_, err := c1.req.Read()
	require.NoError(t, err)
	w.mu.Lock()
	w.plan(c1)
	w.mu.Unlock()
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return c1.state == StateWrite
	}, 2*time.Second, 5*time.Millisecond)

	// second request for the same path should hit the cache synchronously.
	client2, server2 := testSocketPair(t)
	c2 := newConn(server2)
	sendRequestLine(t, client2, "GET /b.txt HTTP/1.1\r\n\r\n")
	_, err = c2.req.Read()
	require.NoError(t, err)

	w.mu.Lock()
	w.plan(c2)
	w.mu.Unlock()

	assert.Equal(t, StateWrite, c2.state)
}

// TestHandleReadKeepsReadingOnPartialHeaders guards against regressing
// handleRead's default case swallowing httpconn.ReadOK: a request whose
// headers span more than one read(2) must stay in READ, not be torn down
// as ERROR, purely because the CRLFCRLF terminator hasn't arrived yet.
func TestHandleReadKeepsReadingOnPartialHeaders(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644))

	w := newTestWorker(t, dir)
	client, server := testSocketPair(t)
	c := newConn(server)

	// first segment: no CRLFCRLF terminator yet.
	sendRequestLine(t, client, "GET /a.txt HTTP/1.1\r\nHost: x\r\n")

	w.mu.Lock()
	w.handleRead(c)
	w.mu.Unlock()
	require.NotEqual(t, StateError, c.state, "partial headers must not be treated as an error")

	// second segment completes the headers.
	sendRequestLine(t, client, "\r\n")

	w.mu.Lock()
	w.handleRead(c)
	w.mu.Unlock()
	require.NotEqual(t, StateError, c.state)
	assert.NotNil(t, c.req.Parsed())
}

// TestBeginFillDoesNotBlockOnContendedWriterLock guards against the
// Worker-mutex/buffer-lock ordering bug: if some other connection already
// holds the writer lock on this exact buffer (a duplicate-key race onto
// the same cold path), beginFill must not block while the caller still
// holds the worker mutex. It should ride along as a plain reader and
// reach WRITE immediately instead of hanging in WAITING_FOR_BODY.
func TestBeginFillDoesNotBlockOnContendedWriterLock(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), []byte("contended"), 0o644))

	w := newTestWorker(t, dir)
	client, server := testSocketPair(t)
	c := newConn(server)
	sendRequestLine(t, client, "GET /c.txt HTTP/1.1\r\n\r\n")
	_, err := c.req.Read()
	require.NoError(t, err)
	require.NoError(t, c.req.Parse())

	resolved, err := pathutil.Resolve(dir, c.req.Parsed().Path)
	require.NoError(t, err)
	info, err := filestat.Stat(resolved)
	require.NoError(t, err)
	c.req.FillResponseHeader(info)

	// simulate another connection already mid-fill on this exact buffer.
	require.NoError(t, w.cfg.Cache.Create(resolved, uint64(info.Size)))
	held, ok := w.cfg.Cache.GetWriteHandle(resolved)
	require.True(t, ok)
	held.Lock()
	t.Cleanup(func() {
		held.Unlock()
		w.cfg.Cache.ReleaseWriteHandle(held)
	})

	done := make(chan struct{})
	go func() {
		w.mu.Lock()
		w.beginFill(c, resolved, resolved, info)
		w.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("beginFill blocked while holding the worker mutex")
	}

	assert.Equal(t, StateWrite, c.state)
	assert.Nil(t, c.writeHandle, "must not have queued a second fill")
}

func TestPlanServesNotFound(t *testing.T) {
	dir := t.TempDir()
	w := newTestWorker(t, dir)
	client, server := testSocketPair(t)

	c := newConn(server)
	sendRequestLine(t, client, "GET /missing.txt HTTP/1.1\r\n\r\n")
	_, err := c.req.Read()
	require.NoError(t, err)

	w.mu.Lock()
	w.plan(c)
	w.mu.Unlock()

	require.Equal(t, StateWrite, c.state)

	w.mu.Lock()
	_, err = c.req.Write()
	w.mu.Unlock()
	require.NoError(t, err)

	out := readAll(t, client, time.Second)
	assert.Contains(t, string(out), "HTTP/1.1 404 Not Found\r\n\r\n")
}

func TestPlanRejectsUnsupportedMethod(t *testing.T) {
	dir := t.TempDir()
	w := newTestWorker(t, dir)
	client, server := testSocketPair(t)

	c := newConn(server)
	sendRequestLine(t, client, "DELETE /a.txt HTTP/1.1\r\n\r\n")
	_, err := c.req.Read()
	require.NoError(t, err)

	w.mu.Lock()
	w.plan(c)
	w.mu.Unlock()

	require.Equal(t, StateWrite, c.state)

	w.mu.Lock()
	_, err = c.req.Write()
	w.mu.Unlock()
	require.NoError(t, err)

	out := readAll(t, client, time.Second)
	assert.Contains(t, string(out), "HTTP/1.1 405 Method Not Allowed\r\n\r\n")
}

func TestAddRequestRejectsOverCapacity(t *testing.T) {
	dir := t.TempDir()
	pool := readerpool.New(1, 16)
	t.Cleanup(pool.Shutdown)

	w, err := New(Config{
		StaticRoot:  dir,
		MaxRequests: 1,
		Cache:       cache.NewManager(1<<20, 16, 1<<20),
		Reader:      pool,
	})
	require.NoError(t, err)

	_, s1 := testSocketPair(t)
	require.NoError(t, w.AddRequest(s1))

	_, s2 := testSocketPair(t)
	assert.ErrorIs(t, w.AddRequest(s2), ErrShuttingDown)
}
