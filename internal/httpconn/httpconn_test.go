package httpconn

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/staticd/internal/cache"
	"github.com/omalloc/staticd/internal/filestat"
)

// socketPair returns a connected, non-blocking fd pair so Read/Write can be
// exercised without a real network listener.
func socketPair(t *testing.T) (a, b int) {
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

func TestReadAccumulatesUntilHeaderEnd(t *testing.T) {
	client, server := socketPair(t)

	req := New(server)

	_, err := unix.Write(client, []byte("GET /a.html HTTP/1.1\r\nHost: "))
	require.NoError(t, err)

	res, err := req.Read()
	require.NoError(t, err)
	assert.Equal(t, ReadOK, res)

	_, err = unix.Write(client, []byte("example\r\n\r\n"))
	require.NoError(t, err)

	res, err = req.Read()
	require.NoError(t, err)
	assert.Equal(t, ReadEnd, res)
}

func TestReadNonblockedWhenNoData(t *testing.T) {
	_, server := socketPair(t)
	req := New(server)

	res, err := req.Read()
	require.NoError(t, err)
	assert.Equal(t, ReadNonblocked, res)
}

func TestParseRequestLineAndHeaders(t *testing.T) {
	client, server := socketPair(t)
	req := New(server)

	_, err := unix.Write(client, []byte(
		"GET /index.html HTTP/1.1\r\nHost: example.com\r\nUser-Agent: curl/8\r\nX-Ignored: x\r\n\r\n"))
	require.NoError(t, err)

	res, err := req.Read()
	require.NoError(t, err)
	require.Equal(t, ReadEnd, res)

	require.NoError(t, req.Parse())
	p := req.Parsed()
	require.NotNil(t, p)
	assert.Equal(t, "GET", p.Method)
	assert.Equal(t, "/index.html", p.Path)
	assert.Equal(t, "HTTP/1.1", p.Version)
	assert.Equal(t, "example.com", p.Host)
	assert.Equal(t, "curl/8", p.UserAgent)
	assert.False(t, req.UnsupportedMethod())
}

func TestParseMarksUnsupportedMethod(t *testing.T) {
	client, server := socketPair(t)
	req := New(server)

	_, err := unix.Write(client, []byte("DELETE /x HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	_, err = req.Read()
	require.NoError(t, err)

	err = req.Parse()
	assert.ErrorIs(t, err, ParseErrUnsupportedMethod)
	assert.True(t, req.UnsupportedMethod())
}

func TestParseRejectsUnsupportedVersion(t *testing.T) {
	client, server := socketPair(t)
	req := New(server)

	_, err := unix.Write(client, []byte("GET /x HTTP/2.0\r\n\r\n"))
	require.NoError(t, err)
	_, err = req.Read()
	require.NoError(t, err)

	err = req.Parse()
	assert.ErrorIs(t, err, ParseErrUnsupportedVersion)
}

func TestPrepareResponseOkWritesExpectedHeaders(t *testing.T) {
	orig := nowFunc
	fixed := time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)
	nowFunc = func() time.Time { return fixed }
	t.Cleanup(func() { nowFunc = orig })

	client, server := socketPair(t)
	req := New(server)
	req.parsed = &ParsedRequest{Method: "GET", Path: "/a.html", Version: "HTTP/1.1"}
	req.FillResponseHeader(filestat.Info{Size: 1234, LastModified: fixed})
	req.PrepareResponseOk()

	res, err := req.Write()
	require.NoError(t, err)
	assert.Equal(t, WriteEnd, res)

	buf := make([]byte, 4096)
	n, err := unix.Read(client, buf)
	require.NoError(t, err)
	got := string(buf[:n])

	assert.Contains(t, got, "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, got, "Content-Type: text/html; charset=utf-8\r\n")
	assert.Contains(t, got, "Content-Length: 1234\r\n")
	assert.Contains(t, got, "Date: Tue, 02 Jan 2024 03:04:05 GMT\r\n")
	assert.Contains(t, got, "Last-Modified: Tue, 02 Jan 2024 03:04:05 GMT\r\n")
}

func TestPrepareResponseNotFoundIsHeaderOnly(t *testing.T) {
	client, server := socketPair(t)
	req := New(server)
	req.PrepareResponseNotFound()

	_, err := req.Write()
	require.NoError(t, err)

	buf := make([]byte, 256)
	n, err := unix.Read(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 404 Not Found\r\n\r\n", string(buf[:n]))
}

// TestWriteReportsNonblockedWhenBodyLockContended guards against Write
// blocking on the body's reader lock: a Worker calls Write with its own
// mutex held (spec.md §4.4's HandleWrite), so a buffer still owned by
// another connection's in-progress fill must surface as NONBLOCKED, not
// stall the caller.
func TestWriteReportsNonblockedWhenBodyLockContended(t *testing.T) {
	client, server := socketPair(t)
	req := New(server)
	req.parsed = &ParsedRequest{Method: "GET", Path: "/a.html", Version: "HTTP/1.1"}
	req.FillResponseHeader(filestat.Info{Size: 5, LastModified: time.Now()})
	req.PrepareResponseOk()

	mgr := cache.NewManager(1<<20, 4, 1<<20)
	require.NoError(t, mgr.Create("k", 5))

	wh, ok := mgr.GetWriteHandle("k")
	require.True(t, ok)
	wh.Lock() // simulate another connection's in-progress fill
	t.Cleanup(func() {
		wh.Unlock()
		mgr.ReleaseWriteHandle(wh)
	})

	rh, ok := mgr.GetReadHandle("k")
	require.True(t, ok)
	t.Cleanup(func() { mgr.ReleaseReadHandle(rh) })
	req.AddBody(rh)

	var res WriteResult
	for i := 0; i < 10; i++ {
		var err error
		res, err = req.Write()
		require.NoError(t, err)
		if res != WriteOK {
			break
		}
	}
	assert.Equal(t, WriteNonblocked, res)

	buf := make([]byte, 4096)
	_, _ = unix.Read(client, buf)
}
