// Package httpconn implements HttpRequest, spec.md §4.3's per-connection
// request/response state: raw buffer accumulation, request-line and
// header parsing, response header assembly, and non-blocking read/write
// over a raw file descriptor.
package httpconn

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/omalloc/staticd/internal/cache"
	"github.com/omalloc/staticd/internal/contenttype"
	"github.com/omalloc/staticd/internal/dynbuf"
	"github.com/omalloc/staticd/internal/filestat"
)

// ReadResult is the outcome of Read.
type ReadResult int

const (
	ReadOK ReadResult = iota
	ReadEnd
	ReadNonblocked
	ReadError
)

// WriteResult is the outcome of Write.
type WriteResult int

const (
	WriteOK WriteResult = iota
	WriteEnd
	WriteNonblocked
	WriteError
)

var headerTerminator = []byte("\r\n\r\n")

// nowFunc is overridden in tests to produce deterministic Date headers.
var nowFunc = time.Now

// ParsedRequest is spec.md §4.3's parse output.
type ParsedRequest struct {
	Method    string
	Path      string
	Version   string
	Host      string
	UserAgent string
}

// ParseError classifies why Parse failed.
type ParseError int

const (
	ParseErrMalformed ParseError = iota
	ParseErrUnsupportedMethod
	ParseErrUnsupportedVersion
)

func (e ParseError) Error() string {
	switch e {
	case ParseErrUnsupportedMethod:
		return "httpconn: unsupported method"
	case ParseErrUnsupportedVersion:
		return "httpconn: unsupported http version"
	default:
		return "httpconn: malformed request"
	}
}

// Request owns one connection's raw request buffer, parsed fields, and
// assembled response, per spec.md §4.3.
type Request struct {
	FD int

	raw    *dynbuf.Buffer
	parsed *ParsedRequest

	unsupportedMethod bool

	header *dynbuf.Buffer

	pendingContentType   string
	pendingContentLength int64
	pendingLastModified  time.Time

	body          *cache.ReadHandle
	headerWritten int
	bodyWritten   int

	status int
}

// New wraps fd (already accepted and set non-blocking) in a fresh Request.
func New(fd int) *Request {
	return &Request{FD: fd, raw: dynbuf.New(512)}
}

// Parsed returns the parsed request, or nil if Parse has not succeeded.
func (r *Request) Parsed() *ParsedRequest { return r.parsed }

// UnsupportedMethod reports whether Parse accepted the request line but
// the method was neither GET nor HEAD.
func (r *Request) UnsupportedMethod() bool { return r.unsupportedMethod }

// Read performs one non-blocking read into the raw buffer, growing it
// geometrically, per spec.md §4.3.
func (r *Request) Read() (ReadResult, error) {
	chunk := make([]byte, 4096)
	n, err := unix.Read(r.FD, chunk)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return ReadNonblocked, nil
		}
		return ReadError, err
	}
	if n == 0 {
		return ReadError, errPeerClosed
	}
	r.raw.Append(chunk[:n])

	if bytes.Contains(r.raw.Bytes(), headerTerminator) {
		return ReadEnd, nil
	}
	return ReadOK, nil
}

var errPeerClosed = errors.New("httpconn: peer closed connection")

// ReplacePath overwrites the parsed path. Requires a successful Parse.
func (r *Request) ReplacePath(newPath string) error {
	if r.parsed == nil {
		return errNotParsed
	}
	r.parsed.Path = newPath
	return nil
}

// PrefixPath prepends prefix to the parsed path. Requires a successful Parse.
func (r *Request) PrefixPath(prefix string) error {
	if r.parsed == nil {
		return errNotParsed
	}
	r.parsed.Path = prefix + r.parsed.Path
	return nil
}

var errNotParsed = errors.New("httpconn: request not parsed")

// FillResponseHeader binds content headers from a probed file, per
// spec.md §4.3.
func (r *Request) FillResponseHeader(info filestat.Info) {
	r.pendingContentType = contenttype.FromExtension(r.parsed.Path)
	r.pendingContentLength = info.Size
	r.pendingLastModified = info.LastModified
}

// Status returns the response status code prepared by PrepareResponseXxx,
// or 0 if none has been prepared yet.
func (r *Request) Status() int { return r.status }

// BytesWritten returns the total header+body bytes written so far, for
// access logging.
func (r *Request) BytesWritten() int { return r.headerWritten + r.bodyWritten }

// AddBody attaches a cache read handle as the response body. The Request
// takes ownership and releases it on Release.
func (r *Request) AddBody(h *cache.ReadHandle) {
	r.body = h
}

// Release returns the attached body handle, if any, to its caller-supplied
// release function. Safe to call multiple times.
func (r *Request) Release(release func(*cache.ReadHandle)) {
	if r.body != nil && release != nil {
		release(r.body)
	}
	r.body = nil
}

func rfc1123(t time.Time) string {
	return t.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
}

func (r *Request) statusLine(code int, reason string) string {
	return fmt.Sprintf("HTTP/1.1 %d %s\r\n", code, reason)
}
