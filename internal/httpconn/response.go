package httpconn

import (
	"strconv"

	"github.com/omalloc/staticd/internal/dynbuf"
)

// PrepareResponseOk materializes the 200 OK header, including content
// headers bound by FillResponseHeader. If method is HEAD the body is
// omitted but Content-Length still reflects the file size.
func (r *Request) PrepareResponseOk() {
	r.status = 200
	r.header = newHeaderBuffer(r.statusLine(200, "OK"))
	r.header.Append([]byte("Content-Type: " + r.pendingContentType + "\r\n"))
	r.header.Append([]byte("Content-Length: " + strconv.FormatInt(r.pendingContentLength, 10) + "\r\n"))
	r.header.Append([]byte("Date: " + rfc1123(nowFunc()) + "\r\n"))
	r.header.Append([]byte("Last-Modified: " + rfc1123(r.pendingLastModified) + "\r\n"))
	r.header.Append([]byte("\r\n"))
}

// PrepareResponseForbidden materializes a header-only 403 response.
func (r *Request) PrepareResponseForbidden() {
	r.status = 403
	r.header = newHeaderBuffer(r.statusLine(403, "Forbidden"))
	r.header.Append([]byte("\r\n"))
}

// PrepareResponseNotFound materializes a header-only 404 response.
func (r *Request) PrepareResponseNotFound() {
	r.status = 404
	r.header = newHeaderBuffer(r.statusLine(404, "Not Found"))
	r.header.Append([]byte("\r\n"))
}

// PrepareResponseUnsupportedMethod materializes a header-only 405 response.
func (r *Request) PrepareResponseUnsupportedMethod() {
	r.status = 405
	r.header = newHeaderBuffer(r.statusLine(405, "Method Not Allowed"))
	r.header.Append([]byte("\r\n"))
}

func newHeaderBuffer(statusLine string) *dynbuf.Buffer {
	b := dynbuf.New(128)
	b.Append([]byte(statusLine))
	return b
}
