package dynbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferAppendGrowsAndTerminates(t *testing.T) {
	b := New(0)
	b.Append([]byte("GET /"))
	b.Append([]byte(" HTTP/1.1\r\n"))

	assert.Equal(t, "GET / HTTP/1.1\r\n", b.String())
	assert.Equal(t, byte(0), b.CString()[b.Len()])
	assert.GreaterOrEqual(t, b.Cap(), b.Len()+1)
}

func TestBufferSetReplaces(t *testing.T) {
	b := New(4)
	b.Append([]byte("hello"))
	b.Set([]byte("hi"))
	assert.Equal(t, "hi", b.String())
}

func TestBufferPrefix(t *testing.T) {
	b := New(0)
	b.Append([]byte("/index.html"))
	b.Prefix([]byte("/var/www"))
	assert.Equal(t, "/var/www/index.html", b.String())
}

func TestBufferReset(t *testing.T) {
	b := New(0)
	b.Append([]byte("abc"))
	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, "", b.String())
}
