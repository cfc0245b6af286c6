package worker

import (
	"time"

	"github.com/google/uuid"

	"github.com/omalloc/staticd/internal/cache"
	"github.com/omalloc/staticd/internal/httpconn"
)

// conn is one accepted connection under a Worker's management.
type conn struct {
	fd    int
	req   *httpconn.Request
	state State

	lastActivity time.Time
	startedAt    time.Time

	// writeHandle is held across an asynchronous reader-pool fill so the
	// callback (running on a reader thread) can unlock and release it.
	writeHandle *cache.WriteHandle
	fillKey     string
	fillReqID   uuid.UUID

	// pendingRead is the read handle acquired alongside writeHandle in
	// beginFill, attached to req only once the fill actually succeeds.
	pendingRead *cache.ReadHandle
}

func newConn(fd int) *conn {
	now := time.Now()
	return &conn{
		fd:           fd,
		req:          httpconn.New(fd),
		state:        StateConnect,
		lastActivity: now,
		startedAt:    now,
	}
}
