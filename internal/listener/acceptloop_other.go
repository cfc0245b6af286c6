//go:build !linux

package listener

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/omalloc/staticd/internal/log"
)

// Dispatcher hands an accepted fd to one worker, per spec.md §4.4's
// AddRequest. Implemented by *worker.Worker in cmd/staticd's wiring.
type Dispatcher interface {
	AddRequest(fd int) error
}

// AcceptLoop is the portable fallback for platforms without epoll: it
// polls Accept on a short interval rather than blocking on readiness.
func AcceptLoop(ctx context.Context, l *Listener, workers []Dispatcher) error {
	logger := log.NewHelper(nil)
	next := 0
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for {
			fd, err := l.Accept()
			if err != nil {
				if errors.Is(err, ErrWouldBlock) || errors.Is(err, unix.EAGAIN) {
					break
				}
				logger.Warnf("accept failed: %v", err)
				break
			}

			if len(workers) == 0 {
				_ = unix.Close(fd)
				continue
			}
			w := workers[next%len(workers)]
			next++
			if err := w.AddRequest(fd); err != nil {
				logger.Warnf("worker rejected connection, closing: %v", err)
				_ = unix.Close(fd)
			}
		}
	}
}
