//go:build linux

package listener

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/omalloc/staticd/internal/log"
)

// Dispatcher hands an accepted fd to one worker, per spec.md §4.4's
// AddRequest. Implemented by *worker.Worker in cmd/staticd's wiring.
type Dispatcher interface {
	AddRequest(fd int) error
}

// AcceptLoop blocks the listening socket's fd on a single-entry epoll set
// and round-robins accepted connections across workers until ctx is
// canceled, implementing spec.md §5's "one accept thread".
func AcceptLoop(ctx context.Context, l *Listener, workers []Dispatcher) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	defer unix.Close(epfd)

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, l.FD(), &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(l.FD()),
	}); err != nil {
		return err
	}

	logger := log.NewHelper(nil)
	events := make([]unix.EpollEvent, 16)
	next := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := unix.EpollWait(epfd, events, 500)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n <= 0 {
			continue
		}

		for {
			fd, err := l.Accept()
			if err != nil {
				if errors.Is(err, ErrWouldBlock) {
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
