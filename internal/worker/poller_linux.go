//go:build linux

package worker

import (
	"golang.org/x/sys/unix"
)

// epollPoller is the readiness mechanism on Linux, per spec.md §4.4 step 3-4:
// a worker re-registers its read-set and write-set each iteration and waits
// for readiness with a short timeout.
type epollPoller struct {
	fd int
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{fd: fd}, nil
}

func (p *epollPoller) add(fd int, read, write bool) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: eventMask(read, write),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) modify(fd int, read, write bool) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: eventMask(read, write),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) remove(fd int) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

func eventMask(read, write bool) uint32 {
	var mask uint32
	if read {
		mask |= unix.EPOLLIN
	}
	if write {
		mask |= unix.EPOLLOUT
	}
	return mask
}

// wait blocks up to timeoutMicros microseconds and reports which
// registered fds became readable/writable.
func (p *epollPoller) wait(timeoutMicros int) ([]readyFD, error) {
	events := make([]unix.EpollEvent, 256)
	n, err := unix.EpollWait(p.fd, events, timeoutMicros/1000)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	ready := make([]readyFD, 0, n)
	for i := 0; i < n; i++ {
		ev := events[i]
		ready = append(ready, readyFD{
			fd:    int(ev.Fd),
			read:  ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			write: ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}
	return ready, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.fd)
}
