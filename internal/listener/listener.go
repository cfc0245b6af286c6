// Package listener implements the listening socket of spec.md §6: TCP,
// IPv4, INADDR_ANY, a configurable backlog, non-blocking, with accepted
// client sockets also set non-blocking before being handed to a worker.
package listener

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Listener is a raw, non-blocking IPv4 TCP listening socket.
type Listener struct {
	fd int
}

// Listen binds and listens on port across all interfaces with the given
// backlog, per spec.md §6.
func Listen(port, backlog int) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("listener: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listener: setsockopt SO_REUSEADDR: %w", err)
	}

	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listener: bind: %w", err)
	}

	if backlog <= 0 {
		backlog = 1000
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listener: listen: %w", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listener: set nonblock: %w", err)
	}

	return &Listener{fd: fd}, nil
}

// FD returns the raw listening socket descriptor, for registration with a
// readiness poller in the accept loop.
func (l *Listener) FD() int { return l.fd }

// Accept accepts one pending connection and sets it non-blocking. Returns
// ErrWouldBlock when no connection is pending.
func (l *Listener) Accept() (int, error) {
	fd, _, err := unix.Accept(l.fd)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return -1, ErrWouldBlock
		}
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// ErrWouldBlock reports that Accept had nothing pending.
var ErrWouldBlock = errors.New("listener: would block")

// Close closes the listening socket.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}
