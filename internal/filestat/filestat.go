// Package filestat is the one-shot metadata probe of spec.md §2: a thin
// wrapper over os.Stat that records exactly what the worker planning
// pipeline and cache-fill response headers need.
package filestat

import (
	"errors"
	"os"
	"time"
)

// Errors returned by Stat; the worker planning pipeline switches on these.
var (
	ErrNotFound   = os.ErrNotExist
	ErrNotRegular = errors.New("filestat: not a regular file")
)

// Info is the probed subset of os.FileInfo the rest of staticd needs.
type Info struct {
	Size         int64
	LastModified time.Time
}

// Stat probes path. It returns ErrNotFound if the path does not exist,
// ErrNotRegular if it exists but is not a regular file (directory, device,
// socket, ...), or the underlying error for any other failure.
func Stat(path string) (Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, ErrNotFound
		}
		return Info{}, err
	}
	if !fi.Mode().IsRegular() {
		return Info{}, ErrNotRegular
	}
	return Info{Size: fi.Size(), LastModified: fi.ModTime()}, nil
}
