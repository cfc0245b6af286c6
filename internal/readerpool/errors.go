package readerpool

import "errors"

// Error kinds returned by Pool operations and carried in Response.Err,
// matching spec.md §7's enumeration.
var (
	ErrInvalidParameter    = errors.New("readerpool: invalid parameter")
	ErrShutdown            = errors.New("readerpool: pool is shutting down")
	ErrMaxRequestsExceeded = errors.New("readerpool: max_requests exceeded")
	ErrRequestNotFound     = errors.New("readerpool: request not found")
	ErrCanceled            = errors.New("readerpool: canceled")
	ErrFileNotFound        = errors.New("readerpool: file not found")
	ErrFileNotRegular      = errors.New("readerpool: not a regular file")
	ErrFileTooLarge        = errors.New("readerpool: file larger than buffer")
	ErrReadingFile         = errors.New("readerpool: error reading file")
)
