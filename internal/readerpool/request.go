package readerpool

import "github.com/google/uuid"

// Callback receives the outcome of a queued Request exactly once.
type Callback func(Response)

// Request is spec.md §3's PendingFile payload: everything needed to
// perform one off-thread file read. The caller owns Path and Buffer for
// the entire request lifetime, until Callback returns.
type Request struct {
	Path       string
	Buffer     []byte
	BufferSize int
	Callback   Callback
	UserData   any
}

func (r Request) valid() bool {
	return r.Path != "" && r.Buffer != nil && r.BufferSize > 0 && r.Callback != nil
}

// Response is the result record handed to Callback.
type Response struct {
	RequestID uuid.UUID
	Path      string
	Err       error
	BytesRead int
}
