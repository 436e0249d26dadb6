package cassandra

import "github.com/pkg/errors"

var (
	// ErrStopped is delivered to every pending and waiting caller when the
	// connection is stopped, and returned by calls made afterwards.
	ErrStopped = errors.New("cassandra: connection stopped")

	// ErrBusy rejects a submission whose next stream id is still pending.
	// With ~32k ids this only happens when the id space wraps onto a
	// request that has not been replied to.
	ErrBusy = errors.New("cassandra: no free stream id")
)
