package cassandra

import (
	"github.com/hzamani/cassandra/pkg/cql"
)

// Stream ids multiplex concurrent requests over one socket. Negative one
// marks server events, zero fire-and-forget frames, one the implicit USE
// sent after each handshake. User requests cycle through the rest.
const (
	eventStreamID   = -1
	noReplyStreamID = 0
	useStreamID     = 1

	minStreamID int16 = 2
	maxStreamID int16 = 32767
)

// replier routes a reply to the caller that issued the request: a one-shot
// channel for ordinary calls, or the row stream of a paged query.
type replier interface {
	reply(value interface{}, err error)
}

type callReply struct {
	value interface{}
	err   error
}

type singleReply struct {
	ch chan callReply
}

func (r singleReply) reply(value interface{}, err error) {
	// Buffered; if the caller timed out and went away the reply is dropped.
	r.ch <- callReply{value: value, err: err}
}

type streamReply struct {
	stream *RowStream
}

func (r streamReply) reply(value interface{}, err error) {
	if err == nil {
		err = ErrStopped
	}
	r.stream.close(err)
}

// pendingRequest pairs a written request with its replier. The request
// value is kept so it can be re-issued: as a paging follow-up, or after a
// reconnect.
type pendingRequest struct {
	req cql.Request
	rep replier
}

// nextStreamID allocates the next user stream id, wrapping back to 2
// after 32767. A collision with a still-pending id reports failure; the
// submission is rejected rather than scanning for a free id.
func (c *Conn) nextStreamID() (int16, bool) {
	id := c.lastID + 1
	if id < minStreamID || id > maxStreamID {
		id = minStreamID
	}
	if _, busy := c.pending[id]; busy {
		return 0, false
	}
	c.lastID = id
	return id, true
}
