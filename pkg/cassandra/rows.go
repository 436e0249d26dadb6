package cassandra

import (
	"context"
	"io"
	"sync"

	"github.com/hzamani/cassandra/pkg/cql"
)

// RowStream delivers a paged result set lazily, in server order. The
// connection pushes each page as it arrives and requests the next page
// right after, so at most one page is in flight per stream; the consumer
// pulls rows with Next until io.EOF.
//
// The producer side never blocks: pages queue internally until the
// consumer drains them.
type RowStream struct {
	cols []cql.Column

	mu     sync.Mutex
	rows   []cql.Row
	err    error
	closed bool
	ready  chan struct{}
}

func newRowStream(cols []cql.Column) *RowStream {
	return &RowStream{
		cols:  cols,
		ready: make(chan struct{}),
	}
}

// Columns describes the result columns, as reported with the first page.
func (s *RowStream) Columns() []cql.Column {
	return s.cols
}

// Next blocks until a row is available and returns it. It returns io.EOF
// once the final page has been drained, the stream error if the paging
// sequence failed, or ctx's error if the caller gives up first.
func (s *RowStream) Next(ctx context.Context) (cql.Row, error) {
	for {
		s.mu.Lock()
		if len(s.rows) > 0 {
			row := s.rows[0]
			s.rows = s.rows[1:]
			s.mu.Unlock()
			return row, nil
		}
		if s.closed {
			err := s.err
			s.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return nil, err
		}
		ready := s.ready
		s.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// All drains the stream into a slice.
func (s *RowStream) All(ctx context.Context) ([]cql.Row, error) {
	var out []cql.Row
	for {
		row, err := s.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, row)
	}
}

func (s *RowStream) push(rows []cql.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.rows = append(s.rows, rows...)
	s.wake()
}

// close ends the stream. A nil err means the final page has been
// delivered; consumers observe io.EOF after draining.
func (s *RowStream) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	s.wake()
}

func (s *RowStream) wake() {
	close(s.ready)
	s.ready = make(chan struct{})
}
