package cassandra

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/hzamani/cassandra/pkg/cql"
)

// Conn is a connection to one Cassandra node. All socket and routing state
// is owned by a single loop goroutine; callers interact with it only
// through messages, so no locking is needed around the stream table or the
// receive buffer.
//
// A Conn starts disconnected and connects in the background. Requests
// submitted while disconnected wait in a queue and are dispatched once the
// handshake completes; requests in flight when the transport fails are
// re-issued on the next connection. Callers bound their own wait with the
// context they pass in. Re-issuing means a mutation whose reply was lost
// may execute twice; callers that cannot tolerate that must use short
// timeouts.
type Conn struct {
	cfg     Config
	logger  log.Logger
	metrics *metrics

	calls  chan *call
	uses   chan useRequest
	sockCh chan sockMsg

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool

	events *eventFanout

	// Loop-owned state. Nothing below is touched outside run.
	sock      net.Conn
	sockGen   int
	buf       []byte
	pending   map[int16]pendingRequest
	lastID    int16
	waiting   []pendingRequest
	retry     backoff
	keyspace  string
	reconnect <-chan time.Time
}

type call struct {
	req   cql.Request
	reply chan callReply
}

type useRequest struct {
	keyspace string
	reply    chan error
}

// sockMsg is one delivery from the reader goroutine. The generation guards
// against deliveries from a socket that has since been replaced.
type sockMsg struct {
	gen  int
	data []byte
	err  error
}

// Result is the reply to Query and Execute. One kind of result is
// populated: Rows (with Columns) for a complete result set, Stream (with
// Columns) for a paged one, Keyspace for USE, SchemaChange for DDL. All
// zero means the statement returned void.
type Result struct {
	Rows         []cql.Row
	Columns      []cql.Column
	Stream       *RowStream
	Keyspace     string
	SchemaChange *cql.SchemaChange
}

// PreparedStatement is a server-side prepared statement handle.
type PreparedStatement struct {
	ID        []byte
	Statement string
}

// New creates a connection to the configured node and starts connecting in
// the background.
func New(cfg Config, logger log.Logger, reg prometheus.Registerer) *Conn {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	cfg = cfg.withDefaults()
	c := &Conn{
		cfg:     cfg,
		logger:  log.With(logger, "component", "cassandra-conn", "addr", cfg.addr()),
		metrics: newMetrics(reg),
		calls:   make(chan *call),
		uses:    make(chan useRequest),
		sockCh:  make(chan sockMsg, 16),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		events:  newEventFanout(),
		pending: map[int16]pendingRequest{},
		lastID:  useStreamID,
		retry:   resetBackoff(),
	}
	c.keyspace = cfg.Keyspace
	go c.run()
	return c
}

// Options asks the node which startup options it supports.
func (c *Conn) Options(ctx context.Context) (map[string][]string, error) {
	value, err := c.roundTrip(ctx, cql.Options{})
	if err != nil {
		return nil, err
	}
	opts, ok := value.(map[string][]string)
	if !ok {
		return nil, errors.Errorf("cassandra: unexpected reply %T to OPTIONS", value)
	}
	return opts, nil
}

// Use switches the default keyspace. The keyspace is also re-applied after
// every reconnect. The server's reply is not waited for; Use returns once
// the connection has taken the switch.
func (c *Conn) Use(ctx context.Context, keyspace string) error {
	if c.stopped.Load() {
		return ErrStopped
	}
	req := useRequest{keyspace: keyspace, reply: make(chan error, 1)}
	select {
	case c.uses <- req:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query runs a CQL statement. A nil params uses the defaults (consistency
// ONE, page size 100). When the server pages the result, Result.Stream
// carries the rows and the follow-up pages are fetched automatically.
func (c *Conn) Query(ctx context.Context, statement string, params *cql.QueryParams) (*Result, error) {
	p := cql.DefaultQueryParams()
	if params != nil {
		p = *params
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return c.roundTripResult(ctx, cql.Query{Statement: statement, Params: p})
}

// Prepare prepares a statement on the server for later execution.
func (c *Conn) Prepare(ctx context.Context, statement string) (*PreparedStatement, error) {
	value, err := c.roundTrip(ctx, cql.Prepare{Statement: statement})
	if err != nil {
		return nil, err
	}
	prepared, ok := value.(*cql.Prepared)
	if !ok {
		return nil, errors.Errorf("cassandra: unexpected reply %T to PREPARE", value)
	}
	return &PreparedStatement{ID: prepared.ID, Statement: statement}, nil
}

// Execute runs a prepared statement. Results behave as for Query.
func (c *Conn) Execute(ctx context.Context, stmt *PreparedStatement, params *cql.QueryParams) (*Result, error) {
	p := cql.DefaultQueryParams()
	if params != nil {
		p = *params
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return c.roundTripResult(ctx, cql.Execute{ID: stmt.ID, Params: p})
}

// Register subscribes to server-pushed events. With no types given it
// subscribes to topology, status and schema changes. The returned stream
// receives every event the connection receives, of whatever type any
// Register call asked for, for the life of the connection.
func (c *Conn) Register(ctx context.Context, types ...string) (*EventStream, error) {
	if len(types) == 0 {
		types = []string{"TOPOLOGY_CHANGE", "STATUS_CHANGE", "SCHEMA_CHANGE"}
	}
	value, err := c.roundTrip(ctx, cql.Register{Types: types})
	if err != nil {
		return nil, err
	}
	stream, ok := value.(*EventStream)
	if !ok {
		return nil, errors.Errorf("cassandra: unexpected reply %T to REGISTER", value)
	}
	return stream, nil
}

// Stop shuts the connection down. Every pending and waiting caller
// receives ErrStopped, event streams are closed, and the socket is torn
// down. Stop blocks until the loop has exited.
func (c *Conn) Stop() {
	c.stopOnce.Do(func() {
		close(c.quit)
	})
	<-c.done
}

func (c *Conn) roundTripResult(ctx context.Context, req cql.Request) (*Result, error) {
	value, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	result, ok := value.(*Result)
	if !ok {
		return nil, errors.Errorf("cassandra: unexpected reply %T", value)
	}
	return result, nil
}

func (c *Conn) roundTrip(ctx context.Context, req cql.Request) (interface{}, error) {
	if c.stopped.Load() {
		return nil, ErrStopped
	}
	call := &call{req: req, reply: make(chan callReply, 1)}
	select {
	case c.calls <- call:
	case <-c.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-call.reply:
		return r.value, r.err
	case <-c.done:
		return nil, ErrStopped
	case <-ctx.Done():
		// Abandon the call. Its stream table entry stays; the eventual
		// reply lands in the buffered channel and is discarded.
		return nil, ctx.Err()
	}
}

// run is the connection actor. It owns the socket, the stream table, the
// waiting queue and the receive buffer; every mutation happens here.
func (c *Conn) run() {
	defer close(c.done)

	if fatal := c.connect(); fatal {
		c.shutdown()
		return
	}

	for {
		select {
		case call := <-c.calls:
			c.stream(call.req, singleReply{ch: call.reply})

		case use := <-c.uses:
			c.keyspace = use.keyspace
			if c.sock != nil {
				c.writeUse()
			}
			use.reply <- nil

		case msg := <-c.sockCh:
			if msg.gen != c.sockGen {
				continue // stale socket
			}
			if msg.err != nil {
				c.disconnect(msg.err)
				continue
			}
			c.buf = append(c.buf, msg.data...)
			c.decodeBuffered()

		case <-c.reconnect:
			c.reconnect = nil
			if fatal := c.connect(); fatal {
				c.shutdown()
				return
			}

		case <-c.quit:
			c.shutdown()
			return
		}
	}
}

// stream is the submission algorithm: queue while disconnected, otherwise
// allocate a stream id, write the frame and record the pending entry.
func (c *Conn) stream(req cql.Request, rep replier) {
	c.metrics.requests.Inc()
	if c.sock == nil {
		c.waiting = append(c.waiting, pendingRequest{req: req, rep: rep})
		return
	}
	id, ok := c.nextStreamID()
	if !ok {
		rep.reply(nil, ErrBusy)
		return
	}
	payload, err := cql.Encode(req, id)
	if err != nil {
		rep.reply(nil, err)
		return
	}
	if _, err := c.sock.Write(payload); err != nil {
		c.waiting = append(c.waiting, pendingRequest{req: req, rep: rep})
		c.disconnect(err)
		return
	}
	c.pending[id] = pendingRequest{req: req, rep: rep}
	c.metrics.inflight.Inc()
}

// connect dials the node and performs the handshake synchronously: STARTUP
// on stream 0, then one frame read under the configured timeout. A server
// error at this point is fatal (wrong protocol version or authentication
// required will not heal by retrying) and the return value tells run to
// stop; transport errors schedule a retry with backoff.
func (c *Conn) connect() (fatal bool) {
	sock, err := net.DialTimeout("tcp", c.cfg.addr(), c.cfg.Timeout)
	if err != nil {
		c.connectFailed(err)
		return false
	}

	startup, err := cql.Encode(cql.Startup{}, noReplyStreamID)
	if err != nil {
		sock.Close()
		c.connectFailed(err)
		return false
	}
	if _, err := sock.Write(startup); err != nil {
		sock.Close()
		c.connectFailed(err)
		return false
	}

	frame, rest, err := readFrame(sock, c.cfg.Timeout)
	if err != nil {
		sock.Close()
		c.connectFailed(err)
		return false
	}
	resp, err := cql.ParseResponse(frame)
	if err != nil {
		sock.Close()
		c.connectFailed(err)
		return false
	}
	switch resp := resp.(type) {
	case cql.Ready:
	case *cql.Error:
		level.Error(c.logger).Log("msg", "handshake rejected, stopping", "code", fmt.Sprintf("0x%04x", resp.Code), "err", resp.Message)
		sock.Close()
		return true
	default:
		sock.Close()
		c.connectFailed(errors.Errorf("cassandra: unexpected handshake reply %T", resp))
		return false
	}

	// Handshake done; switch to push mode. Bytes read past the READY frame
	// seed the receive buffer.
	c.sock = sock
	c.sockGen++
	c.buf = append([]byte(nil), rest...)
	go c.readLoop(sock, c.sockGen)

	c.metrics.connects.Inc()
	level.Info(c.logger).Log("msg", "connected")

	if c.keyspace != "" {
		c.writeUse()
	}

	// Drain the waiting queue. Should the socket drop again mid-drain,
	// stream simply re-queues the remainder.
	waiting := c.waiting
	c.waiting = nil
	for _, p := range waiting {
		c.stream(p.req, p.rep)
	}

	c.retry = resetBackoff()
	c.decodeBuffered()
	return false
}

func (c *Conn) connectFailed(err error) {
	c.metrics.connectFailures.Inc()
	delay := c.retry.next()
	level.Warn(c.logger).Log("msg", "connect failed", "err", err, "retry_in", delay)
	c.reconnect = time.After(delay)
}

// writeUse sends USE <keyspace> on the reserved stream id 1. Its reply is
// logged by the dispatcher, never routed to a caller.
func (c *Conn) writeUse() {
	req := cql.Query{
		Statement: fmt.Sprintf("USE %s", c.keyspace),
		Params:    cql.DefaultQueryParams(),
	}
	payload, err := cql.Encode(req, useStreamID)
	if err != nil {
		level.Error(c.logger).Log("msg", "failed to encode USE", "keyspace", c.keyspace, "err", err)
		return
	}
	if _, err := c.sock.Write(payload); err != nil {
		c.disconnect(err)
	}
}

// disconnect tears the transport down and keeps the work: every in-flight
// request moves back to the waiting queue to be re-issued once a new
// socket is up. Callers notice nothing unless their own context expires.
func (c *Conn) disconnect(err error) {
	level.Warn(c.logger).Log("msg", "connection lost", "err", err)
	c.metrics.disconnects.Inc()

	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	c.sockGen++
	c.buf = nil

	for id, p := range c.pending {
		c.waiting = append(c.waiting, p)
		delete(c.pending, id)
	}
	c.metrics.inflight.Set(0)
	c.lastID = useStreamID

	delay := c.retry.next()
	level.Debug(c.logger).Log("msg", "reconnecting", "retry_in", delay)
	c.reconnect = time.After(delay)
}

// shutdown ends the actor: all pending and waiting callers get ErrStopped
// and event subscribers see their channels closed.
func (c *Conn) shutdown() {
	c.stopped.Store(true)

	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	c.sockGen++

	for id, p := range c.pending {
		p.rep.reply(nil, ErrStopped)
		delete(c.pending, id)
	}
	for _, p := range c.waiting {
		p.rep.reply(nil, ErrStopped)
	}
	c.waiting = nil
	c.metrics.inflight.Set(0)

	// Calls racing with shutdown may already sit in the channels.
	for {
		select {
		case call := <-c.calls:
			call.reply <- callReply{err: ErrStopped}
		case use := <-c.uses:
			use.reply <- ErrStopped
		default:
			c.events.close()
			level.Info(c.logger).Log("msg", "stopped")
			return
		}
	}
}

// readLoop delivers raw socket bytes to the actor. It exits on the first
// read error, after reporting it.
func (c *Conn) readLoop(sock net.Conn, gen int) {
	buf := make([]byte, 8192)
	for {
		n, err := sock.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case c.sockCh <- sockMsg{gen: gen, data: data}:
			case <-c.done:
				return
			}
		}
		if err != nil {
			select {
			case c.sockCh <- sockMsg{gen: gen, err: err}:
			case <-c.done:
			}
			return
		}
	}
}

// decodeBuffered slices complete frames off the receive buffer and
// dispatches them. Frames may arrive several per delivery or split across
// arbitrarily many deliveries; whatever remains incomplete stays in the
// buffer. A malformed header is a transport error.
func (c *Conn) decodeBuffered() {
	for c.sock != nil {
		frame, rest, err := cql.Decode(c.buf)
		if err != nil {
			c.disconnect(err)
			return
		}
		if frame == nil {
			return
		}
		c.buf = rest
		c.metrics.framesReceived.Inc()
		c.dispatch(frame)
	}
}

// dispatch routes one decoded frame: events to the fan-out, the reserved
// ids to the log, everything else through the stream table.
func (c *Conn) dispatch(frame *cql.Frame) {
	switch frame.Stream {
	case eventStreamID:
		resp, err := cql.ParseResponse(frame)
		if err != nil {
			level.Warn(c.logger).Log("msg", "dropping undecodable event frame", "err", err)
			return
		}
		event, ok := resp.(*cql.Event)
		if !ok {
			level.Warn(c.logger).Log("msg", "dropping non-event frame on event stream id", "opcode", frame.Opcode)
			return
		}
		c.metrics.eventsReceived.Inc()
		c.events.publish(event)

	case noReplyStreamID:
		// Nothing awaits a reply on this id.

	case useStreamID:
		if resp, err := cql.ParseResponse(frame); err != nil {
			level.Warn(c.logger).Log("msg", "undecodable reply to USE", "err", err)
		} else if serverErr, ok := resp.(*cql.Error); ok {
			level.Error(c.logger).Log("msg", "USE rejected", "keyspace", c.keyspace, "err", serverErr)
		} else {
			level.Info(c.logger).Log("msg", "keyspace set", "keyspace", c.keyspace)
		}

	default:
		p, ok := c.pending[frame.Stream]
		if !ok {
			level.Warn(c.logger).Log("msg", "dropping reply for unknown stream id", "stream", frame.Stream, "opcode", frame.Opcode)
			return
		}
		delete(c.pending, frame.Stream)
		c.metrics.inflight.Dec()
		c.deliver(p, frame)
	}
}

func (c *Conn) deliver(p pendingRequest, frame *cql.Frame) {
	resp, err := cql.ParseResponse(frame)
	if err != nil {
		p.rep.reply(nil, err)
		return
	}
	switch resp := resp.(type) {
	case *cql.Rows:
		c.deliverRows(p, resp)
	case cql.Void:
		p.rep.reply(&Result{}, nil)
	case cql.Ready:
		if _, isRegister := p.req.(cql.Register); isRegister {
			p.rep.reply(c.events.subscribe(), nil)
		} else {
			p.rep.reply(resp, nil)
		}
	case *cql.Error:
		p.rep.reply(nil, resp)
	case *cql.Supported:
		p.rep.reply(resp.Options, nil)
	case *cql.Prepared:
		p.rep.reply(resp, nil)
	case *cql.SetKeyspace:
		p.rep.reply(&Result{Keyspace: resp.Keyspace}, nil)
	case *cql.SchemaChange:
		p.rep.reply(&Result{SchemaChange: resp}, nil)
	default:
		p.rep.reply(resp, nil)
	}
}

// deliverRows handles a rows result. A page carrying a paging state turns
// the caller's one-shot reply into a row stream and immediately requests
// the next page under the same stream; the final page closes it.
func (c *Conn) deliverRows(p pendingRequest, rows *cql.Rows) {
	if rows.PagingState == nil {
		if sr, ok := p.rep.(streamReply); ok {
			sr.stream.push(rows.Content)
			sr.stream.close(nil)
			return
		}
		p.rep.reply(&Result{Rows: rows.Content, Columns: rows.Columns}, nil)
		return
	}

	sr, ok := p.rep.(streamReply)
	if !ok {
		stream := newRowStream(rows.Columns)
		p.rep.reply(&Result{Stream: stream, Columns: rows.Columns}, nil)
		sr = streamReply{stream: stream}
	}
	sr.stream.push(rows.Content)

	next, err := pagingFollowUp(p.req, rows.PagingState)
	if err != nil {
		sr.stream.close(err)
		return
	}
	c.stream(next, sr)
}

// pagingFollowUp clones the original request with the server's
// continuation token, so the next page runs under a fresh stream id.
func pagingFollowUp(req cql.Request, state []byte) (cql.Request, error) {
	switch req := req.(type) {
	case cql.Query:
		req.Params.PagingState = state
		return req, nil
	case cql.Execute:
		req.Params.PagingState = state
		return req, nil
	default:
		return nil, errors.Errorf("cassandra: paged result for %T request", req)
	}
}

// readFrame reads exactly one frame synchronously, for the handshake. Any
// bytes past the frame are returned so they can seed the receive buffer.
func readFrame(sock net.Conn, timeout time.Duration) (*cql.Frame, []byte, error) {
	if err := sock.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, err
	}
	defer sock.SetReadDeadline(time.Time{})

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		frame, rest, err := cql.Decode(buf)
		if err != nil {
			return nil, nil, err
		}
		if frame != nil {
			return frame, rest, nil
		}
		n, err := sock.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
	}
}
