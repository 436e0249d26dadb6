package cassandra

import (
	"sync"

	"github.com/hzamani/cassandra/pkg/cql"
)

const eventStreamBuffer = 16

// EventStream is one subscription to the connection's server-pushed
// events. Every subscriber receives every event. Delivery is
// acknowledged: the connection does not dispatch further frames until
// each subscriber has accepted the event. A subscriber may lag by up to
// its channel buffer; once that is full, a subscriber that stops reading
// holds up every further frame, replies included, until it reads or is
// closed.
// Call Close to drop the subscription.
type EventStream struct {
	fanout *eventFanout
	ch     chan *cql.Event
	done   chan struct{}
	once   sync.Once
}

// Events returns the channel events are delivered on. It is closed when
// the connection stops.
func (s *EventStream) Events() <-chan *cql.Event {
	return s.ch
}

// Close drops the subscription. The Events channel stops receiving; it is
// not closed, so a concurrent receive simply blocks forever — select on
// your own cancellation signal alongside it.
func (s *EventStream) Close() {
	s.once.Do(func() {
		s.fanout.unsubscribe(s)
		close(s.done)
	})
}

// eventFanout multiplies one event onto every live subscriber.
type eventFanout struct {
	mu     sync.Mutex
	subs   []*EventStream
	closed bool
}

func newEventFanout() *eventFanout {
	return &eventFanout{}
}

func (f *eventFanout) subscribe() *EventStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &EventStream{
		fanout: f,
		ch:     make(chan *cql.Event, eventStreamBuffer),
		done:   make(chan struct{}),
	}
	if f.closed {
		close(sub.ch)
		return sub
	}
	f.subs = append(f.subs, sub)
	return sub
}

func (f *eventFanout) unsubscribe(sub *EventStream) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s == sub {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return
		}
	}
}

// publish delivers ev to every subscriber, waiting for each to accept.
func (f *eventFanout) publish(ev *cql.Event) {
	f.mu.Lock()
	subs := make([]*EventStream, len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		}
	}
}

// close ends every subscription; their Events channels are closed.
// Only the connection loop calls this, never concurrently with publish.
func (f *eventFanout) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, sub := range f.subs {
		close(sub.ch)
	}
	f.subs = nil
}
