package cassandra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hzamani/cassandra/pkg/cql"
)

func TestEventFanoutDeliversToAll(t *testing.T) {
	f := newEventFanout()
	a := f.subscribe()
	b := f.subscribe()

	ev := &cql.Event{Type: "STATUS_CHANGE", Change: "UP"}
	f.publish(ev)

	for _, sub := range []*EventStream{a, b} {
		select {
		case got := <-sub.Events():
			assert.Equal(t, ev, got)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestEventFanoutUnsubscribe(t *testing.T) {
	f := newEventFanout()
	a := f.subscribe()
	b := f.subscribe()
	a.Close()

	// Publish more events than a subscriber buffers. The live subscriber
	// drains them all; the dropped one must not stall the fan-out.
	const n = eventStreamBuffer + 5
	drained := make(chan int, 1)
	go func() {
		count := 0
		for range b.Events() {
			count++
			if count == n {
				break
			}
		}
		drained <- count
	}()
	for i := 0; i < n; i++ {
		f.publish(&cql.Event{Type: "STATUS_CHANGE"})
	}

	select {
	case count := <-drained:
		require.Equal(t, n, count)
	case <-time.After(time.Second):
		t.Fatal("timed out draining events")
	}
	select {
	case <-a.Events():
		t.Fatal("dropped subscriber received an event")
	default:
	}
}

func TestEventFanoutClose(t *testing.T) {
	f := newEventFanout()
	a := f.subscribe()
	f.close()

	_, ok := <-a.Events()
	assert.False(t, ok, "channel should be closed")

	// Subscribing after close yields an already-closed stream.
	b := f.subscribe()
	_, ok = <-b.Events()
	assert.False(t, ok)

	// And closing twice is fine.
	f.close()
}
