package cassandra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	connects        prometheus.Counter
	connectFailures prometheus.Counter
	disconnects     prometheus.Counter
	requests        prometheus.Counter
	framesReceived  prometheus.Counter
	eventsReceived  prometheus.Counter
	inflight        prometheus.Gauge
}

func newMetrics(r prometheus.Registerer) *metrics {
	return &metrics{
		connects: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "cassandra_conn_connects_total",
			Help: "Total number of successful connection handshakes.",
		}),
		connectFailures: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "cassandra_conn_connect_failures_total",
			Help: "Total number of failed connection attempts.",
		}),
		disconnects: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "cassandra_conn_disconnects_total",
			Help: "Total number of transport failures on an established connection.",
		}),
		requests: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "cassandra_conn_requests_total",
			Help: "Total number of requests submitted.",
		}),
		framesReceived: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "cassandra_conn_frames_received_total",
			Help: "Total number of frames decoded off the socket.",
		}),
		eventsReceived: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "cassandra_conn_events_received_total",
			Help: "Total number of server-pushed events received.",
		}),
		inflight: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "cassandra_conn_inflight_requests",
			Help: "Number of requests written to the socket and not yet replied to.",
		}),
	}
}
