// Package cassandra maintains a client connection to a single Cassandra
// node. Many concurrent callers are multiplexed over one TCP socket using
// the protocol's stream ids; server-pushed events are surfaced on a
// separate channel; transport failures are recovered transparently with
// exponential backoff while callers keep waiting.
package cassandra

import (
	"flag"
	"net"
	"strconv"
	"time"
)

// Config for a Conn.
type Config struct {
	Host     string
	Port     int
	Timeout  time.Duration
	Keyspace string
}

// RegisterFlags adds the flags required to config this to the given FlagSet
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&cfg.Host, "cassandra.host", "127.0.0.1", "Hostname or IP of the Cassandra node.")
	f.IntVar(&cfg.Port, "cassandra.port", 9042, "Port that Cassandra is running on.")
	f.DurationVar(&cfg.Timeout, "cassandra.timeout", 5*time.Second, "Timeout for connecting and for the protocol handshake.")
	f.StringVar(&cfg.Keyspace, "cassandra.keyspace", "", "Keyspace to use; applied on every (re)connect.")
}

func (cfg *Config) withDefaults() Config {
	out := *cfg
	if out.Host == "" {
		out.Host = "127.0.0.1"
	}
	if out.Port == 0 {
		out.Port = 9042
	}
	if out.Timeout == 0 {
		out.Timeout = 5 * time.Second
	}
	return out
}

func (cfg *Config) addr() string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}
