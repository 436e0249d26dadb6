package cassandra

import (
	"math"
	"math/rand"
	"time"
)

const (
	minBackoff    = 500 * time.Millisecond
	maxBackoff    = 12 * time.Second
	backoffFactor = 1.6
	backoffJitter = 0.2 // total jitter width, as a fraction of the delay
)

type backoff struct {
	duration time.Duration
}

func resetBackoff() backoff {
	return backoff{duration: minBackoff}
}

// next returns the delay before the upcoming reconnect attempt and grows
// the stored duration for the one after it. The returned delay carries
// +-10% uniform jitter, rounded to a whole millisecond.
func (b *backoff) next() time.Duration {
	ms := float64(b.duration) / float64(time.Millisecond)
	jittered := math.Round(ms + (rand.Float64()-0.5)*backoffJitter*ms)

	b.duration = time.Duration(float64(b.duration) * backoffFactor)
	if b.duration > maxBackoff {
		b.duration = maxBackoff
	}
	return time.Duration(jittered) * time.Millisecond
}
